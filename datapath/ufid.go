package datapath

import "fmt"

// UFID is the 128-bit unique flow identifier assigned by the
// classifier when a flow is installed.
type UFID struct {
	Hi, Lo uint64
}

// XOR combines two ufids. It keys the hardware entry composed from an
// ingress flow and a tunnel-pop flow, and is commutative.
func (u UFID) XOR(v UFID) UFID {
	return UFID{Hi: u.Hi ^ v.Hi, Lo: u.Lo ^ v.Lo}
}

func (u UFID) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

// String renders the ufid in the same grouping as a UUID.
func (u UFID) String() string {
	return fmt.Sprintf("ufid:%08x-%04x-%04x-%04x-%04x%08x",
		uint32(u.Hi>>32), uint16(u.Hi>>16), uint16(u.Hi),
		uint16(u.Lo>>48), uint16(u.Lo>>32), uint32(u.Lo))
}
