package netdev

import (
	"time"

	"github.com/flowmesh/flowmesh/datapath"
)

// FlowStats are the counters a driver keeps per hardware entry.
type FlowStats struct {
	Packets uint64
	Bytes   uint64
	Used    time.Time
}

// PutInfo carries the side-band information a driver needs to program
// an entry, and reports back how much of it made it into hardware.
type PutInfo struct {
	ActionFlags uint32
	VxlanDecap  bool
	VlanPush    bool
	Drop        bool

	// MarkSet asks the driver to install a mark-only form of the
	// entry, used to validate a match before committing to it.
	MarkSet bool

	// Outer-header constraints supplemented onto a composed tunnel
	// entry.
	TunDst   [4]byte
	TunDlDst datapath.MAC
	TunTpDst uint16

	Version uint64

	// ActionsOffloaded is set by the driver when the entry's actions,
	// not just its match, were programmed.
	ActionsOffloaded bool
}

// Netdev is a registered datapath port. The Flow methods program,
// remove and query hardware entries on the port's NIC.
type Netdev interface {
	Name() string
	Type() string
	FlowPut(m *datapath.Match, actions datapath.Actions, ufid datapath.UFID, info *PutInfo) error
	FlowDel(ufid datapath.UFID) error
	FlowGet(ufid datapath.UFID) (FlowStats, error)
}
