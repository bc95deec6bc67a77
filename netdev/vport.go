package netdev

// TunnelConfig describes the tunnel a vport terminates.
type TunnelConfig struct {
	DstPort uint16
}

// OffloadAux is per-vport state owned by the offload engine; it is
// freed together with the vport carrying it.
type OffloadAux interface {
	Free()
}

// Vport is a tunnel port.
type Vport interface {
	Netdev
	TunnelConfig() *TunnelConfig
	OffloadAux() OffloadAux
	SetOffloadAux(aux OffloadAux)
}

// AsVport returns nd as a tunnel vport, if it is one.
func AsVport(nd Netdev) (Vport, bool) {
	vp, ok := nd.(Vport)
	if !ok || vp.TunnelConfig() == nil {
		return nil, false
	}
	return vp, true
}
