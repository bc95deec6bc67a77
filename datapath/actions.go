package datapath

import (
	"fmt"
	"strings"

	"github.com/weaveworks/go-odp/odp"
)

// Action is one attribute of a flow's action list. The offload engine
// only discriminates on the concrete type; executing actions is the
// software dataplane's business.
type Action interface {
	String() string
}

// OutputAction forwards the packet to a datapath port.
type OutputAction struct {
	Port odp.VportID
}

func (a OutputAction) String() string {
	return fmt.Sprintf("output(%d)", a.Port)
}

// TunnelPopAction decapsulates the packet and reinjects it on the
// given tunnel vport.
type TunnelPopAction struct {
	Port odp.VportID
}

func (a TunnelPopAction) String() string {
	return fmt.Sprintf("tnl_pop(%d)", a.Port)
}

// PushVLANAction pushes an 802.1Q header.
type PushVLANAction struct {
	TPID uint16
	TCI  uint16
}

func (a PushVLANAction) String() string {
	return fmt.Sprintf("push_vlan(tpid=0x%04x,tci=0x%04x)", a.TPID, a.TCI)
}

// CloneAction runs a nested action list on a copy of the packet.
// Truncated marks a clone whose inner attribute block extended past
// the enclosing attribute when the list was decoded.
type CloneAction struct {
	Actions   Actions
	Truncated bool
}

func (a CloneAction) String() string {
	if a.Truncated {
		return "clone(truncated)"
	}
	return fmt.Sprintf("clone(%s)", a.Actions)
}

type Actions []Action

// TunnelPop returns the first tunnel-pop attribute in the list.
func (as Actions) TunnelPop() (TunnelPopAction, bool) {
	for _, a := range as {
		if tp, ok := a.(TunnelPopAction); ok {
			return tp, true
		}
	}
	return TunnelPopAction{}, false
}

// Copy takes a snapshot of the list. Queued requests capture prior
// actions this way because the live list may be replaced and dropped
// while the request waits.
func (as Actions) Copy() Actions {
	if as == nil {
		return nil
	}
	return append(Actions(nil), as...)
}

func (as Actions) String() string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}
