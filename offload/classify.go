package offload

import (
	"github.com/weaveworks/go-odp/odp"

	"github.com/flowmesh/flowmesh/datapath"
	"github.com/flowmesh/flowmesh/netdev"
)

// Feature bits derived from a flow's action list; they ride to the
// driver in PutInfo.ActionFlags and are OR-ed across the two halves of
// a composed entry.
const (
	FlagOutput uint32 = 1 << iota
	FlagVxlanDecap
	FlagVlanPush
	FlagDrop
)

// A port with no netdev behind it is a tap; hardware cannot deliver
// there.
func (e *Engine) isPortTap(port odp.VportID) bool {
	return e.ports.Get(port) == nil
}

// checkCloneActions scans a clone's nested list for fate actions. An
// output to a tap vetoes the whole flow, as it does at top level.
func (e *Engine) checkCloneActions(inner datapath.Actions, offloadable *bool) (uint32, bool) {
	var flag uint32
	for _, a := range inner {
		if out, ok := a.(datapath.OutputAction); ok {
			if e.isPortTap(out.Port) {
				return flag, false
			}
			*offloadable = true
			flag |= FlagOutput
		}
	}
	return flag, true
}

// checkActions decides whether the action list can be programmed at
// all and derives the feature flags the driver needs.
func (e *Engine) checkActions(inport netdev.Netdev, acts datapath.Actions, info *netdev.PutInfo) bool {
	offloadable := false
	var flag uint32

	if inport.Type() == "vxlan" {
		info.VxlanDecap = true
	}

	for _, a := range acts {
		switch act := a.(type) {
		case datapath.OutputAction:
			flag |= FlagOutput
			if e.isPortTap(act.Port) {
				return false
			}
			offloadable = true
		case datapath.CloneAction:
			if act.Truncated {
				return false
			}
			cloneFlag, ok := e.checkCloneActions(act.Actions, &offloadable)
			if !ok {
				return false
			}
			flag |= cloneFlag
		case datapath.TunnelPopAction:
			flag |= FlagOutput
			if tnlDev := e.ports.Get(act.Port); tnlDev != nil && tnlDev.Type() == "vxlan" {
				info.VxlanDecap = true
			}
			offloadable = true
		case datapath.PushVLANAction:
			info.VlanPush = true
			offloadable = true
		}
	}

	// No fate action at all makes this a drop flow, which is fine to
	// program.
	if len(acts) == 0 || flag&FlagOutput == 0 {
		info.Drop = true
		offloadable = true
	}

	if info.VxlanDecap {
		flag |= FlagVxlanDecap
	}
	if info.VlanPush {
		flag |= FlagVlanPush
	}
	if info.Drop {
		flag |= FlagDrop
	}
	info.ActionFlags |= flag

	return offloadable
}
