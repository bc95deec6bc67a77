package offload

import (
	"github.com/flowmesh/flowmesh/common"
	"github.com/flowmesh/flowmesh/datapath"
	"github.com/flowmesh/flowmesh/netdev"
)

// composedUFID keys the hardware entry for an (ingress, tnl-pop) pair.
func composedUFID(in *ingressFlow, tnl *tnlPopFlow) datapath.UFID {
	return in.flow.Ufid.XOR(tnl.flow.Ufid)
}

// composedPut programs one pair: the tnl-pop flow's match, expanded
// onto the ingress netdev and supplemented with the outer-header
// constraints the ingress flow matched on.
func composedPut(in *ingressFlow, tnl *tnlPopFlow, acts datapath.Actions, info *netdev.PutInfo) error {
	m := tnl.flow.Match
	m.TunnelMeta = nil

	inMatch := &in.flow.Match
	info.TunTpDst = inMatch.TpDst
	info.TunDlDst = inMatch.DlDst
	info.TunDst = inMatch.NwDst
	info.ActionFlags |= tnl.actionFlags | in.actionFlags

	return in.ingressNetdev.FlowPut(&m, acts, composedUFID(in, tnl), info)
}

func composedDel(in *ingressFlow, tnl *tnlPopFlow) error {
	return in.ingressNetdev.FlowDel(composedUFID(in, tnl))
}

func composedStat(in *ingressFlow, tnl *tnlPopFlow) (netdev.FlowStats, error) {
	return in.ingressNetdev.FlowGet(composedUFID(in, tnl))
}

// composeAll programs a new ingress flow against every tnl-pop flow in
// the aux. Two phases under the write lock: tag and program each
// target, then on any failure walk again to revert the ones that took
// and drop newly-failed orphans.
func (e *Engine) composeAll(in *ingressFlow, aux *Aux, info *netdev.PutInfo) bool {
	needRollback := false

	aux.mu.Lock()
	defer aux.mu.Unlock()

	for _, tnl := range aux.tnlPop {
		tnl.status = datapath.OffloadNone
	}

	for _, tnl := range aux.tnlPop {
		if err := composedPut(in, tnl, tnl.flow.Actions(), info); err != nil {
			needRollback = true
			tnl.status = datapath.OffloadFailed
		} else {
			tnl.status = datapath.OffloadFull
			tnl.ref++
		}
	}

	if !needRollback {
		return true
	}

	for ufid, tnl := range aux.tnlPop {
		switch tnl.status {
		case datapath.OffloadFailed:
			if tnl.ref == 0 {
				// Newly failed and composed with nothing else:
				// the tnl-pop flow has no hardware presence left.
				tnl.flow.SetOffloadStatus(datapath.OffloadFailed)
				delete(aux.tnlPop, ufid)
				tnl.free()
			} else {
				// Failed against this ingress flow yet still
				// referenced, meaning it remains composed with
				// other ingress flows.
				common.Log.Errorf("offload: tnl-pop flow %s failed to compose but has ref %d",
					tnl.flow.Ufid, tnl.ref)
				tnlPopAnomalies.Inc()
			}
		case datapath.OffloadFull:
			tnl.ref--
			if err := composedDel(in, tnl); err != nil {
				common.Log.Warnf("offload: rollback of %s: %v", composedUFID(in, tnl), err)
			}
		}
	}
	return false
}

// ingressValidate installs the mark-only form of the ingress match and
// immediately removes it again. Rejection here avoids finding out
// halfway through a cross-product.
func ingressValidate(in *ingressFlow, info *netdev.PutInfo) bool {
	m := in.flow.Match
	m.TunnelMeta = nil

	info.MarkSet = true
	err := in.ingressNetdev.FlowPut(&m, nil, in.flow.Ufid, info)
	info.MarkSet = false
	if err != nil {
		return false
	}
	common.CheckWarn(in.ingressNetdev.FlowDel(in.flow.Ufid))
	return true
}

// tunnelPopNetdev resolves the vport targeted by the list's tunnel-pop
// action, if any.
func (e *Engine) tunnelPopNetdev(acts datapath.Actions) netdev.Netdev {
	tp, found := acts.TunnelPop()
	if !found {
		return nil
	}
	return e.ports.Get(tp.Port)
}

// auxOf returns the composition state attached to a tunnel vport.
func auxOf(nd netdev.Netdev) *Aux {
	vp, ok := netdev.AsVport(nd)
	if !ok {
		return nil
	}
	aux, ok := vp.OffloadAux().(*Aux)
	if !ok {
		return nil
	}
	return aux
}

// tryIngressAdd handles an ADD whose actions pop a tunnel. Returns
// OffloadNone when the request is not an ingress composition at all.
func (e *Engine) tryIngressAdd(flow *datapath.Flow, inport netdev.Netdev, it *item, info *netdev.PutInfo) datapath.OffloadStatus {
	tnlDev := e.tunnelPopNetdev(it.actions)
	if tnlDev == nil {
		return datapath.OffloadNone
	}
	aux := auxOf(tnlDev)
	if aux == nil {
		return datapath.OffloadNone
	}

	if _, found := aux.ingressFind(flow); found {
		// The same flow observed by a second dataplane thread; let
		// the duplicate fail.
		return datapath.OffloadFailed
	}

	in := newIngressFlow(flow, inport, info.ActionFlags)
	if !ingressValidate(in, info) {
		in.free()
		return datapath.OffloadFailed
	}

	if !e.composeAll(in, aux, info) {
		in.free()
		return datapath.OffloadFailed
	}
	aux.ingressInsert(in)
	return datapath.OffloadFull
}

// delIngress tears down the whole composition the flow contributes to
// the tunnel vport's aux.
func (e *Engine) delIngress(flow *datapath.Flow, tnlDev netdev.Netdev) bool {
	aux := auxOf(tnlDev)
	if aux == nil {
		return false
	}
	in, found := aux.ingressFind(flow)
	if !found || in.flow != flow {
		return false
	}

	aux.ingressOpFlush(in)
	flow.SetOffloadStatus(datapath.OffloadNone)
	aux.ingressDel(in)
	return true
}

// ingressOpFlush removes every composed entry the ingress flow
// contributes. Driver errors are ignored, the entries are going away;
// the tnl-pop references drop with them.
func (a *Aux) ingressOpFlush(in *ingressFlow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tnl := range a.tnlPop {
		if err := composedDel(in, tnl); err == nil && tnl.ref > 0 {
			tnl.ref--
		}
	}
}

// tryDelIngress resolves the tunnel vport from the action list the
// flow was installed with and removes its composition.
func (e *Engine) tryDelIngress(flow *datapath.Flow, acts datapath.Actions) bool {
	tnlDev := e.tunnelPopNetdev(acts)
	if tnlDev == nil {
		return false
	}
	return e.delIngress(flow, tnlDev)
}

// tryIngress dispatches the ingress half of a put. A MOD whose prior
// actions popped a tunnel tears the old composition down and reports
// OffloadNone so the caller falls through to the tnl-pop and normal
// paths; no ingress composition is rebuilt for the new actions.
func (e *Engine) tryIngress(flow *datapath.Flow, inport netdev.Netdev, it *item, info *netdev.PutInfo) datapath.OffloadStatus {
	if it.op == OpAdd {
		return e.tryIngressAdd(flow, inport, it, info)
	}

	tnlDev := e.tunnelPopNetdev(it.oldActions)
	if tnlDev == nil {
		return datapath.OffloadNone
	}
	common.Log.Infof("offload: mod of ingress flow on port %d, actions now %s",
		flow.InPort, it.actions)
	e.delIngress(flow, tnlDev)
	return datapath.OffloadNone
}

// isTnlPopFlow reports whether the flow's match sits behind a tunnel
// on a vport carrying composition state.
func isTnlPopFlow(flow *datapath.Flow, inport netdev.Netdev) (*Aux, bool) {
	if !flow.Match.TunnelDstSet() {
		return nil, false
	}
	aux := auxOf(inport)
	if aux == nil {
		return nil, false
	}
	return aux, true
}

// tryTnlPop handles ADD and MOD of a post-decap flow: compose it with
// every ingress flow of the vport, rolling back on the first failure.
// An ADD finding an existing entry for the same ufid but a different
// flow handle is a duplicate from another dataplane thread and fails.
func (e *Engine) tryTnlPop(flow *datapath.Flow, inport netdev.Netdev, it *item, info *netdev.PutInfo) datapath.OffloadStatus {
	aux, ok := isTnlPopFlow(flow, inport)
	if !ok {
		return datapath.OffloadNone
	}

	// An add will not find the flow. A mod may not find it either,
	// when the previous insertion failed; insert it anyway.
	tnl, found := aux.tnlFind(flow)
	if !found {
		tnl = newTnlPopFlow(flow, info.ActionFlags)
	} else if tnl.flow != flow {
		return datapath.OffloadFailed
	}

	needRollback := false

	aux.mu.Lock()
	if found {
		// A mod re-programs every pair it is already counted for.
		tnl.ref = 0
	}
	for _, in := range aux.ingress {
		in.status = datapath.OffloadNone
	}
	for _, in := range aux.ingress {
		if err := composedPut(in, tnl, it.actions, info); err != nil {
			needRollback = true
			break
		}
		tnl.ref++
		in.status = datapath.OffloadFull
	}
	if needRollback {
		for _, in := range aux.ingress {
			if in.status == datapath.OffloadFull {
				tnl.ref--
				if err := composedDel(in, tnl); err != nil {
					common.Log.Warnf("offload: rollback of %s: %v", composedUFID(in, tnl), err)
				}
			}
		}
	}
	aux.mu.Unlock()

	if !found {
		if needRollback {
			tnl.free()
			return datapath.OffloadFailed
		}
		aux.tnlInsert(tnl)
		return datapath.OffloadFull
	}

	// mod
	if needRollback {
		aux.tnlDel(tnl)
		return datapath.OffloadFailed
	}
	return datapath.OffloadFull
}

// tryDelTnlPop removes a post-decap flow and every composed entry it
// participates in.
func (e *Engine) tryDelTnlPop(flow *datapath.Flow, inport netdev.Netdev) bool {
	aux, ok := isTnlPopFlow(flow, inport)
	if !ok {
		return false
	}
	tnl, found := aux.tnlFind(flow)
	if !found || tnl.flow != flow {
		return false
	}

	aux.tnlOpFlush(tnl)
	flow.SetOffloadStatus(datapath.OffloadNone)
	aux.tnlDel(tnl)
	return true
}

func (a *Aux) tnlOpFlush(tnl *tnlPopFlow) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, in := range a.ingress {
		if err := composedDel(in, tnl); err != nil {
			common.Log.Debugf("offload: removing %s: %v", composedUFID(in, tnl), err)
		}
	}
}
