package offload

import (
	"github.com/pkg/errors"

	"github.com/flowmesh/flowmesh/common"
	"github.com/flowmesh/flowmesh/datapath"
	"github.com/flowmesh/flowmesh/netdev"
)

// tryOffload handles ADD and MOD end to end: classify the actions,
// then hand the request to the ingress composition, the tnl-pop
// composition, or the normal path, whichever claims it. The flow's
// status word carries the outcome; the returned error is only for the
// worker's log.
func (e *Engine) tryOffload(it *item) error {
	flow := it.flow
	var info netdev.PutInfo

	oldStatus := flow.OffloadStatus()

	if flow.Dead() {
		flow.SetOffloadStatus(oldStatus &^ datapath.OffloadInProgress)
		return errors.New("flow is dead")
	}

	nd := e.ports.Get(flow.InPort)
	if nd == nil {
		flow.SetOffloadStatus(oldStatus &^ datapath.OffloadInProgress)
		return errors.Errorf("no netdev on port %d", flow.InPort)
	}

	if !e.checkActions(nd, it.actions, &info) {
		if it.op == OpMod && oldStatus.Offloaded() {
			// Modified into something hardware will not take:
			// remove the old entry.
			it.op = OpDel
			common.CheckWarn(e.offloadDel(it))
		}
		flow.SetOffloadStatus(datapath.OffloadFailed)
		return errors.New("actions not offloadable")
	}

	status := e.tryIngress(flow, nd, it, &info)
	if status == datapath.OffloadNone {
		status = e.tryTnlPop(flow, nd, it, &info)
	}
	var err error
	if status == datapath.OffloadNone {
		status, err = e.normalOffload(flow, nd, it, &info)
	}
	flow.SetOffloadStatus(status)

	// An offloaded flow keeps an extra reference until its entry is
	// deleted.
	if !oldStatus.Offloaded() && status.Offloaded() {
		flow.Ref()
	}

	if err == nil && status == datapath.OffloadFailed {
		err = errors.New("hardware refused the flow")
	}
	return err
}

// normalOffload programs a flow that takes part in no composition as a
// single entry under its own ufid.
func (e *Engine) normalOffload(flow *datapath.Flow, nd netdev.Netdev, it *item, info *netdev.PutInfo) (datapath.OffloadStatus, error) {
	m := flow.Match
	m.TunnelMeta = nil
	info.Version = flow.Version

	if err := nd.FlowPut(&m, it.actions, flow.Ufid, info); err != nil {
		return datapath.OffloadFailed, err
	}
	if info.ActionsOffloaded {
		return datapath.OffloadFull, nil
	}
	return datapath.OffloadMask, nil
}

// offloadDel tears down whatever hardware state the flow owns: an
// ingress composition, a tnl-pop composition, or a plain entry. The
// extra reference taken when the flow was offloaded is dropped only
// when something was actually removed.
func (e *Engine) offloadDel(it *item) error {
	flow := it.flow

	nd := e.ports.Get(flow.InPort)
	if nd == nil {
		// Ports take their hardware flows with them when removed,
		// so the only way here is a flow that was never offloaded.
		common.Log.Errorf("offload: delete of flow %s without a netdev on port %d",
			flow.Ufid, flow.InPort)
		flow.SetOffloadStatus(datapath.OffloadNone)
		return errors.Errorf("no netdev on port %d", flow.InPort)
	}

	// A mod demoted to a delete built its hardware state from the
	// prior action list.
	acts := it.actions
	if it.oldActions != nil {
		acts = it.oldActions
	}

	switch {
	case e.tryDelIngress(flow, acts):
	case e.tryDelTnlPop(flow, nd):
	default:
		err := nd.FlowDel(flow.Ufid)
		flow.SetOffloadStatus(datapath.OffloadNone)
		if err != nil {
			// Nothing was in hardware; no reference to drop.
			return err
		}
	}

	flow.Unref()
	return nil
}
