package offload

import (
	"sync"

	"github.com/flowmesh/flowmesh/datapath"
	"github.com/flowmesh/flowmesh/netdev"
)

// Aux is the composition state of one tunnel vport: the ingress flows
// whose actions pop into the vport, and the post-decap flows matched
// on it. Every (ingress, tnl-pop) pair present here that has been
// programmed corresponds to one hardware entry keyed by the XOR of the
// two ufids.
type Aux struct {
	mu      sync.RWMutex
	ingress map[datapath.UFID]*ingressFlow
	tnlPop  map[datapath.UFID]*tnlPopFlow
}

// ingressFlow is a flow whose action list pops a tunnel. status is
// transient: it is only meaningful inside a compose/rollback pass
// under the aux write lock.
type ingressFlow struct {
	flow          *datapath.Flow
	ingressNetdev netdev.Netdev
	actionFlags   uint32
	status        datapath.OffloadStatus
}

// tnlPopFlow is a flow matched on the tunnel vport. ref counts the
// ingress flows it is currently composed with in hardware.
type tnlPopFlow struct {
	flow        *datapath.Flow
	actionFlags uint32
	ref         int
	status      datapath.OffloadStatus
}

func NewAux() *Aux {
	return &Aux{
		ingress: make(map[datapath.UFID]*ingressFlow),
		tnlPop:  make(map[datapath.UFID]*tnlPopFlow),
	}
}

// Free flushes both tables, dropping the entries' flow references.
// Called when the vport owning the aux goes away. The composed hardware
// entries, which live on the ingress netdevs, are not removed here.
func (a *Aux) Free() {
	a.ingressFlush()
	a.tnlFlush()
}

func newIngressFlow(flow *datapath.Flow, inport netdev.Netdev, actionFlags uint32) *ingressFlow {
	flow.Ref()
	return &ingressFlow{flow: flow, ingressNetdev: inport, actionFlags: actionFlags}
}

func (in *ingressFlow) free() {
	in.flow.Unref()
}

func (a *Aux) ingressFind(flow *datapath.Flow) (*ingressFlow, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	in, found := a.ingress[flow.Ufid]
	return in, found
}

func (a *Aux) ingressInsert(in *ingressFlow) {
	a.mu.Lock()
	a.ingress[in.flow.Ufid] = in
	a.mu.Unlock()
}

func (a *Aux) ingressDel(in *ingressFlow) {
	a.mu.Lock()
	delete(a.ingress, in.flow.Ufid)
	a.mu.Unlock()

	in.free()
}

func (a *Aux) ingressFlush() {
	a.mu.Lock()
	for ufid, in := range a.ingress {
		delete(a.ingress, ufid)
		in.free()
	}
	a.mu.Unlock()
}

func newTnlPopFlow(flow *datapath.Flow, actionFlags uint32) *tnlPopFlow {
	flow.Ref()
	return &tnlPopFlow{flow: flow, actionFlags: actionFlags}
}

func (tnl *tnlPopFlow) free() {
	tnl.flow.Unref()
}

func (a *Aux) tnlFind(flow *datapath.Flow) (*tnlPopFlow, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tnl, found := a.tnlPop[flow.Ufid]
	return tnl, found
}

func (a *Aux) tnlInsert(tnl *tnlPopFlow) {
	a.mu.Lock()
	a.tnlPop[tnl.flow.Ufid] = tnl
	a.mu.Unlock()
}

func (a *Aux) tnlDel(tnl *tnlPopFlow) {
	a.mu.Lock()
	delete(a.tnlPop, tnl.flow.Ufid)
	a.mu.Unlock()

	tnl.free()
}

func (a *Aux) tnlFlush() {
	a.mu.Lock()
	for ufid, tnl := range a.tnlPop {
		delete(a.tnlPop, ufid)
		tnl.free()
	}
	a.mu.Unlock()
}
