package offload

import "github.com/flowmesh/flowmesh/datapath"

// Op is the kind of work queued for the offload worker.
type Op int

const (
	OpAdd Op = iota
	OpMod
	OpDel
)

func (op Op) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpMod:
		return "mod"
	case OpDel:
		return "delete"
	}
	return "unknown"
}

// item is one queued request. It owns a flow reference from creation
// until free. oldActions is copied at enqueue time because the live
// action list may be replaced and dropped while the item waits; the
// current list is resolved by the worker just before dispatch.
type item struct {
	flow       *datapath.Flow
	op         Op
	oldActions datapath.Actions
	actions    datapath.Actions
}

func newItem(flow *datapath.Flow, oldActions datapath.Actions, op Op) *item {
	if !flow.Ref() {
		return nil
	}
	it := &item{flow: flow, op: op}
	if oldActions != nil {
		it.oldActions = oldActions.Copy()
	}
	return it
}

func (it *item) free() {
	it.flow.Unref()
}
