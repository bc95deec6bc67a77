package offload

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/flowmesh/flowmesh/common"
	"github.com/flowmesh/flowmesh/datapath"
	"github.com/flowmesh/flowmesh/netdev"
)

// Engine owns the offload request queue and the single worker that
// programs flows into NIC hardware. Any number of dataplane threads
// produce into the queue; every flow put and delete happens on the
// worker, so programming never runs concurrently with itself. FlowUsed
// queries drivers from its caller's goroutine.
type Engine struct {
	ports *netdev.Ports
	clock clock.Clock

	mu    sync.Mutex
	cond  *sync.Cond
	queue []*item

	processing uint32 // the worker holds an item outside the mutex
	exit       uint32
	accepting  uint32 // pause switch
	enabled    uint32 // global flow-api switch

	done chan struct{}
}

// NewEngine starts the worker immediately.
func NewEngine(ports *netdev.Ports, clk clock.Clock) *Engine {
	e := &Engine{
		ports:     ports,
		clock:     clk,
		accepting: 1,
		enabled:   1,
		done:      make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

var (
	defaultEngine *Engine
	engineOnce    sync.Once
)

// Default returns the process-wide engine, starting its worker on
// first use.
func Default(ports *netdev.Ports) *Engine {
	engineOnce.Do(func() {
		defaultEngine = NewEngine(ports, clock.New())
	})
	return defaultEngine
}

// SetFlowAPIEnabled flips the global offload switch; producers return
// silently while it is off.
func (e *Engine) SetFlowAPIEnabled(on bool) {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32(&e.enabled, v)
}

func (e *Engine) flowAPIEnabled() bool {
	return atomic.LoadUint32(&e.enabled) != 0
}

// QueuePut asks the worker to program or reprogram a flow. oldActions
// must be the pre-modification action list on OpMod; it is copied here
// because nothing keeps the caller's list alive once we return.
// Requests for a flow that already has one in flight coalesce into it.
func (e *Engine) QueuePut(flow *datapath.Flow, oldActions datapath.Actions, op Op) {
	if !e.flowAPIEnabled() || atomic.LoadUint32(&e.accepting) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if flow.OffloadStatus().InProgress() {
		return
	}
	it := newItem(flow, oldActions, op)
	if it == nil {
		return
	}
	flow.SetOffloadStatus(flow.OffloadStatus() | datapath.OffloadInProgress)
	e.append(it)
}

// QueueDel asks the worker to remove whatever hardware state the flow
// owns.
func (e *Engine) QueueDel(flow *datapath.Flow) {
	if !e.flowAPIEnabled() || atomic.LoadUint32(&e.accepting) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if flow.OffloadStatus().InProgress() {
		return
	}
	it := newItem(flow, nil, OpDel)
	if it == nil {
		return
	}
	flow.SetOffloadStatus(flow.OffloadStatus() | datapath.OffloadInProgress)
	e.append(it)
}

// append requires e.mu held.
func (e *Engine) append(it *item) {
	e.queue = append(e.queue, it)
	queueDepth.Set(float64(len(e.queue)))
	if atomic.LoadUint32(&e.processing) == 0 {
		e.cond.Signal()
	}
}

func (e *Engine) run() {
	for {
		e.mu.Lock()
		for atomic.LoadUint32(&e.exit) == 0 && len(e.queue) == 0 {
			atomic.StoreUint32(&e.processing, 0)
			e.cond.Wait()
		}
		if atomic.LoadUint32(&e.exit) != 0 {
			e.mu.Unlock()
			break
		}
		it := e.queue[0]
		e.queue = e.queue[1:]
		atomic.StoreUint32(&e.processing, 1)
		queueDepth.Set(float64(len(e.queue)))
		e.mu.Unlock()

		// Safe to read the live action list here: nothing frees
		// actions while their flow still has a request in flight.
		it.actions = it.flow.Actions()

		start := e.clock.Now()
		var err error
		switch it.op {
		case OpAdd, OpMod:
			err = e.tryOffload(it)
		case OpDel:
			err = e.offloadDel(it)
		default:
			common.Log.Errorf("offload: unreachable op %d", it.op)
		}

		result := "succeed"
		if err != nil {
			result = "failed"
			common.Log.Debugf("offload: %s of flow %s: %v", it.op, it.flow.Ufid, err)
		}
		opsTotal.WithLabelValues(it.op.String(), result).Inc()
		common.Log.Debugf("%s to %s netdev flow %s in %v",
			result, it.op, it.flow.Ufid, e.clock.Now().Sub(start))

		it.free()
	}

	// Drain: unprocessed flows go back to NONE so nothing is left
	// claiming a request is in flight.
	e.mu.Lock()
	for _, it := range e.queue {
		it.flow.SetOffloadStatus(datapath.OffloadNone)
		it.free()
	}
	e.queue = nil
	queueDepth.Set(0)
	e.mu.Unlock()

	common.Log.Infoln("offload worker exit")
	close(e.done)
}

// WaitDone returns once the worker is idle and the queue is empty,
// nudging the worker awake if items remain.
func (e *Engine) WaitDone() {
	for {
		processing := atomic.LoadUint32(&e.processing) != 0
		target := false
		if !processing {
			e.mu.Lock()
			if len(e.queue) != 0 {
				e.cond.Signal()
				target = true
			}
			e.mu.Unlock()
		}
		if processing == target {
			return
		}
		runtime.Gosched()
	}
}

// Pause stops the queue accepting new work and waits for the worker to
// drain. The return value is handed back to Resume.
func (e *Engine) Pause() bool {
	if atomic.CompareAndSwapUint32(&e.accepting, 1, 0) {
		e.WaitDone()
		return true
	}
	return false
}

func (e *Engine) Resume(prev bool) {
	var v uint32
	if prev {
		v = 1
	}
	atomic.StoreUint32(&e.accepting, v)
}

// Join stops the worker, draining queued items first.
func (e *Engine) Join() {
	e.mu.Lock()
	atomic.StoreUint32(&e.exit, 1)
	e.cond.Signal()
	e.mu.Unlock()
	<-e.done
}

// Restart spawns a fresh worker after Join.
func (e *Engine) Restart() {
	atomic.StoreUint32(&e.exit, 0)
	e.done = make(chan struct{})
	go e.run()
}

// Stop pauses producers and joins the worker; it makes the engine a
// SignalsReceiver.
func (e *Engine) Stop() error {
	e.Pause()
	e.Join()
	return nil
}

func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("queue %d, processing %t, accepting %t",
		len(e.queue),
		atomic.LoadUint32(&e.processing) != 0,
		atomic.LoadUint32(&e.accepting) != 0)
}
