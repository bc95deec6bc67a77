package offload

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"github.com/weaveworks/go-odp/odp"

	"github.com/flowmesh/flowmesh/datapath"
	"github.com/flowmesh/flowmesh/netdev"
)

type fixture struct {
	ports  *netdev.Ports
	nic    *netdev.Dummy // port 1, the uplink composed entries land on
	nic3   *netdev.Dummy // port 3, a plain output target
	vtep   *netdev.Dummy // port 7, vxlan vport carrying the aux
	aux    *Aux
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		ports: netdev.NewPorts(),
		nic:   netdev.NewDummy("dummy0"),
		nic3:  netdev.NewDummy("dummy3"),
		vtep:  netdev.NewDummyVxlanVport("vxlan0", 4789),
		aux:   NewAux(),
	}
	require.NoError(t, f.ports.Add(1, f.nic))
	require.NoError(t, f.ports.Add(3, f.nic3))
	f.vtep.SetOffloadAux(f.aux)
	require.NoError(t, f.ports.Add(7, f.vtep))

	f.engine = NewEngine(f.ports, clock.New())
	t.Cleanup(f.engine.Join)
	return f
}

func makeFlow(hi, lo uint64, inPort odp.VportID, match datapath.Match, acts datapath.Actions) *datapath.Flow {
	return datapath.NewFlow(datapath.UFID{Hi: hi, Lo: lo}, inPort, match, acts)
}

// ingressFlowFor makes a flow whose actions pop into the fixture's
// vxlan vport.
func ingressFlowFor(hi, lo uint64) *datapath.Flow {
	match := datapath.Match{
		DlDst: datapath.MAC{0x02, 0, 0, 0, 0, byte(lo)},
		NwDst: [4]byte{10, 0, 0, byte(lo)},
		TpDst: 4789,
	}
	return makeFlow(hi, lo, 1, match, datapath.Actions{datapath.TunnelPopAction{Port: 7}})
}

// tnlPopFlowFor makes a post-decap flow matched on the vxlan vport.
func tnlPopFlowFor(hi, lo uint64) *datapath.Flow {
	match := datapath.Match{
		DlDst:     datapath.MAC{0x02, 0, 0, 0, 1, byte(lo)},
		TunnelDst: [4]byte{10, 0, 0, 1},
	}
	return makeFlow(hi, lo, 7, match, datapath.Actions{datapath.OutputAction{Port: 3}})
}

func (f *fixture) putWait(flow *datapath.Flow, old datapath.Actions, op Op) {
	f.engine.QueuePut(flow, old, op)
	f.engine.WaitDone()
}

func (f *fixture) delWait(flow *datapath.Flow) {
	f.engine.QueueDel(flow)
	f.engine.WaitDone()
}

func TestNormalOffload(t *testing.T) {
	f := newFixture(t)

	flow := makeFlow(1, 1, 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 3}})
	f.putWait(flow, nil, OpAdd)

	require.Equal(t, datapath.OffloadFull, flow.OffloadStatus())
	require.Equal(t, 1, f.nic.PutCalls(), "expected a single driver put")
	require.True(t, f.nic.HasEntry(flow.Ufid))
	require.Equal(t, int32(2), flow.RefCount(), "an offloaded flow holds one extra reference")
}

func TestMatchOnlyOffload(t *testing.T) {
	f := newFixture(t)
	f.nic.MatchOnly = true

	flow := makeFlow(1, 2, 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 3}})
	f.putWait(flow, nil, OpAdd)

	require.Equal(t, datapath.OffloadMask, flow.OffloadStatus())
	require.Equal(t, int32(2), flow.RefCount(), "mask-only offload still pins the flow")
}

func TestTapOutputNotOffloaded(t *testing.T) {
	f := newFixture(t)

	flow := makeFlow(1, 3, 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 99}})
	f.putWait(flow, nil, OpAdd)

	require.Equal(t, datapath.OffloadFailed, flow.OffloadStatus())
	require.Equal(t, 0, f.nic.PutCalls(), "tap output must be rejected before the driver")
	require.Equal(t, int32(1), flow.RefCount())
}

func TestQueuePutCoalesces(t *testing.T) {
	f := newFixture(t)

	flow := makeFlow(1, 4, 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 3}})
	flow.SetOffloadStatus(datapath.OffloadInProgress)
	f.putWait(flow, nil, OpAdd)
	require.Equal(t, 0, f.nic.PutCalls(), "queue_put must coalesce while in progress")

	flow.SetOffloadStatus(datapath.OffloadNone)
	f.putWait(flow, nil, OpAdd)
	require.Equal(t, 1, f.nic.PutCalls())
	require.Equal(t, datapath.OffloadFull, flow.OffloadStatus())
}

func TestQueuePutDisabled(t *testing.T) {
	f := newFixture(t)
	f.engine.SetFlowAPIEnabled(false)

	flow := makeFlow(1, 5, 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 3}})
	f.putWait(flow, nil, OpAdd)

	require.Equal(t, 0, f.nic.PutCalls())
	require.Equal(t, datapath.OffloadNone, flow.OffloadStatus())
}

func TestDrainOnJoin(t *testing.T) {
	f := newFixture(t)

	// Park the worker inside a driver call so the queue backs up.
	var once sync.Once
	release := make(chan struct{})
	f.nic.RejectPut = func(ufid datapath.UFID, info *netdev.PutInfo) bool {
		once.Do(func() { <-release })
		return false
	}

	first := makeFlow(2, 0, 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 3}})
	f.engine.QueuePut(first, nil, OpAdd)

	flows := make([]*datapath.Flow, 10)
	for i := range flows {
		flows[i] = makeFlow(2, uint64(i+1), 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 3}})
		f.engine.QueuePut(flows[i], nil, OpAdd)
	}

	go func() {
		// Give Join time to raise the exit flag before the worker
		// gets going again.
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()
	f.engine.Join()

	require.False(t, first.OffloadStatus().InProgress())
	for _, flow := range flows {
		require.Equal(t, datapath.OffloadNone, flow.OffloadStatus(),
			"drained flows must be reset to NONE")
		require.Equal(t, int32(1), flow.RefCount())
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)

	prev := f.engine.Pause()
	require.True(t, prev)
	require.False(t, f.engine.Pause(), "second pause must see the switch already off")

	flow := makeFlow(3, 1, 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 3}})
	f.engine.QueuePut(flow, nil, OpAdd)
	require.Equal(t, datapath.OffloadNone, flow.OffloadStatus(), "puts are dropped while paused")

	f.engine.Resume(prev)
	f.putWait(flow, nil, OpAdd)
	require.Equal(t, datapath.OffloadFull, flow.OffloadStatus())
	require.Equal(t, 1, f.nic.PutCalls())
}

func TestJoinRestart(t *testing.T) {
	f := newFixture(t)

	f.engine.Join()
	f.engine.Restart()

	flow := makeFlow(3, 2, 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 3}})
	f.putWait(flow, nil, OpAdd)
	require.Equal(t, datapath.OffloadFull, flow.OffloadStatus())
}

func TestModToUnoffloadableDeletes(t *testing.T) {
	f := newFixture(t)

	flow := makeFlow(3, 3, 1, datapath.Match{}, datapath.Actions{datapath.OutputAction{Port: 3}})
	f.putWait(flow, nil, OpAdd)
	require.Equal(t, datapath.OffloadFull, flow.OffloadStatus())

	old := flow.Actions()
	flow.SetActions(datapath.Actions{datapath.OutputAction{Port: 99}})
	f.putWait(flow, old, OpMod)

	require.Equal(t, datapath.OffloadFailed, flow.OffloadStatus())
	require.False(t, f.nic.HasEntry(flow.Ufid), "the stale entry must be removed")
	require.Equal(t, int32(1), flow.RefCount(), "the offload reference must be dropped")
}
