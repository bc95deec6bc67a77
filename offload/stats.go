package offload

import (
	"time"

	"github.com/pkg/errors"

	"github.com/flowmesh/flowmesh/datapath"
	"github.com/flowmesh/flowmesh/netdev"
)

// FlowUsed folds the flow's hardware counters into its software
// statistics, summing across composed entries when the flow takes part
// in a tunnel composition. now stamps the flow's last-used time when
// packets have hit hardware.
func (e *Engine) FlowUsed(flow *datapath.Flow, now time.Time) error {
	nd := e.ports.Get(flow.InPort)
	if nd == nil {
		return errors.Errorf("no netdev on port %d", flow.InPort)
	}

	stats, found := e.tryIngressStats(flow, flow.Actions())
	if !found {
		stats, found = e.tryTnlPopStats(flow, nd)
	}
	if !found {
		var err error
		stats, err = nd.FlowGet(flow.Ufid)
		if err != nil {
			return err
		}
	}

	if stats.Packets != 0 {
		flow.SetUsed(now)
		flow.AddStats(stats.Packets, stats.Bytes)
	}
	return nil
}

// tryIngressStats sums the composed entries of an ingress flow across
// the tunnel vport's tnl-pop set.
func (e *Engine) tryIngressStats(flow *datapath.Flow, acts datapath.Actions) (netdev.FlowStats, bool) {
	tnlDev := e.tunnelPopNetdev(acts)
	if tnlDev == nil {
		return netdev.FlowStats{}, false
	}
	aux := auxOf(tnlDev)
	if aux == nil {
		return netdev.FlowStats{}, false
	}
	in, found := aux.ingressFind(flow)
	if !found {
		return netdev.FlowStats{}, false
	}

	var total netdev.FlowStats
	aux.mu.RLock()
	for _, tnl := range aux.tnlPop {
		if s, err := composedStat(in, tnl); err == nil {
			total.Packets += s.Packets
			total.Bytes += s.Bytes
		}
	}
	aux.mu.RUnlock()
	return total, true
}

// tryTnlPopStats sums the composed entries of a post-decap flow across
// the vport's ingress set.
func (e *Engine) tryTnlPopStats(flow *datapath.Flow, inport netdev.Netdev) (netdev.FlowStats, bool) {
	aux, ok := isTnlPopFlow(flow, inport)
	if !ok {
		return netdev.FlowStats{}, false
	}
	tnl, found := aux.tnlFind(flow)
	if !found {
		return netdev.FlowStats{}, false
	}

	var total netdev.FlowStats
	aux.mu.RLock()
	for _, in := range aux.ingress {
		if s, err := composedStat(in, tnl); err == nil {
			total.Packets += s.Packets
			total.Bytes += s.Bytes
		}
	}
	aux.mu.RUnlock()
	return total, true
}
