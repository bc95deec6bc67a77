package netdev

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/flowmesh/flowmesh/datapath"
)

// Dummy is an in-memory netdev with a real flow table, standing in for
// a NIC driver the way dummy ports stand in for hardware elsewhere in
// the dataplane. The agent runs on it by default and the tests drive
// it.
type Dummy struct {
	name string
	typ  string

	// RejectPut vetoes individual programming attempts. Set it before
	// traffic; it is called under the table lock.
	RejectPut func(ufid datapath.UFID, info *PutInfo) bool

	// MatchOnly makes the driver accept matches but refuse to program
	// actions, as mark-and-recirculate hardware does.
	MatchOnly bool

	mu      sync.Mutex
	entries map[datapath.UFID]*dummyEntry
	puts    int
	dels    int

	tunnel *TunnelConfig
	aux    OffloadAux
}

type dummyEntry struct {
	match   datapath.Match
	actions datapath.Actions
	info    PutInfo
	stats   FlowStats
}

func NewDummy(name string) *Dummy {
	return &Dummy{name: name, typ: "dummy", entries: make(map[datapath.UFID]*dummyEntry)}
}

// NewDummyVxlanVport makes a dummy tunnel vport terminating vxlan on
// dstPort.
func NewDummyVxlanVport(name string, dstPort uint16) *Dummy {
	return &Dummy{
		name:    name,
		typ:     "vxlan",
		entries: make(map[datapath.UFID]*dummyEntry),
		tunnel:  &TunnelConfig{DstPort: dstPort},
	}
}

func (d *Dummy) Name() string { return d.name }
func (d *Dummy) Type() string { return d.typ }

func (d *Dummy) TunnelConfig() *TunnelConfig { return d.tunnel }
func (d *Dummy) OffloadAux() OffloadAux      { return d.aux }
func (d *Dummy) SetOffloadAux(aux OffloadAux) {
	d.aux = aux
}

func (d *Dummy) FlowPut(m *datapath.Match, actions datapath.Actions, ufid datapath.UFID, info *PutInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.puts++
	if d.RejectPut != nil && d.RejectPut(ufid, info) {
		return errors.Errorf("%s: hardware refused entry %s", d.name, ufid)
	}

	info.ActionsOffloaded = !d.MatchOnly
	entry := &dummyEntry{match: *m, actions: actions.Copy(), info: *info}
	if old, present := d.entries[ufid]; present {
		entry.stats = old.stats
	}
	d.entries[ufid] = entry
	return nil
}

func (d *Dummy) FlowDel(ufid datapath.UFID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dels++
	if _, present := d.entries[ufid]; !present {
		return errors.Errorf("%s: no entry %s", d.name, ufid)
	}
	delete(d.entries, ufid)
	return nil
}

func (d *Dummy) FlowGet(ufid datapath.UFID) (FlowStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, present := d.entries[ufid]
	if !present {
		return FlowStats{}, errors.Errorf("%s: no entry %s", d.name, ufid)
	}
	return entry.stats, nil
}

// SetStats plants hardware counters on an entry.
func (d *Dummy) SetStats(ufid datapath.UFID, stats FlowStats) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, present := d.entries[ufid]; present {
		entry.stats = stats
	}
}

// EntryInfo returns the PutInfo an entry was last programmed with.
func (d *Dummy) EntryInfo(ufid datapath.UFID) (PutInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, present := d.entries[ufid]
	if !present {
		return PutInfo{}, false
	}
	return entry.info, true
}

func (d *Dummy) HasEntry(ufid datapath.UFID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, present := d.entries[ufid]
	return present
}

func (d *Dummy) EntryCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// PutCalls and DelCalls count driver invocations, accepted or not.
func (d *Dummy) PutCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.puts
}

func (d *Dummy) DelCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dels
}
