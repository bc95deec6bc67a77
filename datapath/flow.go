package datapath

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weaveworks/go-odp/odp"
)

// MAC address as a value type usable as a map key
type MAC [6]byte

func (mac MAC) String() string {
	return net.HardwareAddr(mac[:]).String()
}

// Match is the expanded match a flow was installed with. The offload
// engine never interprets it beyond the fields needed to compose
// tunnel entries; drivers get it verbatim.
type Match struct {
	DlDst MAC     // Ethernet destination
	NwDst [4]byte // IPv4 destination
	TpDst uint16  // transport destination port

	// TunnelDst is the outer destination of the tunnel the match sits
	// behind; zero when the match is not on decapsulated traffic.
	TunnelDst [4]byte

	// TunnelMeta carries tunnel option metadata. It is cleared on the
	// copy handed to a driver.
	TunnelMeta []byte
}

func (m Match) TunnelDstSet() bool {
	return m.TunnelDst != [4]byte{}
}

// Flow is the software flow handle shared with the classifier. The
// offload engine reads its identity and actions, tracks its hardware
// state in the atomic status word, and holds references for as long as
// a hardware entry or a queued request needs the flow alive.
type Flow struct {
	Ufid    UFID
	InPort  odp.VportID
	Match   Match
	Version uint64

	mu      sync.Mutex
	actions Actions

	status uint32
	dead   uint32
	refs   int32

	// Accumulated hardware statistics. A single reader folds driver
	// counters in, so packets/bytes are plain; used is read
	// concurrently by revalidators.
	packets uint64
	bytes   uint64
	used    int64
}

func NewFlow(ufid UFID, inPort odp.VportID, match Match, actions Actions) *Flow {
	return &Flow{Ufid: ufid, InPort: inPort, Match: match, actions: actions, refs: 1}
}

func (f *Flow) Actions() Actions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions
}

func (f *Flow) SetActions(actions Actions) {
	f.mu.Lock()
	f.actions = actions
	f.mu.Unlock()
}

// Ref acquires a reference, failing once the last reference is gone.
func (f *Flow) Ref() bool {
	for {
		n := atomic.LoadInt32(&f.refs)
		if n == 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&f.refs, n, n+1) {
			return true
		}
	}
}

func (f *Flow) Unref() {
	if atomic.AddInt32(&f.refs, -1) < 0 {
		panic("flow reference count went negative")
	}
}

func (f *Flow) RefCount() int32 {
	return atomic.LoadInt32(&f.refs)
}

func (f *Flow) Dead() bool {
	return atomic.LoadUint32(&f.dead) != 0
}

func (f *Flow) MarkDead() {
	atomic.StoreUint32(&f.dead, 1)
}

func (f *Flow) OffloadStatus() OffloadStatus {
	return OffloadStatus(atomic.LoadUint32(&f.status))
}

func (f *Flow) SetOffloadStatus(s OffloadStatus) {
	atomic.StoreUint32(&f.status, uint32(s))
}

// AddStats folds hardware counters into the flow. Single writer: the
// offload engine's stats reader.
func (f *Flow) AddStats(packets, bytes uint64) {
	f.packets += packets
	f.bytes += bytes
}

func (f *Flow) Stats() (packets, bytes uint64) {
	return f.packets, f.bytes
}

func (f *Flow) SetUsed(t time.Time) {
	atomic.StoreInt64(&f.used, t.UnixMilli())
}

func (f *Flow) Used() time.Time {
	ms := atomic.LoadInt64(&f.used)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
