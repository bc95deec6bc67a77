package datapath

// OffloadStatus is the hardware state of a flow as seen through its
// status word.
type OffloadStatus uint32

const (
	// OffloadNone: nothing programmed.
	OffloadNone OffloadStatus = iota
	// OffloadMask: the match is in hardware, actions still run in
	// software.
	OffloadMask
	// OffloadFull: match and actions are in hardware.
	OffloadFull
	// OffloadFailed: the last attempt to program the flow was
	// rejected.
	OffloadFailed
)

// OffloadInProgress is OR-ed into the status word while a request for
// the flow sits in the offload queue. At most one request per flow is
// outstanding.
const OffloadInProgress OffloadStatus = 1 << 2

func (s OffloadStatus) InProgress() bool {
	return s&OffloadInProgress != 0
}

// Offloaded reports whether packets matching the flow are handled by
// hardware at all.
func (s OffloadStatus) Offloaded() bool {
	switch s &^ OffloadInProgress {
	case OffloadMask, OffloadFull:
		return true
	}
	return false
}

func (s OffloadStatus) String() string {
	name := "invalid"
	switch s &^ OffloadInProgress {
	case OffloadNone:
		name = "none"
	case OffloadMask:
		name = "mask"
	case OffloadFull:
		name = "full"
	case OffloadFailed:
		name = "failed"
	}
	if s.InProgress() {
		return name + "+in-progress"
	}
	return name
}
