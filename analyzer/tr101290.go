package analyzer

import (
	"fmt"
	"strings"
	"sync"
)

// ErrorKind is a TR 101 290 error class
type ErrorKind int

// Priority 1
const (
	TSSyncLoss ErrorKind = iota
	SyncByteError
	PATError
	ContinuityCounterError
	PMTError
	PIDError
)

// Priority 2
const (
	TransportError ErrorKind = iota + PIDError + 1
	CRCError
	PCRRepetitionError
	PCRDiscontinuityError
	PTSError
	CATError
)

// Priority 3
const (
	UnreferencedPIDError ErrorKind = iota + CATError + 1
	RTPSequenceError

	numErrorKinds
)

var errorKinds = [numErrorKinds]struct {
	name     string
	priority int
}{
	TSSyncLoss:             {"ts_sync_loss", 1},
	SyncByteError:          {"sync_byte_error", 1},
	PATError:               {"pat_error", 1},
	ContinuityCounterError: {"continuity_count_error", 1},
	PMTError:               {"pmt_error", 1},
	PIDError:               {"pid_error", 1},
	TransportError:         {"transport_error", 2},
	CRCError:               {"crc_error", 2},
	PCRRepetitionError:     {"pcr_repetition_error", 2},
	PCRDiscontinuityError:  {"pcr_discontinuity_error", 2},
	PTSError:               {"pts_error", 2},
	CATError:               {"cat_error", 2},
	UnreferencedPIDError:   {"unreferenced_pid", 3},
	RTPSequenceError:       {"rtp_sequence_error", 3},
}

func (k ErrorKind) String() string {
	if k < 0 || k >= numErrorKinds {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return errorKinds[k].name
}

// Priority returns the TR 101 290 priority class (1-3)
func (k ErrorKind) Priority() int {
	if k < 0 || k >= numErrorKinds {
		return 0
	}
	return errorKinds[k].priority
}

// ErrorKinds lists every error class in reporting order
func ErrorKinds() []ErrorKind {
	kinds := make([]ErrorKind, numErrorKinds)
	for i := range kinds {
		kinds[i] = ErrorKind(i)
	}
	return kinds
}

// TR101290Counts is a point in time copy of the error counters
type TR101290Counts struct {
	// Priority 1
	TSSyncLoss              uint64 `json:"ts_sync_loss"`
	SyncByteErrors          uint64 `json:"sync_byte_errors"`
	PATErrors               uint64 `json:"pat_errors"`
	ContinuityCounterErrors uint64 `json:"continuity_counter_errors"`
	PMTErrors               uint64 `json:"pmt_errors"`
	PIDErrors               uint64 `json:"pid_errors"`

	// Priority 2
	TransportErrors        uint64 `json:"transport_errors"`
	CRCErrors              uint64 `json:"crc_errors"`
	PCRRepetitionErrors    uint64 `json:"pcr_repetition_errors"`
	PCRDiscontinuityErrors uint64 `json:"pcr_discontinuity_errors"`
	PTSErrors              uint64 `json:"pts_errors"`
	CATErrors              uint64 `json:"cat_errors"`

	// Priority 3
	UnreferencedPIDErrors uint64 `json:"unreferenced_pid_errors"`
	RTPSequenceErrors     uint64 `json:"rtp_sequence_errors"`
}

// TR101290Errors accumulates TR 101 290 errors for a session.
// Counters are only cleared by Reset.
type TR101290Errors struct {
	mutex  sync.Mutex
	counts [numErrorKinds]uint64
}

// NewTR101290Errors creates a zeroed aggregate
func NewTR101290Errors() *TR101290Errors {
	return &TR101290Errors{}
}

// Add increments the counter of kind
func (e *TR101290Errors) Add(kind ErrorKind) {
	if kind < 0 || kind >= numErrorKinds {
		return
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.counts[kind]++
}

// Get returns the counter of kind
func (e *TR101290Errors) Get(kind ErrorKind) uint64 {
	if kind < 0 || kind >= numErrorKinds {
		return 0
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.counts[kind]
}

// Reset zeroes all counters
func (e *TR101290Errors) Reset() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.counts = [numErrorKinds]uint64{}
}

// Snapshot copies all counters under the lock
func (e *TR101290Errors) Snapshot() TR101290Counts {
	e.mutex.Lock()
	c := e.counts
	e.mutex.Unlock()

	return TR101290Counts{
		TSSyncLoss:              c[TSSyncLoss],
		SyncByteErrors:          c[SyncByteError],
		PATErrors:               c[PATError],
		ContinuityCounterErrors: c[ContinuityCounterError],
		PMTErrors:               c[PMTError],
		PIDErrors:               c[PIDError],
		TransportErrors:         c[TransportError],
		CRCErrors:               c[CRCError],
		PCRRepetitionErrors:     c[PCRRepetitionError],
		PCRDiscontinuityErrors:  c[PCRDiscontinuityError],
		PTSErrors:               c[PTSError],
		CATErrors:               c[CATError],
		UnreferencedPIDErrors:   c[UnreferencedPIDError],
		RTPSequenceErrors:       c[RTPSequenceError],
	}
}

// String renders the counters grouped by priority
func (e *TR101290Errors) String() string {
	e.mutex.Lock()
	c := e.counts
	e.mutex.Unlock()

	var sb strings.Builder
	for prio := 1; prio <= 3; prio++ {
		fmt.Fprintf(&sb, "TR 101 290 Priority %d:", prio)
		for _, kind := range ErrorKinds() {
			if kind.Priority() == prio {
				fmt.Fprintf(&sb, " %s=%d", kind, c[kind])
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
