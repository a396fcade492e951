// Package registry keeps the latest statistics of every PID seen in a session.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/stream"
)

// ErrInvalidPID rejects null and out of range PIDs
var ErrInvalidPID = errors.New("PID out of range")

// Registry maps PIDs to their latest stream record.
// A single writer updates it while reporting reads copies.
type Registry struct {
	mutex sync.Mutex
	pids  map[uint16]stream.StreamData
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		pids: make(map[uint16]stream.StreamData),
	}
}

// Upsert stores a copy of data for pid, creating the entry on first use.
// Null packets and PIDs outside the 13 bit range are rejected.
func (r *Registry) Upsert(pid uint16, data stream.StreamData) error {
	if pid >= mpegts.PIDNull {
		return fmt.Errorf("%w: 0x%04x", ErrInvalidPID, pid)
	}
	data.PID = pid

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.pids[pid] = data
	return nil
}

// Get returns a copy of the entry for pid
func (r *Registry) Get(pid uint16) (stream.StreamData, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	data, ok := r.pids[pid]
	return data, ok
}

// SetStreamType updates the table derived fields of an existing entry.
// Returns false if the PID has not been seen yet.
func (r *Registry) SetStreamType(pid uint16, info stream.Info) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	data, ok := r.pids[pid]
	if !ok {
		return false
	}
	data.ApplyInfo(info)
	r.pids[pid] = data
	return true
}

// Snapshot returns copies of all entries ordered by PID
func (r *Registry) Snapshot() []stream.StreamData {
	r.mutex.Lock()
	res := make([]stream.StreamData, 0, len(r.pids))
	for _, data := range r.pids {
		res = append(res, data)
	}
	r.mutex.Unlock()

	slices.SortFunc(res, func(a, b stream.StreamData) int {
		return int(a.PID) - int(b.PID)
	})
	return res
}

// Reset zeroes the statistics of every entry, keys are kept
func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for pid, data := range r.pids {
		data.ResetStats()
		r.pids[pid] = data
	}
}

// Len returns the number of tracked PIDs
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.pids)
}

// GetPIDMap renders one line per PID
func (r *Registry) GetPIDMap() string {
	var sb strings.Builder
	for _, data := range r.Snapshot() {
		sb.WriteString(formatLine(&data))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// RenderSummary renders a headed human readable overview of all PIDs
func (r *Registry) RenderSummary() string {
	snapshot := r.Snapshot()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d PIDs\n", len(snapshot))
	for _, data := range snapshot {
		sb.WriteString(formatLine(&data))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatLine(d *stream.StreamData) string {
	line := fmt.Sprintf("PID: %d (0x%04x), PMT PID: %d, Program Number: %d, Stream Type: %s, Codec: %s, "+
		"Continuity Counter: %d, Timestamp: %d, Bitrate: %d, Bitrate Max: %d, Bitrate Min: %d, Bitrate Avg: %d, "+
		"IAT: %s, IAT Max: %s, IAT Min: %s, IAT Avg: %s, Error Count: %d, Total Bits: %d, Count: %d",
		d.PID, d.PID, d.PMTPID, d.ProgramNumber, d.StreamType, d.Codec,
		d.ContinuityCounter, d.Timestamp, d.Bitrate, d.BitrateMax, d.BitrateMin, d.BitrateAvg,
		d.IAT, d.IATMax, d.IATMin, d.IATAvg, d.ErrorCount, d.TotalBits, d.Count)
	if d.RTP {
		line += fmt.Sprintf(", RTP Timestamp: %d, RTP Payload Type: %d, RTP Payload Type Name: %s, "+
			"RTP Line Number: %d, RTP Line Offset: %d, RTP Line Length: %d, RTP Field ID: %d, "+
			"RTP Line Continuation: %d, RTP Extended Sequence Number: %d",
			d.RTPTimestamp, d.RTPPayloadType, d.RTPPayloadTypeName,
			d.RTPLineNumber, d.RTPLineOffset, d.RTPLineLength, d.RTPFieldID,
			d.RTPLineContinuation, d.RTPExtendedSequenceNumber)
	}
	if d.RandomAccessPoints > 0 || d.Captions {
		line += fmt.Sprintf(", Random Access Points: %d, Captions: %t", d.RandomAccessPoints, d.Captions)
	}
	if d.SpliceEvents > 0 {
		line += fmt.Sprintf(", Splice Events: %d, Last Splice: %s", d.SpliceEvents, d.LastSplice)
	}
	return line
}
