// Package analyzer checks transport stream records for continuity and
// timing errors, follows the PSI tables and keeps per-PID statistics.
package analyzer

import (
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/smpte2110"
	"github.com/voc/tsmon/stream"
)

// Timing limits
const (
	PCRRepetitionLimit    = 40 * time.Millisecond
	PCRDiscontinuityLimit = 100 * time.Millisecond
	PTSGapLimit           = 700 * time.Millisecond

	pcrWrap = mpegts.PTSWrap * 300
)

// Store receives the per-PID state after every packet
type Store interface {
	Upsert(pid uint16, data stream.StreamData) error
	SetStreamType(pid uint16, info stream.Info) bool
}

type pidState struct {
	data stream.StreamData

	lastPCR        uint64
	lastPCRArrival time.Time
	hasPCR         bool

	lastPTS int64
	hasPTS  bool

	lastSeq uint32
	hasSeq  bool

	unreferenced bool

	// set by ResetStats, the next packet starts a new measurement
	restart bool

	es         []byte // head of the current video PES
	collecting bool
	splice     *mpegts.SectionAssembler
}

// Analyzer processes records of one capture session. It is single
// threaded, only the store and the error aggregate are shared.
type Analyzer struct {
	store        Store
	errs         *TR101290Errors
	roles        *Roles
	tracker      *Tracker
	log          *slog.Logger
	showTR101290 bool
	hexdump      bool

	pids     map[uint16]*pidState
	syncRun  int
	onChange func(VideoChange)
}

// AnalyzerOpt configures an Analyzer
type AnalyzerOpt func(*Analyzer)

// WithShowTR101290 logs the error counters on every PAT
func WithShowTR101290(show bool) AnalyzerOpt {
	return func(a *Analyzer) {
		a.showTR101290 = show
	}
}

// WithHexdump dumps packets with continuity errors
func WithHexdump(dump bool) AnalyzerOpt {
	return func(a *Analyzer) {
		a.hexdump = dump
	}
}

// WithVideoChangeHandler forwards video PID changes
func WithVideoChangeHandler(fn func(VideoChange)) AnalyzerOpt {
	return func(a *Analyzer) {
		a.onChange = fn
	}
}

// New creates an analyzer writing per-PID state to store
func New(store Store, errs *TR101290Errors, opts ...AnalyzerOpt) *Analyzer {
	roles := NewRoles()
	a := &Analyzer{
		store:   store,
		errs:    errs,
		roles:   roles,
		tracker: NewTracker(roles, errs),
		log:     slog.With("component", "analyzer"),
		pids:    make(map[uint16]*pidState),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.tracker.OnVideoChange(a.videoChanged)
	return a
}

// Tracker returns the PSI tracker of the session
func (a *Analyzer) Tracker() *Tracker {
	return a.tracker
}

// Roles returns the PID role table
func (a *Analyzer) Roles() *Roles {
	return a.roles
}

// Errors returns the TR 101 290 aggregate
func (a *Analyzer) Errors() *TR101290Errors {
	return a.errs
}

// CheckTimeouts runs the table and PID repetition checks
func (a *Analyzer) CheckTimeouts(now time.Time) {
	a.tracker.CheckTimeouts(now)
}

// ResetStats zeroes the statistics of all PIDs. Continuity and timing
// references are kept so the next packet is checked as usual.
func (a *Analyzer) ResetStats() {
	for _, st := range a.pids {
		st.data.ResetStats()
		st.restart = true
	}
}

func (a *Analyzer) videoChanged(ev VideoChange) {
	if old, ok := a.pids[ev.OldPID]; ok {
		old.hasPTS = false
		old.collecting = false
	}
	if st, ok := a.pids[ev.NewPID]; ok {
		st.hasPTS = false
		st.collecting = false
	}
	if a.onChange != nil {
		a.onChange(ev)
	}
}

// Process analyzes one record and updates it in place with the running
// statistics of its PID. Null packets are ignored.
func (a *Analyzer) Process(d *stream.StreamData) {
	if d.SyncError {
		a.errs.Add(SyncByteError)
		a.syncRun++
		if a.syncRun == 2 {
			a.errs.Add(TSSyncLoss)
			a.log.Warn("sync lost")
		}
		return
	}
	a.syncRun = 0

	if isSMPTE2110(d) {
		a.processSMPTE2110(d)
		return
	}
	if d.PID >= mpegts.PIDNull {
		return
	}

	arrival := d.Arrival()
	st, first := a.state(d, arrival)
	role := a.roles.Get(d.PID)

	if d.TransportError {
		a.errs.Add(TransportError)
	}
	if d.Scrambled && !a.tracker.CATSeen() {
		a.errs.Add(CATError)
	}

	if !first {
		if !ContinuityValid(st.data.ContinuityCounter, d.ContinuityCounter) && !d.Discontinuity {
			st.data.ErrorCount++
			a.errs.Add(ContinuityCounterError)
			a.log.Warn("continuity error", "pid", d.PID, "expected", (st.data.ContinuityCounter+1)%16, "got", d.ContinuityCounter)
			if a.hexdump {
				a.log.Warn("packet dump", "pid", d.PID, "dump", hex.Dump(d.Bytes()))
			}
			if role.IsPSI() {
				a.tracker.Discontinuity(d.PID)
			}
			st.collecting = false
			if st.splice != nil {
				st.splice.Reset()
			}
		}
		a.sampleIAT(st, arrival)
	}
	a.updateBitrate(st, d, arrival)

	if d.HasPCR {
		a.checkPCR(st, d, arrival)
	}

	if role == RoleUnknown && d.PID >= mpegts.PIDReservedEnd && a.tracker.State() == PMTKnown && !st.unreferenced {
		st.unreferenced = true
		a.errs.Add(UnreferencedPIDError)
		a.log.Warn("unreferenced PID", "pid", d.PID)
	}

	switch role {
	case RolePAT, RoleCAT, RolePMT:
		a.handleTable(d, role, arrival)
	case RolePES:
		a.handlePES(st, d)
		a.tracker.Seen(d.PID, arrival)
	case RoleSCTE35:
		a.handleSplice(st, d)
		a.tracker.Seen(d.PID, arrival)
	}

	a.commit(st, d, arrival)
}

// ContinuityValid reports whether cur may follow prev on the same PID.
// Repeated counters are accepted as duplicates.
func ContinuityValid(prev, cur uint8) bool {
	return cur == (prev+1)%16 || cur == prev
}

func isSMPTE2110(d *stream.StreamData) bool {
	return d.RTP && d.RTPPayloadType >= smpte2110.DynamicPayloadTypeMin
}

func (a *Analyzer) state(d *stream.StreamData, arrival time.Time) (*pidState, bool) {
	st, ok := a.pids[d.PID]
	if ok {
		return st, false
	}
	st = &pidState{}
	st.data = *stream.New(d.Packet, d.PacketStart, d.PacketLen)
	st.data.PID = d.PID
	st.data.StartTime = arrival
	st.data.LastArrivalTime = arrival
	if info, ok := a.tracker.Info(d.PID); ok {
		st.data.ApplyInfo(info)
	}
	a.pids[d.PID] = st
	return st, true
}

// sampleIAT records the gap to the previous packet unless a reset started
// a new measurement
func (a *Analyzer) sampleIAT(st *pidState, arrival time.Time) {
	if st.restart {
		st.restart = false
		st.data.StartTime = arrival
		return
	}
	st.data.AddIAT(arrival.Sub(st.data.LastArrivalTime))
}

func (a *Analyzer) updateBitrate(st *pidState, d *stream.StreamData, arrival time.Time) {
	st.data.TotalBits += uint64(d.PacketLen) * 8
	st.data.Count++
	elapsed := arrival.Sub(st.data.StartTime).Milliseconds()
	if elapsed > 0 {
		st.data.AddBitrate(st.data.TotalBits * 1000 / uint64(elapsed))
	}
}

func (a *Analyzer) checkPCR(st *pidState, d *stream.StreamData, arrival time.Time) {
	if st.hasPCR {
		if arrival.Sub(st.lastPCRArrival) > PCRRepetitionLimit {
			a.errs.Add(PCRRepetitionError)
		}
		if !d.Discontinuity {
			diff := (int64(d.PCR) - int64(st.lastPCR)) % pcrWrap
			if diff < -pcrWrap/2 {
				diff += pcrWrap
			} else if diff > pcrWrap/2 {
				diff -= pcrWrap
			}
			if diff < 0 || diff > ticks(PCRDiscontinuityLimit, mpegts.PCRClock) {
				a.errs.Add(PCRDiscontinuityError)
				a.log.Warn("PCR discontinuity", "pid", d.PID, "delta", duration(diff, mpegts.PCRClock))
			}
		}
	}
	st.hasPCR = true
	st.lastPCR = d.PCR
	st.lastPCRArrival = arrival
	st.data.Timestamp = d.Timestamp
}

func (a *Analyzer) checkPTS(st *pidState, d *stream.StreamData, payload []byte, video bool) {
	pts, ok := mpegts.ParsePTS(payload)
	if !ok {
		return
	}
	if video && st.hasPTS {
		delta := mpegts.PTSDelta(st.lastPTS, pts)
		limit := ticks(PTSGapLimit, mpegts.PTSClock)
		if delta > limit || delta < -limit {
			a.errs.Add(PTSError)
			a.log.Warn("PTS gap", "pid", d.PID, "delta", duration(delta, mpegts.PTSClock))
		}
	}
	st.hasPTS = true
	st.lastPTS = pts
}

// ticks converts a duration to clock ticks
func ticks(d time.Duration, clock int64) int64 {
	return d.Milliseconds() * clock / 1000
}

func duration(n, clock int64) time.Duration {
	return time.Duration(n*1000/clock) * time.Millisecond
}

func (a *Analyzer) handleTable(d *stream.StreamData, role Role, arrival time.Time) {
	hdr, err := mpegts.ParseHeader(d.Bytes())
	if err != nil {
		return
	}
	if a.tracker.Handle(d.PID, role, &hdr, arrival) {
		a.refreshStreamInfo()
	}
	if role == RolePAT && d.PUSI && a.showTR101290 {
		a.log.Info("TR 101 290\n" + a.errs.String())
	}
}

// refreshStreamInfo pushes the table derived fields to all known PIDs
func (a *Analyzer) refreshStreamInfo() {
	for pid, info := range a.tracker.Streams() {
		if st, ok := a.pids[pid]; ok {
			st.data.ApplyInfo(info)
			a.store.SetStreamType(pid, info)
		}
	}
	for pid, st := range a.pids {
		if !a.roles.Get(pid).IsPSI() {
			continue
		}
		if info, ok := a.tracker.Info(pid); ok {
			st.data.ApplyInfo(info)
			a.store.SetStreamType(pid, info)
		}
	}
}

// commit copies the packet level fields into the PID state, stores it and
// hands the full record back to the caller
func (a *Analyzer) commit(st *pidState, d *stream.StreamData, arrival time.Time) {
	s := &st.data
	s.ContinuityCounter = d.ContinuityCounter
	s.LastArrivalTime = arrival
	s.Packet = d.Packet
	s.PacketStart = d.PacketStart
	s.PacketLen = d.PacketLen
	s.SyncError = d.SyncError
	s.TransportError = d.TransportError
	s.Scrambled = d.Scrambled
	s.PUSI = d.PUSI
	s.HasPayload = d.HasPayload
	s.HasAdaptation = d.HasAdaptation
	s.Discontinuity = d.Discontinuity
	s.HasPCR = d.HasPCR
	s.PCR = d.PCR
	s.RTP = d.RTP
	s.RTPTimestamp = d.RTPTimestamp
	s.RTPPayloadType = d.RTPPayloadType
	s.RTPPayloadTypeName = d.RTPPayloadTypeName
	s.RTPMarker = d.RTPMarker
	s.RTPSSRC = d.RTPSSRC
	s.RTPSequenceNumber = d.RTPSequenceNumber
	s.RTPLineNumber = d.RTPLineNumber
	s.RTPLineOffset = d.RTPLineOffset
	s.RTPLineLength = d.RTPLineLength
	s.RTPFieldID = d.RTPFieldID
	s.RTPLineContinuation = d.RTPLineContinuation
	s.RTPExtendedSequenceNumber = d.RTPExtendedSequenceNumber

	if err := a.store.Upsert(d.PID, *s); err != nil {
		a.log.Debug("store rejected record", "pid", d.PID, "err", err)
	}
	*d = *s
}

func (a *Analyzer) processSMPTE2110(d *stream.StreamData) {
	arrival := d.Arrival()
	st, first := a.state(d, arrival)
	if first {
		st.data.StreamType = mpegts.CategoryVideo
	}

	seq := d.RTPSequenceNumber
	if st.hasSeq && smpte2110.SequenceGap(st.lastSeq, seq) != 0 {
		st.data.ErrorCount++
		a.errs.Add(RTPSequenceError)
		a.log.Warn("RTP sequence error", "ssrc", d.RTPSSRC, "expected", st.lastSeq+1, "got", seq)
	}
	st.hasSeq = true
	st.lastSeq = seq

	if !first {
		a.sampleIAT(st, arrival)
	}
	a.updateBitrate(st, d, arrival)
	a.commit(st, d, arrival)
}
