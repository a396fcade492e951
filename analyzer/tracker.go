package analyzer

import (
	"bytes"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/stream"
)

// Table repetition limits
const (
	PATTimeout = 500 * time.Millisecond
	PMTTimeout = 500 * time.Millisecond
	PIDTimeout = 5 * time.Second
)

// State of the table acquisition
type State int

// State constants
const (
	Unresolved State = iota
	PATKnown
	PMTKnown
)

func (s State) String() string {
	switch s {
	case PATKnown:
		return "pat-known"
	case PMTKnown:
		return "pmt-known"
	default:
		return "unresolved"
	}
}

// PMTInfo is the raw PMT section currently tracked for a PMT PID
type PMTInfo struct {
	PID    uint16
	Packet []byte
}

// VideoChange is emitted when the video PID or codec of the primary
// program changes. OldPID is PIDUnresolved for the first detection.
type VideoChange struct {
	ProgramNumber uint16       `json:"program_number"`
	OldPID        uint16       `json:"old_pid"`
	NewPID        uint16       `json:"new_pid"`
	OldCodec      mpegts.Codec `json:"-"`
	NewCodec      mpegts.Codec `json:"-"`
}

type program struct {
	number   uint16
	pmtPID   uint16
	pmt      *PMTInfo
	pcrPID   uint16
	streams  []uint16
	lastSeen time.Time
	timedOut bool
}

type elementary struct {
	info     stream.Info
	lastSeen time.Time
	timedOut bool
}

// Tracker follows PAT, PMT and CAT of a transport stream and maintains
// the role of every PID referenced by them.
type Tracker struct {
	roles *Roles
	errs  *TR101290Errors
	log   *slog.Logger

	state      State
	programs   []*program
	assemblers map[uint16]*mpegts.SectionAssembler
	es         map[uint16]*elementary
	videoPID   uint16
	videoCodec mpegts.Codec
	catSeen    bool

	lastPAT     time.Time
	patTimedOut bool

	onVideoChange func(VideoChange)
}

// NewTracker creates a tracker assigning roles in roles and counting table errors in errs
func NewTracker(roles *Roles, errs *TR101290Errors) *Tracker {
	t := &Tracker{
		roles: roles,
		errs:  errs,
		log:   slog.With("component", "tracker"),
	}
	t.reset()
	return t
}

// OnVideoChange registers the video change handler
func (t *Tracker) OnVideoChange(fn func(VideoChange)) {
	t.onVideoChange = fn
}

// reset forgets all tables
func (t *Tracker) reset() {
	t.roles.Reset()
	t.state = Unresolved
	t.programs = nil
	t.assemblers = make(map[uint16]*mpegts.SectionAssembler)
	t.es = make(map[uint16]*elementary)
	t.videoPID = mpegts.PIDUnresolved
	t.videoCodec = mpegts.CodecNone
	t.catSeen = false
	t.lastPAT = time.Time{}
	t.patTimedOut = false
}

// Handle feeds one packet of a table PID. It returns true when the PID
// map changed and stream info should be refreshed.
func (t *Tracker) Handle(pid uint16, role Role, hdr *mpegts.Header, now time.Time) bool {
	if !role.IsPSI() || !hdr.HasPayload || len(hdr.Payload) == 0 {
		return false
	}

	asm, ok := t.assemblers[pid]
	if !ok {
		asm = &mpegts.SectionAssembler{}
		t.assemblers[pid] = asm
	}
	sections, err := asm.Push(hdr.Payload, hdr.PUSI)
	if err != nil {
		t.tableError(pid, role, err)
	}

	changed := false
	for _, section := range sections {
		switch role {
		case RolePAT:
			changed = t.handlePAT(section, now) || changed
		case RolePMT:
			changed = t.handlePMT(pid, section, now) || changed
		case RoleCAT:
			t.handleCAT(pid, section)
		}
	}
	return changed
}

// Discontinuity drops partially assembled sections of pid
func (t *Tracker) Discontinuity(pid uint16) {
	if asm, ok := t.assemblers[pid]; ok {
		asm.Reset()
	}
}

func (t *Tracker) tableError(pid uint16, role Role, err error) {
	switch role {
	case RolePAT:
		t.errs.Add(PATError)
	case RolePMT:
		t.errs.Add(PMTError)
	case RoleCAT:
		t.errs.Add(CATError)
	}
	if errors.Is(err, mpegts.ErrCRCMismatch) {
		t.errs.Add(CRCError)
	}
	t.log.Warn("table error", "pid", pid, "table", role, "err", err)
}

func (t *Tracker) handlePAT(section []byte, now time.Time) bool {
	pat, err := mpegts.ParsePAT(section)
	if err != nil {
		t.tableError(mpegts.PIDPAT, RolePAT, err)
		return false
	}
	if !pat.Header.CurrentNext {
		return false
	}
	t.lastPAT = now
	t.patTimedOut = false

	programs := make([]mpegts.Program, 0, len(pat.Programs))
	for _, p := range pat.Programs {
		if p.PMTPID < mpegts.PIDReservedEnd || p.PMTPID >= mpegts.PIDNull {
			t.log.Warn("PAT references invalid PMT PID", "program", p.Number, "pmt_pid", p.PMTPID)
			continue
		}
		programs = append(programs, p)
	}
	if slices.Equal(programs, t.Programs()) {
		if t.state == Unresolved {
			t.state = PATKnown
		}
		return false
	}

	next := make([]*program, 0, len(programs))
	for _, p := range programs {
		idx := slices.IndexFunc(t.programs, func(old *program) bool {
			return old.number == p.Number && old.pmtPID == p.PMTPID
		})
		if idx >= 0 {
			next = append(next, t.programs[idx])
			continue
		}
		next = append(next, &program{number: p.Number, pmtPID: p.PMTPID, lastSeen: now})
	}

	// programs gone or moved to another PMT PID lose their PMT and streams
	for _, old := range t.programs {
		if slices.Contains(next, old) {
			continue
		}
		t.dropProgram(old, next)
		t.log.Info("program removed", "program", old.number, "pmt_pid", old.pmtPID)
	}
	for _, p := range next {
		t.roles.Set(p.pmtPID, RolePMT)
	}
	t.programs = next
	t.updateState()
	t.log.Info("PAT", "transport_stream_id", pat.TransportStreamID, "version", pat.Header.VersionNumber, "programs", programs)
	return true
}

func (t *Tracker) dropProgram(old *program, remaining []*program) {
	shared := slices.ContainsFunc(remaining, func(p *program) bool { return p.pmtPID == old.pmtPID })
	if !shared {
		t.roles.Delete(old.pmtPID)
		delete(t.assemblers, old.pmtPID)
	}
	for _, pid := range old.streams {
		t.roles.Delete(pid)
		delete(t.es, pid)
	}
	if old.pcrPID != mpegts.PIDNull && t.roles.Get(old.pcrPID) == RolePCR {
		t.roles.Delete(old.pcrPID)
	}
	old.pmt = nil
}

func (t *Tracker) updateState() {
	t.state = PATKnown
	for _, p := range t.programs {
		if p.pmt != nil {
			t.state = PMTKnown
			return
		}
	}
}

func (t *Tracker) handlePMT(pid uint16, section []byte, now time.Time) bool {
	pmt, err := mpegts.ParsePMT(section)
	if err != nil {
		t.tableError(pid, RolePMT, err)
		return false
	}
	if !pmt.Header.CurrentNext {
		return false
	}

	idx := slices.IndexFunc(t.programs, func(p *program) bool {
		return p.pmtPID == pid && p.number == pmt.ProgramNumber
	})
	if idx < 0 {
		// program not announced in the PAT
		return false
	}
	prog := t.programs[idx]
	prog.lastSeen = now
	prog.timedOut = false
	if prog.pmt != nil && bytes.Equal(prog.pmt.Packet, section) {
		return false
	}

	for _, esPID := range prog.streams {
		t.roles.Delete(esPID)
		delete(t.es, esPID)
	}
	if prog.pcrPID != mpegts.PIDNull && t.roles.Get(prog.pcrPID) == RolePCR {
		t.roles.Delete(prog.pcrPID)
	}

	prog.pmt = &PMTInfo{PID: pid, Packet: bytes.Clone(section)}
	prog.pcrPID = pmt.PCRPID
	prog.streams = prog.streams[:0]

	var videoPID uint16 = mpegts.PIDUnresolved
	videoCodec := mpegts.CodecNone
	for _, es := range pmt.Streams {
		if es.PID < mpegts.PIDReservedEnd || es.PID >= mpegts.PIDNull {
			continue
		}
		codec := mpegts.VideoCodec(es.Type)
		t.es[es.PID] = &elementary{
			info: stream.Info{
				PMTPID:        pid,
				ProgramNumber: pmt.ProgramNumber,
				StreamType:    mpegts.Category(es.Type),
				StreamTypeID:  es.Type,
				Codec:         codec.String(),
			},
			lastSeen: now,
		}
		t.roles.Set(es.PID, RoleForStreamType(es.Type))
		prog.streams = append(prog.streams, es.PID)

		if codec != mpegts.CodecNone && videoPID == mpegts.PIDUnresolved {
			videoPID = es.PID
			videoCodec = codec
		}
	}
	if pmt.PCRPID != mpegts.PIDNull && t.roles.Get(pmt.PCRPID) == RoleUnknown {
		t.roles.Set(pmt.PCRPID, RolePCR)
	}
	t.state = PMTKnown
	t.log.Info("PMT", "pid", pid, "program", pmt.ProgramNumber, "version", pmt.Header.VersionNumber,
		"pcr_pid", pmt.PCRPID, "streams", len(prog.streams))

	if idx == 0 && videoPID != mpegts.PIDUnresolved && (videoPID != t.videoPID || videoCodec != t.videoCodec) {
		ev := VideoChange{
			ProgramNumber: pmt.ProgramNumber,
			OldPID:        t.videoPID,
			NewPID:        videoPID,
			OldCodec:      t.videoCodec,
			NewCodec:      videoCodec,
		}
		t.videoPID = videoPID
		t.videoCodec = videoCodec
		t.log.Info("video PID changed", "old_pid", ev.OldPID, "new_pid", ev.NewPID, "codec", ev.NewCodec)
		if t.onVideoChange != nil {
			t.onVideoChange(ev)
		}
	}
	return true
}

func (t *Tracker) handleCAT(pid uint16, section []byte) {
	hdr, err := mpegts.ParseCAT(section)
	if err != nil {
		t.tableError(pid, RoleCAT, err)
		return
	}
	if hdr.CurrentNext {
		t.catSeen = true
	}
}

// Seen marks an elementary stream PID as present
func (t *Tracker) Seen(pid uint16, now time.Time) {
	if e, ok := t.es[pid]; ok {
		e.lastSeen = now
		e.timedOut = false
	}
}

// CheckTimeouts counts tables and elementary streams that stopped
// appearing. Each outage is counted once.
func (t *Tracker) CheckTimeouts(now time.Time) {
	if !t.lastPAT.IsZero() && !t.patTimedOut && now.Sub(t.lastPAT) > PATTimeout {
		t.patTimedOut = true
		t.errs.Add(PATError)
		t.log.Warn("PAT missing", "since", now.Sub(t.lastPAT))
	}
	for _, p := range t.programs {
		if !p.timedOut && now.Sub(p.lastSeen) > PMTTimeout {
			p.timedOut = true
			t.errs.Add(PMTError)
			t.log.Warn("PMT missing", "pid", p.pmtPID, "program", p.number, "since", now.Sub(p.lastSeen))
		}
	}
	for pid, e := range t.es {
		if !e.timedOut && now.Sub(e.lastSeen) > PIDTimeout {
			e.timedOut = true
			t.errs.Add(PIDError)
			t.log.Warn("PID missing", "pid", pid, "type", e.info.StreamType, "since", now.Sub(e.lastSeen))
		}
	}
}

// State returns the acquisition state
func (t *Tracker) State() State {
	return t.state
}

// Programs returns the programs of the current PAT, the first is the primary one
func (t *Tracker) Programs() []mpegts.Program {
	res := make([]mpegts.Program, 0, len(t.programs))
	for _, p := range t.programs {
		res = append(res, mpegts.Program{Number: p.number, PMTPID: p.pmtPID})
	}
	return res
}

// PMT returns the tracked PMT of the primary program
func (t *Tracker) PMT() (PMTInfo, bool) {
	if len(t.programs) == 0 || t.programs[0].pmt == nil {
		return PMTInfo{}, false
	}
	return *t.programs[0].pmt, true
}

// VideoPID returns the video PID of the primary program and its codec
func (t *Tracker) VideoPID() (uint16, mpegts.Codec) {
	return t.videoPID, t.videoCodec
}

// CATSeen reports whether a valid CAT was received
func (t *Tracker) CATSeen() bool {
	return t.catSeen
}

// Info returns the table derived description of pid
func (t *Tracker) Info(pid uint16) (stream.Info, bool) {
	if e, ok := t.es[pid]; ok {
		return e.info, true
	}
	switch t.roles.Get(pid) {
	case RolePAT, RoleCAT:
		return stream.Info{
			PMTPID:        stream.Unresolved,
			ProgramNumber: stream.Unresolved,
			StreamType:    mpegts.CategoryPSI,
			Codec:         mpegts.CodecNone.String(),
		}, true
	case RolePMT:
		info := stream.Info{
			PMTPID:        pid,
			ProgramNumber: stream.Unresolved,
			StreamType:    mpegts.CategoryPSI,
			Codec:         mpegts.CodecNone.String(),
		}
		for _, p := range t.programs {
			if p.pmtPID == pid {
				info.ProgramNumber = p.number
				break
			}
		}
		return info, true
	}
	return stream.Info{}, false
}

// Streams iterates over all elementary streams of all programs
func (t *Tracker) Streams() iter.Seq2[uint16, stream.Info] {
	return func(yield func(uint16, stream.Info) bool) {
		for pid, e := range t.es {
			if !yield(pid, e.info) {
				return
			}
		}
	}
}
