package analyzer

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/voc/tsmon/format"
	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/registry"
	"github.com/voc/tsmon/stream"
)

const (
	testPMTPID   = 0x1000
	testVideoPID = 0x100
	testAudioPID = 0x101
)

type fixture struct {
	t       *testing.T
	reg     *registry.Registry
	errs    *TR101290Errors
	a       *Analyzer
	changes []VideoChange
	cc      map[uint16]byte
	now     time.Time
}

func newFixture(t *testing.T, opts ...AnalyzerOpt) *fixture {
	f := &fixture{
		t:    t,
		reg:  registry.New(),
		errs: NewTR101290Errors(),
		cc:   make(map[uint16]byte),
		now:  time.Unix(1700000000, 0),
	}
	opts = append(opts, WithVideoChangeHandler(func(ev VideoChange) {
		f.changes = append(f.changes, ev)
	}))
	f.a = New(f.reg, f.errs, opts...)
	return f
}

// packet encodes a transport packet, af is the adaptation field without stuffing
func (f *fixture) packet(pid uint16, pusi bool, af []byte, payload []byte) []byte {
	f.t.Helper()
	cc := f.cc[pid]
	f.cc[pid] = (cc + 1) % 16
	return rawPacket(f.t, pid, pusi, cc, af, payload)
}

func rawPacket(t *testing.T, pid uint16, pusi bool, cc byte, af []byte, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, mpegts.PacketLen)
	pkt := mpegts.CreatePacket(pid).
		WithPUSI(pusi).
		WithContinuity(cc).
		WithPayload(payload).
		WithAdaptationField(mpegts.Stuff(len(payload), af))
	assert.NilError(t, pkt.ToBytes(buf))
	return buf
}

func (f *fixture) section(pid uint16, section []byte) []byte {
	return f.packet(pid, true, nil, mpegts.PSIPayload(section))
}

func (f *fixture) pat(pmtPID uint16) []byte {
	return f.section(mpegts.PIDPAT, mpegts.EncodePAT(1, 0, []mpegts.Program{{Number: 1, PMTPID: pmtPID}}))
}

func (f *fixture) pmt(version byte, streams ...mpegts.ElementaryStream) []byte {
	return f.section(testPMTPID, mpegts.EncodePMT(1, version, testVideoPID, streams))
}

func (f *fixture) feed(raw []byte) []*stream.StreamData {
	f.t.Helper()
	buf := stream.NewBuffer(raw, f.now)
	var out []*stream.StreamData
	for d := range format.Packets(buf, mpegts.PacketLen, 0) {
		f.a.Process(d)
		out = append(out, d)
	}
	return out
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) setupProgram() {
	f.feed(f.pat(testPMTPID))
	f.feed(f.pmt(0,
		mpegts.ElementaryStream{Type: mpegts.StreamTypeAVCVideo, PID: testVideoPID},
		mpegts.ElementaryStream{Type: mpegts.StreamTypeAudio, PID: testAudioPID},
	))
}

// resign recomputes the CRC of a modified section
func resign(s []byte) []byte {
	crc := mpegts.CRC32(s[:len(s)-mpegts.CRCLen])
	s[len(s)-4] = byte(crc >> 24)
	s[len(s)-3] = byte(crc >> 16)
	s[len(s)-2] = byte(crc >> 8)
	s[len(s)-1] = byte(crc)
	return s
}

// notCurrent clears the current_next_indicator of a section
func notCurrent(section []byte) []byte {
	s := append([]byte(nil), section...)
	s[5] &^= 0x1
	return resign(s)
}
