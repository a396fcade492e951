package main

import (
	"math/rand/v2"
	"time"

	"github.com/voc/tsmon/mpegts"
)

const (
	psiInterval   = 100 * time.Millisecond
	pcrInterval   = 20 * time.Millisecond
	frameInterval = 40 * time.Millisecond
	// every nullEvery-th packet slot is stuffing
	nullEvery = 10

	pmtPID   = 0x1000
	videoPID = 0x100
	// ptsOffset keeps PTS ahead of PCR
	ptsOffset = 100 * time.Millisecond
)

// accessUnitDelimiter starts every frame
var accessUnitDelimiter = []byte{0x00, 0x00, 0x00, 0x01, 0x09, 0xf0}

// generator produces a single program transport stream with one H.264
// video PID carrying the PCR. Packets of the video PID can be dropped
// at random to provoke continuity errors.
type generator struct {
	cc   map[uint16]byte
	rnd  *rand.Rand
	loss float64

	started   bool
	lastPSI   time.Duration
	lastPCR   time.Duration
	lastFrame time.Duration
	slots     uint64

	packets uint64
	dropped uint64
}

func newGenerator(loss float64, seed uint64) *generator {
	return &generator{
		cc:   make(map[uint16]byte),
		rnd:  rand.New(rand.NewPCG(seed, seed^0x5eed)),
		loss: loss,
	}
}

// next appends the packets due at stream time t to dst
func (g *generator) next(dst []byte, t time.Duration) []byte {
	if !g.started || t-g.lastPSI >= psiInterval {
		g.lastPSI = t
		pat := mpegts.EncodePAT(1, 0, []mpegts.Program{{Number: 1, PMTPID: pmtPID}})
		pmt := mpegts.EncodePMT(1, 0, videoPID, []mpegts.ElementaryStream{{Type: mpegts.StreamTypeAVCVideo, PID: videoPID}})
		dst = g.packet(dst, mpegts.PIDPAT, true, nil, mpegts.PSIPayload(pat))
		dst = g.packet(dst, pmtPID, true, nil, mpegts.PSIPayload(pmt))
	}

	g.slots++
	if g.slots%nullEvery == 0 {
		return g.packet(dst, mpegts.PIDNull, false, nil, make([]byte, mpegts.MaxPayloadSize))
	}

	var af []byte
	if !g.started || t-g.lastPCR >= pcrInterval {
		g.lastPCR = t
		af = mpegts.EncodePCRField(uint64(t.Nanoseconds())*27/1000%(mpegts.PTSWrap*300), false)
	}
	size := mpegts.MaxPayloadSize
	if af != nil {
		size -= 1 + len(af)
	}

	pusi := false
	payload := make([]byte, 0, size)
	if !g.started || t-g.lastFrame >= frameInterval {
		g.lastFrame = t
		pusi = true
		pts := (t + ptsOffset).Microseconds() * mpegts.PTSClock / 1_000_000 % mpegts.PTSWrap
		payload = mpegts.EncodePES(mpegts.PESStreamIDVideo, pts, accessUnitDelimiter)
	}
	for len(payload) < size {
		payload = append(payload, 0)
	}
	g.started = true

	if g.loss > 0 && g.rnd.Float64() < g.loss {
		// the counter advances, the packet is lost
		g.cc[videoPID] = (g.cc[videoPID] + 1) % 16
		g.dropped++
		return dst
	}
	return g.packet(dst, videoPID, pusi, af, payload)
}

func (g *generator) packet(dst []byte, pid uint16, pusi bool, af []byte, payload []byte) []byte {
	cc := g.cc[pid]
	g.cc[pid] = (cc + 1) % 16

	buf := make([]byte, mpegts.PacketLen)
	pkt := mpegts.CreatePacket(pid).
		WithPUSI(pusi).
		WithContinuity(cc).
		WithPayload(payload).
		WithAdaptationField(mpegts.Stuff(len(payload), af))
	if err := pkt.ToBytes(buf); err != nil {
		panic(err)
	}
	g.packets++
	return append(dst, buf...)
}
