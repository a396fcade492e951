// Package format classifies captured buffers and splits them into
// per-packet records.
package format

import (
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/smpte2110"
)

// TransportType type
type TransportType uint

// TransportType constants
const (
	Unknown TransportType = iota
	MpegTs
	MpegTsRTP
	SMPTE2110
)

func (t TransportType) String() string {
	switch t {
	case MpegTs:
		return "mpegts"
	case MpegTsRTP:
		return "mpegts-rtp"
	case SMPTE2110:
		return "smpte2110"
	default:
		return "unknown"
	}
}

// maxDumpLen caps the hex dump of unknown buffers
const maxDumpLen = 256

// DetermineTransport tries to detect the type of transport from the stream
// If the type is not clear it returns Unknown
func DetermineTransport(data []byte, packetSize, payloadOffset int) TransportType {
	if payloadOffset > len(data) {
		return Unknown
	}
	data = data[payloadOffset:]

	if isMpegTs(data, packetSize) {
		return MpegTs
	}

	pkt, err := smpte2110.UnmarshalRTP(data)
	if err != nil {
		return Unknown
	}
	if pkt.PayloadType == smpte2110.PayloadTypeMP2T && isMpegTs(pkt.Payload, mpegts.PacketLen) {
		return MpegTsRTP
	}
	if _, err := smpte2110.Decode(data); err == nil {
		return SMPTE2110
	}
	return Unknown
}

// isMpegTs checks a buffer holding at least one full packet for transport
// stream framing: a majority of all packet boundaries must carry the sync
// byte. Chunks with a lost sync byte are flagged later by the decoder.
func isMpegTs(data []byte, packetSize int) bool {
	if packetSize < mpegts.PacketLen || len(data) < packetSize {
		return false
	}
	total, synced := 0, 0
	for off := 0; off+packetSize <= len(data); off += packetSize {
		total++
		if data[off] == mpegts.SyncByte {
			synced++
		}
	}
	return synced*2 > total
}

// Classifier decides how each buffer of a capture session is decoded.
//
// In sticky mode the session starts as MPEG-TS, and the first buffer which
// is neither plain nor RTP wrapped MPEG-TS switches it to SMPTE 2110 for
// the rest of the session. Otherwise every buffer is classified on its own.
type Classifier struct {
	sticky        bool
	packetSize    int
	payloadOffset int
	log           *slog.Logger

	// read by reporting while the pipeline classifies
	latched atomic.Bool
	last    atomic.Uint32
	unknown atomic.Uint64
}

// NewClassifier creates a classifier for one capture session
func NewClassifier(sticky bool, packetSize, payloadOffset int) *Classifier {
	return &Classifier{
		sticky:        sticky,
		packetSize:    packetSize,
		payloadOffset: payloadOffset,
		log:           slog.With("component", "classifier"),
	}
}

// Classify returns the transport type a buffer should be decoded as
func (c *Classifier) Classify(data []byte) TransportType {
	if c.sticky && c.latched.Load() {
		return SMPTE2110
	}

	t := DetermineTransport(data, c.packetSize, c.payloadOffset)
	if t == Unknown {
		c.unknown.Add(1)
		n := min(len(data), maxDumpLen)
		c.log.Warn("unknown transport", "len", len(data), "dump", hex.Dump(data[:n]))
	}

	if c.sticky && (t == Unknown || t == SMPTE2110) {
		c.log.Info("switching session to SMPTE 2110", "detected", t)
		c.latched.Store(true)
	}
	if t != Unknown {
		c.last.Store(uint32(t))
	}
	return t
}

// Session returns the transport the session is currently decoded as,
// in per-buffer mode the last successfully classified one
func (c *Classifier) Session() TransportType {
	switch {
	case c.latched.Load():
		return SMPTE2110
	case c.sticky:
		return MpegTs
	default:
		return TransportType(c.last.Load())
	}
}

// UnknownCount returns the number of buffers that could not be classified
func (c *Classifier) UnknownCount() uint64 {
	return c.unknown.Load()
}
