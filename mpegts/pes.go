package mpegts

import "encoding/binary"

// PES constants
const (
	PESStartCode   = 0x000001
	MaxPayloadSize = PacketLen - 4
	PESHeaderSize  = 6
	PESMaxLength   = 200 * 1024

	PESStreamIDAudio = 0xc0
	PESStreamIDVideo = 0xe0

	// PTSClock is the 90kHz clock of PTS/DTS and the PCR base
	PTSClock = 90_000
	// PTSWrap is the modulus of the 33 bit timestamps
	PTSWrap = 1 << 33
)

func isPESPayload(data []byte) bool {
	return len(data) >= PESHeaderSize && data[0] == 0x0 && data[1] == 0x0 && data[2] == 0x1
}

// ParsePTS extracts the presentation timestamp from the start of a PES packet.
// ok is false if the payload is no PES start or carries no PTS.
func ParsePTS(data []byte) (pts int64, ok bool) {
	if !isPESPayload(data) {
		return 0, false
	}
	streamID := data[3]
	// stream ids without the optional header
	switch streamID {
	case 0xbc, 0xbe, 0xbf, 0xf0, 0xf1, 0xff, 0xf2, 0xf8:
		return 0, false
	}
	if len(data) < 14 || data[6]&0xc0 != 0x80 {
		return 0, false
	}
	if data[7]&0x80 == 0 {
		return 0, false
	}
	return decodeTimestamp(data[9:14]), true
}

// PESPayload returns the elementary stream data following the PES header.
// ok is false if data does not start a PES packet with an optional header.
func PESPayload(data []byte) (es []byte, ok bool) {
	if !isPESPayload(data) || len(data) < 9 || data[6]&0xc0 != 0x80 {
		return nil, false
	}
	start := 9 + int(data[8])
	if start > len(data) {
		return nil, false
	}
	return data[start:], true
}

func decodeTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x7)<<30 |
		int64(b[1])<<22 | int64(b[2]>>1)<<15 |
		int64(b[3])<<7 | int64(b[4]>>1)
}

func encodeTimestamp(prefix byte, ts int64) []byte {
	ts &= PTSWrap - 1
	return []byte{
		prefix<<4 | byte(ts>>29)&0xe | 0x1,
		byte(ts >> 22),
		byte(ts>>14)&0xfe | 0x1,
		byte(ts >> 7),
		byte(ts<<1) | 0x1,
	}
}

// EncodePES wraps an elementary stream payload in a PES packet with PTS.
// Video streams use an unbounded length field.
func EncodePES(streamID byte, pts int64, data []byte) []byte {
	header := []byte{0x00, 0x00, 0x01, streamID, 0, 0, 0x80, 0x80, 5}
	pes := append(header, encodeTimestamp(0x2, pts)...)
	pes = append(pes, data...)

	length := len(pes) - PESHeaderSize
	if streamID&0xf0 == PESStreamIDVideo || length > 0xffff {
		length = 0
	}
	binary.BigEndian.PutUint16(pes[4:6], uint16(length))
	return pes
}

// PTSDelta returns b-a accounting for 33 bit wraparound
func PTSDelta(a, b int64) int64 {
	d := (b - a) % PTSWrap
	if d < 0 {
		d += PTSWrap
	}
	if d > PTSWrap/2 {
		d -= PTSWrap
	}
	return d
}
