// Package smpte2110 decodes RTP packets carrying SMPTE ST 2110-20
// uncompressed video (RFC 4175 payload format).
package smpte2110

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

// RTP constants
const (
	RTPVersion = 2

	// PayloadTypeMP2T is the static payload type of MPEG-TS over RTP (RFC 3551)
	PayloadTypeMP2T = 33

	DynamicPayloadTypeMin = 96
	DynamicPayloadTypeMax = 127

	// ExtSeqLen is the size of the extended sequence number preceding the row headers
	ExtSeqLen = 2
	// RowHeaderLen is the size of one sample row data header
	RowHeaderLen = 6

	continuationMask = 0x8000
	fieldMask        = 0x8000
	lineMask         = 0x7fff
)

// Decoder errors
var (
	ErrBadVersion      = errors.New("unsupported RTP version")
	ErrPayloadTooShort = errors.New("payload too short for 2110-20 header")
	ErrNotDynamic      = errors.New("payload type is not dynamic")
)

// RowHeader is one sample row data header
type RowHeader struct {
	Length       uint16
	FieldID      uint8
	LineNumber   uint16
	Offset       uint16
	Continuation uint8
}

// Packet is a decoded ST 2110-20 RTP packet
type Packet struct {
	Header rtp.Header
	// ExtendedSequence holds the high 16 bits of the 32 bit sequence number
	ExtendedSequence uint16
	Rows             []RowHeader
	// Payload is the sample data following the row headers
	Payload []byte
}

// Sequence returns the extended 32 bit sequence number
func (p *Packet) Sequence() uint32 {
	return uint32(p.ExtendedSequence)<<16 | uint32(p.Header.SequenceNumber)
}

// FirstRow returns the first sample row data header, zero if there is none
func (p *Packet) FirstRow() RowHeader {
	if len(p.Rows) == 0 {
		return RowHeader{}
	}
	return p.Rows[0]
}

// UnmarshalRTP parses the RTP header and checks the version.
// The returned packet's payload aliases buf.
func UnmarshalRTP(buf []byte) (*rtp.Packet, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("rtp: %w", err)
	}
	if pkt.Version != RTPVersion {
		return nil, ErrBadVersion
	}
	return pkt, nil
}

// Decode parses a ST 2110-20 RTP packet. Only dynamic payload types are accepted.
func Decode(buf []byte) (*Packet, error) {
	pkt, err := UnmarshalRTP(buf)
	if err != nil {
		return nil, err
	}
	if pkt.PayloadType < DynamicPayloadTypeMin || pkt.PayloadType > DynamicPayloadTypeMax {
		return nil, ErrNotDynamic
	}

	res := &Packet{Header: pkt.Header}
	payload := pkt.Payload
	if len(payload) < ExtSeqLen+RowHeaderLen {
		return nil, ErrPayloadTooShort
	}
	res.ExtendedSequence = binary.BigEndian.Uint16(payload[0:2])
	offset := ExtSeqLen

	for {
		if len(payload) < offset+RowHeaderLen {
			return nil, ErrPayloadTooShort
		}
		row := decodeRow(payload[offset : offset+RowHeaderLen])
		res.Rows = append(res.Rows, row)
		offset += RowHeaderLen
		if row.Continuation == 0 {
			break
		}
	}
	res.Payload = payload[offset:]
	return res, nil
}

func decodeRow(b []byte) RowHeader {
	line := binary.BigEndian.Uint16(b[2:4])
	off := binary.BigEndian.Uint16(b[4:6])
	var field, cont uint8
	if line&fieldMask > 0 {
		field = 1
	}
	if off&continuationMask > 0 {
		cont = 1
	}
	return RowHeader{
		Length:       binary.BigEndian.Uint16(b[0:2]),
		FieldID:      field,
		LineNumber:   line & lineMask,
		Offset:       off & lineMask,
		Continuation: cont,
	}
}

// EncodePayload builds a 2110-20 payload from an extended sequence number,
// row headers and sample data. Continuation bits are set for all but the last row.
func EncodePayload(extSeq uint16, rows []RowHeader, data []byte) []byte {
	out := make([]byte, ExtSeqLen, ExtSeqLen+len(rows)*RowHeaderLen+len(data))
	binary.BigEndian.PutUint16(out, extSeq)
	for i, row := range rows {
		line := row.LineNumber & lineMask
		if row.FieldID > 0 {
			line |= fieldMask
		}
		off := row.Offset & lineMask
		if i < len(rows)-1 {
			off |= continuationMask
		}
		out = binary.BigEndian.AppendUint16(out, row.Length)
		out = binary.BigEndian.AppendUint16(out, line)
		out = binary.BigEndian.AppendUint16(out, off)
	}
	return append(out, data...)
}

// PayloadTypeName returns the name of an RTP payload type (RFC 3551 static
// assignments, "dynamic" for 96-127)
func PayloadTypeName(pt uint8) string {
	switch {
	case pt == 0:
		return "PCMU"
	case pt == 8:
		return "PCMA"
	case pt == 10, pt == 11:
		return "L16"
	case pt == 14:
		return "MPA"
	case pt == 26:
		return "JPEG"
	case pt == 31:
		return "H261"
	case pt == 32:
		return "MPV"
	case pt == PayloadTypeMP2T:
		return "MP2T"
	case pt == 34:
		return "H263"
	case pt >= DynamicPayloadTypeMin && pt <= DynamicPayloadTypeMax:
		return "dynamic"
	default:
		return "unassigned"
	}
}

// SequenceGap returns how many packets are missing between two consecutive
// extended sequence numbers, 0 for an in-order packet.
func SequenceGap(prev, cur uint32) uint32 {
	return cur - prev - 1
}
