package mpegts

import (
	"encoding/binary"
	"io"
)

// Packet represents a MPEGTS packet
type Packet struct {
	header          uint32
	payload         []byte
	adaptationField []byte
}

// MPEGTS Packet constants
const (
	SyncByte = 0x47

	HeaderLen = 4
	PacketLen = 188
	PIDOffset = 8

	TEIHdrMask        = 0x800000
	PUSIHdrMask       = 0x400000
	PIDHdrMask        = 0x1fff00
	ScramblingHdrMask = 0xc0
	AdaptationHdrMask = 0x20
	PayloadHdrMask    = 0x10
	ContinuityHdrMask = 0xf
)

/**
 * Packet Parsing
 */
// FromBytes parses a MPEG-TS packet from a byte slice.
// Payload and adaptation field alias b, nothing is copied.
func (pkt *Packet) FromBytes(b []byte) error {
	if len(b) < PacketLen {
		return io.ErrUnexpectedEOF
	}

	if b[0] != SyncByte {
		return ErrInvalidPacket
	}

	pkt.header = binary.BigEndian.Uint32(b[0:HeaderLen])
	offset := HeaderLen

	// has adaptation field
	if pkt.header&AdaptationHdrMask > 0 {
		afLength := int(b[offset])
		if offset+afLength >= PacketLen {
			return ErrInvalidPacket
		}
		offset++
		pkt.adaptationField = b[offset : offset+afLength]
		offset += afLength
	} else {
		pkt.adaptationField = nil
	}

	// has payload
	if pkt.header&PayloadHdrMask > 0 && offset < PacketLen {
		pkt.payload = b[offset:PacketLen]
	} else {
		pkt.payload = nil
	}

	return nil
}

// PID Payload ID
func (pkt *Packet) PID() uint16 {
	return uint16(pkt.header & PIDHdrMask >> PIDOffset)
}

// Continuity sequence number of payload packets
func (pkt *Packet) Continuity() byte {
	return byte(pkt.header & ContinuityHdrMask)
}

// PUSI the Payload Unit Start Indicator
func (pkt *Packet) PUSI() bool {
	return pkt.header&PUSIHdrMask > 0
}

// TEI the Transport Error Indicator
func (pkt *Packet) TEI() bool {
	return pkt.header&TEIHdrMask > 0
}

// Scrambled reports a non-zero transport_scrambling_control
func (pkt *Packet) Scrambled() bool {
	return pkt.header&ScramblingHdrMask > 0
}

func (pkt *Packet) HasPayload() bool {
	return pkt.header&PayloadHdrMask > 0
}

func (pkt *Packet) HasAdaptationField() bool {
	return pkt.header&AdaptationHdrMask > 0
}

func (pkt *Packet) Payload() []byte {
	return pkt.payload
}

func (pkt *Packet) AdaptationField() []byte {
	return pkt.adaptationField
}

/**
 * Packet creation
 */
// CreatePacket returns a bare MPEG-TS Packet
func CreatePacket(pid uint16) *Packet {
	var header uint32
	header |= uint32(SyncByte) << 24
	header |= uint32(pid&0x1fff) << 8
	return &Packet{
		header:          header,
		payload:         nil,
		adaptationField: nil,
	}
}

func (pkt *Packet) WithPUSI(pusi bool) *Packet {
	if pusi {
		pkt.header |= PUSIHdrMask
	} else {
		pkt.header &^= PUSIHdrMask
	}
	return pkt
}

func (pkt *Packet) WithContinuity(cc byte) *Packet {
	pkt.header = pkt.header&^ContinuityHdrMask | uint32(cc&0xf)
	return pkt
}

func (pkt *Packet) WithTEI(tei bool) *Packet {
	if tei {
		pkt.header |= TEIHdrMask
	} else {
		pkt.header &^= TEIHdrMask
	}
	return pkt
}

func (pkt *Packet) WithPayload(payload []byte) *Packet {
	pkt.payload = payload
	return pkt
}

func (pkt *Packet) WithAdaptationField(adaptationField []byte) *Packet {
	pkt.adaptationField = adaptationField
	return pkt
}

// ToBytes encodes a valid MPEGTS packet into a byte slice.
// Expects a byte slice of at least PacketLen.
// Space not covered by adaptation field and payload is filled with 0xff,
// so short payloads should be padded through the adaptation field by the caller.
// Encoded packet is only valid if error is nil
func (pkt *Packet) ToBytes(data []byte) error {
	if len(data) < PacketLen {
		return io.ErrUnexpectedEOF
	}

	pkt.header &^= AdaptationHdrMask | PayloadHdrMask
	if pkt.adaptationField != nil {
		pkt.header |= AdaptationHdrMask
	}
	if pkt.payload != nil {
		pkt.header |= PayloadHdrMask
	}
	binary.BigEndian.PutUint32(data[0:4], pkt.header)
	offset := HeaderLen

	if pkt.adaptationField != nil {
		adaptationFieldLength := len(pkt.adaptationField)
		if adaptationFieldLength > PacketLen-offset-1 {
			return ErrDataTooLong
		}
		data[offset] = byte(adaptationFieldLength)
		offset++
		copy(data[offset:offset+adaptationFieldLength], pkt.adaptationField)
		offset += adaptationFieldLength
	}

	payloadLength := len(pkt.payload)
	if payloadLength > PacketLen-offset {
		return ErrDataTooLong
	}
	copy(data[offset:offset+payloadLength], pkt.payload)
	offset += payloadLength

	for i := offset; i < PacketLen; i++ {
		data[i] = 0xff
	}

	return nil
}

// Size returns the MPEGTS packet size
func (pkt Packet) Size() int {
	return PacketLen
}

// Stuff returns an adaptation field which pads payload to fill a whole packet.
// Returns nil when the payload already fills the packet.
func Stuff(payloadLen int, af []byte) []byte {
	free := MaxPayloadSize - 1 - payloadLen - len(af)
	if af == nil {
		if payloadLen >= MaxPayloadSize {
			return nil
		}
		if payloadLen == MaxPayloadSize-1 {
			// a zero length adaptation field takes exactly one byte
			return []byte{}
		}
		af = []byte{0x00}
		free--
	}
	if free <= 0 {
		return af
	}
	out := make([]byte, len(af), len(af)+free)
	copy(out, af)
	for i := 0; i < free; i++ {
		out = append(out, 0xff)
	}
	return out
}

// Header holds the decoded transport header and adaptation field flags of a packet
type Header struct {
	PID           uint16
	Continuity    byte
	PUSI          bool
	TEI           bool
	Scrambled     bool
	HasPayload    bool
	HasAdaptation bool
	Adaptation    AdaptationField
	// Payload aliases the packet bytes
	Payload []byte
}

// ParseHeader decodes the header of a single packet starting at b[0].
// An adaptation field overrunning the packet returns ErrInvalidPacket,
// the fixed four byte header fields are filled in regardless.
func ParseHeader(b []byte) (Header, error) {
	var hdr Header
	if len(b) < HeaderLen {
		return hdr, io.ErrUnexpectedEOF
	}
	if b[0] != SyncByte {
		return hdr, ErrInvalidPacket
	}

	var pkt Packet
	err := pkt.FromBytes(b)
	if err != nil && pkt.header == 0 {
		pkt.header = binary.BigEndian.Uint32(b[0:HeaderLen])
	}
	hdr.PID = pkt.PID()
	hdr.Continuity = pkt.Continuity()
	hdr.PUSI = pkt.PUSI()
	hdr.TEI = pkt.TEI()
	hdr.Scrambled = pkt.Scrambled()
	hdr.HasPayload = pkt.HasPayload()
	hdr.HasAdaptation = pkt.HasAdaptationField()
	if err != nil {
		return hdr, err
	}
	hdr.Adaptation = ParseAdaptationField(pkt.AdaptationField())
	hdr.Payload = pkt.Payload()
	return hdr, nil
}
