package mpegts

import (
	"encoding/hex"
	"testing"

	"gotest.tools/v3/assert"
)

func TestPacket_ToBytes_FromBytes(t *testing.T) {
	buf := make([]byte, PacketLen)
	payload := []byte{1, 2, 3, 4, 6}

	// pad with adaptationField
	adaptationField := Stuff(len(payload), nil)

	// encode packet
	pkt1 := CreatePacket(0x100).
		WithPUSI(true).
		WithContinuity(7).
		WithPayload(payload).
		WithAdaptationField(adaptationField)
	err := pkt1.ToBytes(buf)
	if err != nil {
		t.Fatal(err)
	}

	// parse packet
	pkt2 := Packet{}
	err = pkt2.FromBytes(buf)
	if err != nil {
		t.Fatal(err, hex.Dump(buf))
	}

	if pkt1.PID() != pkt2.PID() {
		t.Errorf("Failed to encode/parse PID, got: %d, expected: %d", pkt2.PID(), pkt1.PID())
	}

	if pkt1.PUSI() != pkt2.PUSI() {
		t.Errorf("Failed to encode/parse PUSI, got: %v, expected: %v", pkt2.PUSI(), pkt1.PUSI())
	}

	if pkt2.Continuity() != 7 {
		t.Errorf("Failed to encode/parse continuity, got: %d, expected: 7", pkt2.Continuity())
	}

	if hex.EncodeToString(pkt1.Payload()) != hex.EncodeToString(pkt2.Payload()) {
		t.Errorf("Failed to encode/parse Payload,\n got: %s,\n expected %s",
			hex.EncodeToString(pkt2.Payload()),
			hex.EncodeToString(pkt1.Payload()))
	}

	if hex.EncodeToString(pkt1.AdaptationField()) != hex.EncodeToString(pkt2.AdaptationField()) {
		t.Errorf("Failed to encode/parse AdaptationField,\n got: %s,\n expected %s",
			hex.EncodeToString(pkt2.AdaptationField()),
			hex.EncodeToString(pkt1.AdaptationField()))
	}
}

func TestPacket_FromBytes_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"Short", make([]byte, 10), nil},
		{"NoSync", make([]byte, PacketLen), ErrInvalidPacket},
		{"AdaptationTooLong", append([]byte{SyncByte, 0x00, 0x00, 0x30, 0xff}, make([]byte, PacketLen-5)...), ErrInvalidPacket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pkt Packet
			err := pkt.FromBytes(tt.data)
			if tt.want == nil {
				assert.ErrorContains(t, err, "unexpected EOF")
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPacket_HeaderFlags(t *testing.T) {
	buf := make([]byte, PacketLen)
	pkt := CreatePacket(0x1abc).WithTEI(true).WithPayload(make([]byte, MaxPayloadSize))
	assert.NilError(t, pkt.ToBytes(buf))
	buf[3] |= 0x80 // scrambled with odd key

	var got Packet
	assert.NilError(t, got.FromBytes(buf))
	assert.Equal(t, got.PID(), uint16(0x1abc))
	assert.Assert(t, got.TEI())
	assert.Assert(t, got.Scrambled())
	assert.Assert(t, got.HasPayload())
	assert.Assert(t, !got.HasAdaptationField())
	assert.Equal(t, len(got.Payload()), MaxPayloadSize)
}

func TestStuff(t *testing.T) {
	for _, n := range []int{0, 1, 100, MaxPayloadSize - 2, MaxPayloadSize - 1, MaxPayloadSize} {
		af := Stuff(n, nil)
		buf := make([]byte, PacketLen)
		pkt := CreatePacket(0x42).WithPayload(make([]byte, n)).WithAdaptationField(af)
		assert.NilError(t, pkt.ToBytes(buf), "payload %d", n)

		var got Packet
		assert.NilError(t, got.FromBytes(buf), "payload %d", n)
		if n > 0 {
			assert.Equal(t, len(got.Payload()), n, "payload %d", n)
		}
	}
}

func TestAdaptationField_PCR(t *testing.T) {
	tests := []struct {
		name          string
		pcr           uint64
		discontinuity bool
	}{
		{"Zero", 0, false},
		{"OneSecond", PCRClock, false},
		{"Extension", 27_000_299, true},
		{"Max", (1<<33-1)*300 + 299, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			af := ParseAdaptationField(EncodePCRField(tt.pcr, tt.discontinuity))
			assert.Assert(t, af.HasPCR)
			assert.Equal(t, af.PCR, tt.pcr)
			assert.Equal(t, af.Discontinuity, tt.discontinuity)
		})
	}

	assert.Equal(t, ParseAdaptationField(nil), AdaptationField{})
	assert.Equal(t, ParseAdaptationField([]byte{PCRAFMask, 1, 2}).HasPCR, false)
}

func TestParseHeader(t *testing.T) {
	buf := make([]byte, PacketLen)
	payload := []byte{0, 0, 1, 0xe0}
	af := Stuff(len(payload), EncodePCRField(PCRClock, true))
	pkt := CreatePacket(0x100).WithPUSI(true).WithContinuity(9).WithPayload(payload).WithAdaptationField(af)
	assert.NilError(t, pkt.ToBytes(buf))

	hdr, err := ParseHeader(buf)
	assert.NilError(t, err)
	assert.Equal(t, hdr.PID, uint16(0x100))
	assert.Equal(t, hdr.Continuity, byte(9))
	assert.Assert(t, hdr.PUSI)
	assert.Assert(t, hdr.HasAdaptation)
	assert.Assert(t, hdr.Adaptation.HasPCR)
	assert.Assert(t, hdr.Adaptation.Discontinuity)
	assert.Equal(t, hdr.Adaptation.PCR, uint64(PCRClock))
	assert.DeepEqual(t, hdr.Payload, payload)

	// short chunk still yields the fixed header fields
	hdr, err = ParseHeader(buf[:HeaderLen])
	assert.ErrorContains(t, err, "unexpected EOF")
	assert.Equal(t, hdr.PID, uint16(0x100))

	_, err = ParseHeader([]byte{0x00, 0x01, 0x00, 0x10})
	assert.ErrorIs(t, err, ErrInvalidPacket)
}
