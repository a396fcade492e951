package format

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"gotest.tools/v3/assert"

	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/smpte2110"
	"github.com/voc/tsmon/stream"
)

func tsPacket(t *testing.T, pid uint16, cc byte) []byte {
	t.Helper()
	buf := make([]byte, mpegts.PacketLen)
	pkt := mpegts.CreatePacket(pid).WithContinuity(cc).WithPayload(make([]byte, mpegts.MaxPayloadSize))
	assert.NilError(t, pkt.ToBytes(buf))
	return buf
}

func rtpPacket(t *testing.T, pt uint8, payload []byte) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        smpte2110.RTPVersion,
			PayloadType:    pt,
			SequenceNumber: 7,
			Timestamp:      1234,
			SSRC:           42,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	assert.NilError(t, err)
	return buf
}

func videoPayload() []byte {
	return smpte2110.EncodePayload(1, []smpte2110.RowHeader{{Length: 1200, LineNumber: 21, Offset: 64}}, make([]byte, 1200))
}

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func TestDetermineTransport(t *testing.T) {
	ts := concat(tsPacket(t, 0x100, 0), tsPacket(t, 0x100, 1))
	broken := append([]byte(nil), ts...)
	broken[mpegts.PacketLen] = 0x00

	var seven [][]byte
	for i := range 7 {
		seven = append(seven, tsPacket(t, 0x100, byte(i)))
	}
	oneLost := concat(seven...)
	oneLost[3*mpegts.PacketLen] = 0x00
	firstLost := concat(seven...)
	firstLost[0] = 0x00
	mostLost := concat(seven...)
	for i := range 4 {
		mostLost[i*mpegts.PacketLen] = 0x00
	}

	tests := []struct {
		name   string
		data   []byte
		offset int
		want   TransportType
	}{
		{"MpegTs", ts, 0, MpegTs},
		{"MpegTsOffset", concat([]byte{1, 2, 3, 4}, ts), 4, MpegTs},
		{"BrokenStride", broken, 0, Unknown},
		{"OneSyncLost", oneLost, 0, MpegTs},
		{"FirstSyncLost", firstLost, 0, MpegTs},
		{"MostSyncLost", mostLost, 0, Unknown},
		{"Short", ts[:100], 0, Unknown},
		{"RTPMpegTs", rtpPacket(t, smpte2110.PayloadTypeMP2T, ts), 0, MpegTsRTP},
		{"SMPTE2110", rtpPacket(t, 96, videoPayload()), 0, SMPTE2110},
		{"RTPStaticNoTS", rtpPacket(t, 26, videoPayload()), 0, Unknown},
		{"Garbage", []byte("hello world, this is not a stream"), 0, Unknown},
		{"OffsetPastEnd", ts, len(ts) + 1, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, DetermineTransport(tt.data, mpegts.PacketLen, tt.offset), tt.want)
		})
	}
}

func TestClassifier_Sticky(t *testing.T) {
	ts := tsPacket(t, 0x100, 0)
	video := rtpPacket(t, 96, videoPayload())

	c := NewClassifier(true, mpegts.PacketLen, 0)
	assert.Equal(t, c.Classify(ts), MpegTs)
	assert.Equal(t, c.Session(), MpegTs)

	// video line data is never attempted as MPEG-TS
	assert.Equal(t, c.Classify(video), SMPTE2110)
	assert.Equal(t, c.Session(), SMPTE2110)

	// latched for the rest of the session
	assert.Equal(t, c.Classify(ts), SMPTE2110)
	assert.Equal(t, c.UnknownCount(), uint64(0))
}

func TestClassifier_StickyUnknown(t *testing.T) {
	c := NewClassifier(true, mpegts.PacketLen, 0)
	assert.Equal(t, c.Classify([]byte{1, 2, 3}), Unknown)
	assert.Equal(t, c.UnknownCount(), uint64(1))
	assert.Equal(t, c.Session(), SMPTE2110)
}

func TestClassifier_PerBuffer(t *testing.T) {
	ts := tsPacket(t, 0x100, 0)
	video := rtpPacket(t, 96, videoPayload())

	c := NewClassifier(false, mpegts.PacketLen, 0)
	assert.Equal(t, c.Classify(video), SMPTE2110)
	assert.Equal(t, c.Classify([]byte{1, 2, 3}), Unknown)
	assert.Equal(t, c.Session(), SMPTE2110)
	assert.Equal(t, c.Classify(ts), MpegTs)
	assert.Equal(t, c.Session(), MpegTs)
	assert.Equal(t, c.UnknownCount(), uint64(1))
}

func TestPackets(t *testing.T) {
	data := concat(
		tsPacket(t, 0x0, 0),
		tsPacket(t, 0x1fff, 0),
		make([]byte, mpegts.PacketLen), // no sync byte
		tsPacket(t, 0x100, 5),
		[]byte{mpegts.SyncByte, 0x01}, // trailing partial chunk
	)
	buf := stream.NewBuffer(data, time.Unix(1, 0))

	var got []*stream.StreamData
	for d := range Packets(buf, mpegts.PacketLen, 0) {
		got = append(got, d)
	}
	assert.Equal(t, len(got), 4)
	assert.Equal(t, got[0].PID, uint16(0))
	assert.Equal(t, got[1].PID, uint16(0x1fff))
	assert.Assert(t, got[2].SyncError)
	assert.Equal(t, got[3].PID, uint16(0x100))
	assert.Equal(t, got[3].ContinuityCounter, uint8(5))
	assert.Equal(t, got[3].PacketStart, 3*mpegts.PacketLen)
	assert.DeepEqual(t, got[3].Bytes(), data[3*mpegts.PacketLen:4*mpegts.PacketLen])
	assert.Equal(t, got[3].Arrival(), time.Unix(1, 0))
}

func TestPackets_EarlyStop(t *testing.T) {
	data := concat(tsPacket(t, 1, 0), tsPacket(t, 2, 0), tsPacket(t, 3, 0))
	buf := stream.NewBuffer(data, time.Now())

	n := 0
	for range Packets(buf, mpegts.PacketLen, 0) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, n, 2)
}

func TestPackets_PCR(t *testing.T) {
	raw := make([]byte, mpegts.PacketLen)
	payload := []byte{0, 0, 1, 0xe0}
	af := mpegts.Stuff(len(payload), mpegts.EncodePCRField(2*mpegts.PCRClock, true))
	pkt := mpegts.CreatePacket(0x100).WithPUSI(true).WithPayload(payload).WithAdaptationField(af)
	assert.NilError(t, pkt.ToBytes(raw))

	for d := range Packets(stream.NewBuffer(raw, time.Now()), mpegts.PacketLen, 0) {
		assert.Assert(t, d.HasPCR)
		assert.Assert(t, d.Discontinuity)
		assert.Assert(t, d.PUSI)
		assert.Equal(t, d.PCR, uint64(2*mpegts.PCRClock))
		assert.Equal(t, d.Timestamp, uint64(2*mpegts.PTSClock))
	}
}

func TestRTPPackets(t *testing.T) {
	ts := concat(tsPacket(t, 0x100, 0), tsPacket(t, 0x100, 1))
	buf := stream.NewBuffer(rtpPacket(t, smpte2110.PayloadTypeMP2T, ts), time.Now())

	var got []*stream.StreamData
	for d := range RTPPackets(buf, 0) {
		got = append(got, d)
	}
	assert.Equal(t, len(got), 2)
	assert.Equal(t, got[1].ContinuityCounter, uint8(1))
	assert.Assert(t, got[0].RTP)
	assert.Equal(t, got[0].RTPPayloadTypeName, "MP2T")
	assert.Equal(t, got[0].RTPSequenceNumber, uint32(7))
	assert.DeepEqual(t, got[1].Bytes(), ts[mpegts.PacketLen:])
}

func TestSMPTE2110Packet(t *testing.T) {
	buf := stream.NewBuffer(rtpPacket(t, 96, videoPayload()), time.Now())

	d, err := SMPTE2110Packet(buf, 0)
	assert.NilError(t, err)
	assert.Equal(t, d.PID, uint16(0))
	assert.Equal(t, d.StreamType, "video")
	assert.Equal(t, d.RTPTimestamp, uint32(1234))
	assert.Equal(t, d.RTPPayloadType, uint8(96))
	assert.Equal(t, d.RTPLineNumber, uint16(21))
	assert.Equal(t, d.RTPLineOffset, uint16(64))
	assert.Equal(t, d.RTPLineLength, uint16(1200))
	assert.Equal(t, d.RTPExtendedSequenceNumber, uint16(1))
	assert.Equal(t, d.RTPSequenceNumber, uint32(1<<16|7))

	_, err = SMPTE2110Packet(stream.NewBuffer([]byte{1}, time.Now()), 0)
	assert.Assert(t, err != nil)
}

func TestDecoder_Decode(t *testing.T) {
	dec := NewDecoder(mpegts.PacketLen, 0)
	ts := stream.NewBuffer(concat(tsPacket(t, 0x100, 0), tsPacket(t, 0x101, 0)), time.Now())

	count := func(t TransportType, buf *stream.Buffer) int {
		n := 0
		for range dec.Decode(t, buf) {
			n++
		}
		return n
	}
	assert.Equal(t, count(MpegTs, ts), 2)
	assert.Equal(t, count(Unknown, ts), 0)
	assert.Equal(t, count(SMPTE2110, ts), 0)
	assert.Equal(t, dec.Failures(), uint64(1))
}
