package format

import (
	"iter"

	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/smpte2110"
	"github.com/voc/tsmon/stream"
)

// Packets splits a buffer into fixed size transport packets after
// payloadOffset. Every full chunk yields one record referencing the buffer;
// chunks without sync byte are yielded with SyncError set and no header
// fields. A trailing partial chunk is dropped.
func Packets(buf *stream.Buffer, packetSize, payloadOffset int) iter.Seq[*stream.StreamData] {
	return packets(buf, payloadOffset, len(buf.Data), packetSize)
}

func packets(buf *stream.Buffer, start, end, packetSize int) iter.Seq[*stream.StreamData] {
	return func(yield func(*stream.StreamData) bool) {
		if packetSize <= 0 || start < 0 {
			return
		}
		for off := start; off+packetSize <= end; off += packetSize {
			if !yield(decodePacket(buf, off, packetSize)) {
				return
			}
		}
	}
}

func decodePacket(buf *stream.Buffer, off, packetSize int) *stream.StreamData {
	d := stream.New(buf, off, packetSize)
	hdr, err := mpegts.ParseHeader(buf.Data[off : off+packetSize])
	if err != nil && buf.Data[off] != mpegts.SyncByte {
		d.SyncError = true
		return d
	}

	d.PID = hdr.PID
	d.ContinuityCounter = hdr.Continuity
	d.PUSI = hdr.PUSI
	d.TransportError = hdr.TEI
	d.Scrambled = hdr.Scrambled
	d.HasPayload = hdr.HasPayload
	d.HasAdaptation = hdr.HasAdaptation
	if err != nil {
		// adaptation field overruns the packet
		d.TransportError = true
		return d
	}
	d.Discontinuity = hdr.Adaptation.Discontinuity
	if hdr.Adaptation.HasPCR {
		d.HasPCR = true
		d.PCR = hdr.Adaptation.PCR
		d.Timestamp = hdr.Adaptation.PCR / 300
	}
	return d
}

// RTPPackets strips the RTP header of an RTP wrapped transport stream buffer
// and yields the contained transport packets, tagged with the RTP fields.
func RTPPackets(buf *stream.Buffer, payloadOffset int) iter.Seq[*stream.StreamData] {
	return func(yield func(*stream.StreamData) bool) {
		if payloadOffset > len(buf.Data) {
			return
		}
		pkt, err := smpte2110.UnmarshalRTP(buf.Data[payloadOffset:])
		if err != nil {
			return
		}
		start := payloadOffset + pkt.Header.MarshalSize()
		end := start + len(pkt.Payload)
		for d := range packets(buf, start, end, mpegts.PacketLen) {
			d.RTP = true
			d.RTPTimestamp = pkt.Timestamp
			d.RTPPayloadType = pkt.PayloadType
			d.RTPPayloadTypeName = smpte2110.PayloadTypeName(pkt.PayloadType)
			d.RTPMarker = pkt.Marker
			d.RTPSSRC = pkt.SSRC
			d.RTPSequenceNumber = uint32(pkt.SequenceNumber)
			if !yield(d) {
				return
			}
		}
	}
}

// SMPTE2110Packet decodes a buffer holding one ST 2110-20 RTP packet into a
// single record. These records carry PID 0 and no transport header fields.
func SMPTE2110Packet(buf *stream.Buffer, payloadOffset int) (*stream.StreamData, error) {
	if payloadOffset > len(buf.Data) {
		return nil, smpte2110.ErrPayloadTooShort
	}
	pkt, err := smpte2110.Decode(buf.Data[payloadOffset:])
	if err != nil {
		return nil, err
	}

	d := stream.New(buf, payloadOffset, len(buf.Data)-payloadOffset)
	d.PID = 0
	d.StreamType = mpegts.CategoryVideo
	d.RTP = true
	d.RTPTimestamp = pkt.Header.Timestamp
	d.RTPPayloadType = pkt.Header.PayloadType
	d.RTPPayloadTypeName = smpte2110.PayloadTypeName(pkt.Header.PayloadType)
	d.RTPMarker = pkt.Header.Marker
	d.RTPSSRC = pkt.Header.SSRC
	d.RTPSequenceNumber = pkt.Sequence()
	d.RTPExtendedSequenceNumber = pkt.ExtendedSequence

	row := pkt.FirstRow()
	d.RTPLineNumber = row.LineNumber
	d.RTPLineOffset = row.Offset
	d.RTPLineLength = row.Length
	d.RTPFieldID = row.FieldID
	d.RTPLineContinuation = row.Continuation
	return d, nil
}

// Decoder turns classified buffers into records
type Decoder struct {
	PacketSize    int
	PayloadOffset int

	failures uint64
}

// NewDecoder creates a decoder for the given framing
func NewDecoder(packetSize, payloadOffset int) *Decoder {
	return &Decoder{PacketSize: packetSize, PayloadOffset: payloadOffset}
}

// Decode yields the records of a buffer according to its transport type.
// Unknown buffers yield nothing.
func (d *Decoder) Decode(t TransportType, buf *stream.Buffer) iter.Seq[*stream.StreamData] {
	switch t {
	case MpegTs:
		return Packets(buf, d.PacketSize, d.PayloadOffset)
	case MpegTsRTP:
		return RTPPackets(buf, d.PayloadOffset)
	case SMPTE2110:
		return func(yield func(*stream.StreamData) bool) {
			rec, err := SMPTE2110Packet(buf, d.PayloadOffset)
			if err != nil {
				d.failures++
				return
			}
			yield(rec)
		}
	default:
		return func(func(*stream.StreamData) bool) {}
	}
}

// Failures returns the number of buffers which failed to decode
func (d *Decoder) Failures() uint64 {
	return d.failures
}
