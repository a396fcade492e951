// Package stream holds the per-packet record shared by the decoder,
// the analyzer and the PID registry.
package stream

import (
	"encoding/json"
	"time"
)

// Unresolved marks PMT PID and program number fields not yet described by a table
const Unresolved = 0xffff

// Buffer is one capture unit. Records decoded from it reference ranges of
// Data instead of copying, so a Buffer must not be modified after decoding.
type Buffer struct {
	Data    []byte
	Arrival time.Time
}

// NewBuffer wraps captured bytes received at arrival
func NewBuffer(data []byte, arrival time.Time) *Buffer {
	return &Buffer{Data: data, Arrival: arrival}
}

// StreamData describes one transport packet and, once analyzed, the running
// statistics of its PID.
type StreamData struct {
	PID               uint16 `json:"pid"`
	PMTPID            uint16 `json:"pmt_pid"`
	ProgramNumber     uint16 `json:"program_number"`
	StreamType        string `json:"stream_type"`
	StreamTypeID      uint8  `json:"stream_type_id"`
	Codec             string `json:"codec"`
	ContinuityCounter uint8  `json:"continuity_counter"`
	Timestamp         uint64 `json:"timestamp"` // last PCR base (90kHz)

	Bitrate    uint64 `json:"bitrate"`
	BitrateMax uint64 `json:"bitrate_max"`
	BitrateMin uint64 `json:"bitrate_min"`
	BitrateAvg uint64 `json:"bitrate_avg"`

	IAT    time.Duration `json:"-"`
	IATMax time.Duration `json:"-"`
	IATMin time.Duration `json:"-"`
	IATAvg time.Duration `json:"-"`

	ErrorCount      uint32    `json:"error_count"`
	LastArrivalTime time.Time `json:"-"`
	StartTime       time.Time `json:"-"`
	TotalBits       uint64    `json:"total_bits"`
	Count           uint32    `json:"count"`

	// elementary stream content
	RandomAccessPoints uint32 `json:"random_access_points,omitempty"`
	Captions           bool   `json:"captions,omitempty"`
	SpliceEvents       uint32 `json:"splice_events,omitempty"`
	LastSplice         string `json:"last_splice,omitempty"`

	// view into the capture buffer
	Packet      *Buffer `json:"-"`
	PacketStart int     `json:"packet_start"`
	PacketLen   int     `json:"packet_len"`

	// decoder flags
	SyncError      bool   `json:"sync_error,omitempty"`
	TransportError bool   `json:"transport_error,omitempty"`
	Scrambled      bool   `json:"scrambled,omitempty"`
	PUSI           bool   `json:"pusi,omitempty"`
	HasPayload     bool   `json:"-"`
	HasAdaptation  bool   `json:"-"`
	Discontinuity  bool   `json:"discontinuity,omitempty"`
	HasPCR         bool   `json:"-"`
	PCR            uint64 `json:"-"`

	// SMPTE 2110 fields
	RTP                       bool   `json:"rtp,omitempty"`
	RTPTimestamp              uint32 `json:"rtp_timestamp,omitempty"`
	RTPPayloadType            uint8  `json:"rtp_payload_type,omitempty"`
	RTPPayloadTypeName        string `json:"rtp_payload_type_name,omitempty"`
	RTPMarker                 bool   `json:"rtp_marker,omitempty"`
	RTPSSRC                   uint32 `json:"rtp_ssrc,omitempty"`
	RTPLineNumber             uint16 `json:"rtp_line_number,omitempty"`
	RTPLineOffset             uint16 `json:"rtp_line_offset,omitempty"`
	RTPLineLength             uint16 `json:"rtp_line_length,omitempty"`
	RTPFieldID                uint8  `json:"rtp_field_id,omitempty"`
	RTPLineContinuation       uint8  `json:"rtp_line_continuation,omitempty"`
	RTPExtendedSequenceNumber uint16 `json:"rtp_extended_sequence_number,omitempty"`
	RTPSequenceNumber         uint32 `json:"rtp_sequence_number,omitempty"` // extended 32 bit sequence

	// running sums behind the averages
	iatSamples     uint64
	iatSum         time.Duration
	bitrateSamples uint64
	bitrateSum     uint64
}

// New creates a record for a packet found at buf.Data[start:start+length]
func New(buf *Buffer, start, length int) *StreamData {
	return &StreamData{
		PMTPID:        Unresolved,
		ProgramNumber: Unresolved,
		StreamType:    "unknown",
		Codec:         "NONE",
		Packet:        buf,
		PacketStart:   start,
		PacketLen:     length,
	}
}

// Info is the table derived description of a PID
type Info struct {
	PMTPID        uint16
	ProgramNumber uint16
	StreamType    string
	StreamTypeID  uint8
	Codec         string
}

// ApplyInfo sets the table derived fields of the record
func (s *StreamData) ApplyInfo(info Info) {
	s.PMTPID = info.PMTPID
	s.ProgramNumber = info.ProgramNumber
	s.StreamType = info.StreamType
	s.StreamTypeID = info.StreamTypeID
	s.Codec = info.Codec
}

// Bytes returns the packet bytes from the shared capture buffer without copying
func (s *StreamData) Bytes() []byte {
	if s.Packet == nil {
		return nil
	}
	end := s.PacketStart + s.PacketLen
	if s.PacketStart < 0 || end > len(s.Packet.Data) {
		return nil
	}
	return s.Packet.Data[s.PacketStart:end:end]
}

// Arrival returns the capture time of the packet
func (s *StreamData) Arrival() time.Time {
	if s.Packet == nil {
		return time.Time{}
	}
	return s.Packet.Arrival
}

// AddIAT records an inter-arrival sample and updates max/min and the
// cumulative average over all samples
func (s *StreamData) AddIAT(iat time.Duration) {
	if iat < 0 {
		iat = 0
	}
	s.IAT = iat
	if s.iatSamples == 0 || iat > s.IATMax {
		s.IATMax = iat
	}
	if s.iatSamples == 0 || iat < s.IATMin {
		s.IATMin = iat
	}
	s.iatSamples++
	s.iatSum += iat
	s.IATAvg = s.iatSum / time.Duration(s.iatSamples)
}

// AddBitrate records a bitrate sample and updates max/min and the cumulative average
func (s *StreamData) AddBitrate(bitrate uint64) {
	s.Bitrate = bitrate
	if s.bitrateSamples == 0 || bitrate > s.BitrateMax {
		s.BitrateMax = bitrate
	}
	if s.bitrateSamples == 0 || bitrate < s.BitrateMin {
		s.BitrateMin = bitrate
	}
	s.bitrateSamples++
	s.bitrateSum += bitrate
	s.BitrateAvg = s.bitrateSum / s.bitrateSamples
}

// ResetStats zeroes the running statistics while keeping identity and
// table association of the PID
func (s *StreamData) ResetStats() {
	*s = StreamData{
		PID:               s.PID,
		PMTPID:            s.PMTPID,
		ProgramNumber:     s.ProgramNumber,
		StreamType:        s.StreamType,
		StreamTypeID:      s.StreamTypeID,
		Codec:             s.Codec,
		ContinuityCounter: s.ContinuityCounter,
		Packet:            s.Packet,
		PacketStart:       s.PacketStart,
		PacketLen:         s.PacketLen,
	}
}

type jsonTimes struct {
	IAT             int64 `json:"iat_us"`
	IATMax          int64 `json:"iat_max_us"`
	IATMin          int64 `json:"iat_min_us"`
	IATAvg          int64 `json:"iat_avg_us"`
	LastArrivalTime int64 `json:"last_arrival_time"`
	StartTime       int64 `json:"start_time"`
}

// MarshalJSON encodes durations in microseconds and times as unix milliseconds.
// The capture buffer is never serialized.
func (s StreamData) MarshalJSON() ([]byte, error) {
	type plain StreamData
	return json.Marshal(struct {
		plain
		jsonTimes
	}{
		plain: plain(s),
		jsonTimes: jsonTimes{
			IAT:             s.IAT.Microseconds(),
			IATMax:          s.IATMax.Microseconds(),
			IATMin:          s.IATMin.Microseconds(),
			IATAvg:          s.IATAvg.Microseconds(),
			LastArrivalTime: unixMilli(s.LastArrivalTime),
			StartTime:       unixMilli(s.StartTime),
		},
	})
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
