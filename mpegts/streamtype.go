package mpegts

import "fmt"

// Elementary Stream StreamType constants
const (
	StreamTypeMPEG1Video  = 0x01
	StreamTypeMPEG2Video  = 0x02
	StreamTypeMPEG1Audio  = 0x03
	StreamTypeMPEG2Audio  = 0x04
	StreamTypePrivateSect = 0x05
	StreamTypePrivateData = 0x06
	StreamTypeAudio       = 0x0f // ADTS AAC
	StreamTypeLATMAudio   = 0x11
	StreamTypeMetadata    = 0x15
	StreamTypeAVCVideo    = 0x1b
	StreamTypeHEVCVideo   = 0x24
	StreamTypeAC3Audio    = 0x81
	StreamTypeSCTE35      = 0x86
	StreamTypeEAC3Audio   = 0x87
)

// Stream categories as reported per PID
const (
	CategoryVideo   = "video"
	CategoryAudio   = "audio"
	CategoryText    = "text"
	CategoryData    = "data"
	CategorySCTE35  = "scte35"
	CategoryPSI     = "psi"
	CategoryUnknown = "unknown"
)

// Codec identifies the video coding of an elementary stream
type Codec uint8

// Codec constants
const (
	CodecNone Codec = iota
	CodecMPEG2
	CodecH264
	CodecH265
)

func (c Codec) String() string {
	switch c {
	case CodecMPEG2:
		return "MPEG2"
	case CodecH264:
		return "H264"
	case CodecH265:
		return "H265"
	default:
		return "NONE"
	}
}

// VideoCodec maps a PMT stream type to a video codec, CodecNone for non-video
func VideoCodec(streamType byte) Codec {
	switch streamType {
	case StreamTypeMPEG1Video, StreamTypeMPEG2Video:
		return CodecMPEG2
	case StreamTypeAVCVideo:
		return CodecH264
	case StreamTypeHEVCVideo:
		return CodecH265
	default:
		return CodecNone
	}
}

// Category returns the coarse category of a PMT stream type
func Category(streamType byte) string {
	switch streamType {
	case StreamTypeMPEG1Video, StreamTypeMPEG2Video, StreamTypeAVCVideo, StreamTypeHEVCVideo:
		return CategoryVideo
	case StreamTypeMPEG1Audio, StreamTypeMPEG2Audio, StreamTypeAudio, StreamTypeLATMAudio,
		StreamTypeAC3Audio, StreamTypeEAC3Audio:
		return CategoryAudio
	case StreamTypePrivateData:
		// teletext and subtitles are signaled as private data
		return CategoryText
	case StreamTypeSCTE35:
		return CategorySCTE35
	case StreamTypePrivateSect, StreamTypeMetadata:
		return CategoryData
	default:
		return CategoryUnknown
	}
}

// StreamTypeName returns a human readable name for a PMT stream type
func StreamTypeName(streamType byte) string {
	switch streamType {
	case StreamTypeMPEG1Video:
		return "MPEG-1 video"
	case StreamTypeMPEG2Video:
		return "MPEG-2 video"
	case StreamTypeMPEG1Audio:
		return "MPEG-1 audio"
	case StreamTypeMPEG2Audio:
		return "MPEG-2 audio"
	case StreamTypePrivateSect:
		return "private sections"
	case StreamTypePrivateData:
		return "private data"
	case StreamTypeAudio:
		return "AAC audio"
	case StreamTypeLATMAudio:
		return "AAC LATM audio"
	case StreamTypeMetadata:
		return "metadata"
	case StreamTypeAVCVideo:
		return "H.264 video"
	case StreamTypeHEVCVideo:
		return "H.265 video"
	case StreamTypeAC3Audio:
		return "AC-3 audio"
	case StreamTypeSCTE35:
		return "SCTE-35"
	case StreamTypeEAC3Audio:
		return "E-AC-3 audio"
	default:
		return fmt.Sprintf("stream type 0x%02x", streamType)
	}
}
