package mpegts

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PSI constants
const (
	PSIHeaderLen = 8
	CRCLen       = 4
	// MaxSectionLen is the largest section_length allowed for PAT/PMT/CAT
	MaxSectionLen = 1021
)

// PSI table type constants
const (
	TableTypePAT = 0x0
	TableTypeCAT = 0x1
	TableTypePMT = 0x2
)

// PSIHeader struct
type PSIHeader struct {
	TableID           byte
	SectionLength     uint16
	TableIDExtension  uint16 // transport_stream_id for PAT, program_number for PMT
	VersionNumber     byte
	CurrentNext       bool // true means current table version is valid, false means current table version not yet valid
	SectionNumber     byte // number of current section
	LastSectionNumber byte // number of last table section
}

// ParsePSIHeader parses the long form section header
func ParsePSIHeader(data []byte) (*PSIHeader, error) {
	hdr := PSIHeader{}
	if len(data) < 3 {
		return nil, io.ErrUnexpectedEOF
	}
	hdr.TableID = data[0]
	if data[1]&0x80 == 0 {
		return nil, ErrNoSectionSyntax
	}
	hdr.SectionLength = binary.BigEndian.Uint16(data[1:3]) & 0xfff
	if hdr.SectionLength > MaxSectionLen {
		return nil, ErrSectionTooLong
	}

	if len(data) < int(3+hdr.SectionLength) || hdr.SectionLength < PSIHeaderLen-3+CRCLen {
		return nil, io.ErrUnexpectedEOF
	}

	hdr.TableIDExtension = binary.BigEndian.Uint16(data[3:5])
	hdr.VersionNumber = data[5] >> 1 & 0x1f
	hdr.CurrentNext = data[5]&0x1 == 1
	hdr.SectionNumber = data[6]
	hdr.LastSectionNumber = data[7]

	return &hdr, nil
}

// Program is a single PAT entry
type Program struct {
	Number uint16 `json:"program_number"`
	PMTPID uint16 `json:"pmt_pid"`
}

// PAT is a parsed Program Association Table section
type PAT struct {
	Header            PSIHeader
	TransportStreamID uint16
	Programs          []Program
	NetworkPID        uint16 // 0 if not signaled
}

// ElementaryStream is a single PMT entry
type ElementaryStream struct {
	Type byte
	PID  uint16
}

// PMT is a parsed Program Map Table section
type PMT struct {
	Header        PSIHeader
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// ParsePAT parses a complete PAT section starting at table_id.
// The CRC is verified, a failed check leaves nothing parsed.
func ParsePAT(section []byte) (*PAT, error) {
	hdr, err := parseSection(section, TableTypePAT)
	if err != nil {
		return nil, fmt.Errorf("PAT: %w", err)
	}

	pat := &PAT{
		Header:            *hdr,
		TransportStreamID: hdr.TableIDExtension,
	}
	end := 3 + int(hdr.SectionLength) - CRCLen
	if (end-PSIHeaderLen)%4 != 0 {
		return nil, fmt.Errorf("PAT: %w", ErrInvalidSection)
	}
	for offset := PSIHeaderLen; offset+4 <= end; offset += 4 {
		programNumber := binary.BigEndian.Uint16(section[offset : offset+2])
		pid := binary.BigEndian.Uint16(section[offset+2:offset+4]) & 0x1fff
		if programNumber == 0 {
			pat.NetworkPID = pid
			continue
		}
		pat.Programs = append(pat.Programs, Program{Number: programNumber, PMTPID: pid})
	}
	return pat, nil
}

// ParsePMT parses a complete PMT section starting at table_id.
func ParsePMT(section []byte) (*PMT, error) {
	hdr, err := parseSection(section, TableTypePMT)
	if err != nil {
		return nil, fmt.Errorf("PMT: %w", err)
	}
	if hdr.SectionLength < 13 {
		return nil, fmt.Errorf("PMT: %w", ErrSectionTooShort)
	}

	pmt := &PMT{
		Header:        *hdr,
		ProgramNumber: hdr.TableIDExtension,
		PCRPID:        binary.BigEndian.Uint16(section[8:10]) & 0x1fff,
	}

	end := 3 + int(hdr.SectionLength) - CRCLen
	programInfoLength := int(binary.BigEndian.Uint16(section[10:12]) & 0xfff)
	offset := 12 + programInfoLength
	if offset > end {
		return nil, fmt.Errorf("PMT: %w", ErrInvalidSection)
	}

	for offset < end {
		if offset+5 > end {
			return nil, fmt.Errorf("PMT: %w", ErrInvalidSection)
		}
		streamType := section[offset]
		elementaryPID := binary.BigEndian.Uint16(section[offset+1:offset+3]) & 0x1fff
		esInfoLength := int(binary.BigEndian.Uint16(section[offset+3:offset+5]) & 0xfff)
		offset += 5 + esInfoLength
		if offset > end {
			return nil, fmt.Errorf("PMT: %w", ErrInvalidSection)
		}
		pmt.Streams = append(pmt.Streams, ElementaryStream{Type: streamType, PID: elementaryPID})
	}
	return pmt, nil
}

// ParseCAT validates a Conditional Access Table section
func ParseCAT(section []byte) (*PSIHeader, error) {
	hdr, err := parseSection(section, TableTypeCAT)
	if err != nil {
		return nil, fmt.Errorf("CAT: %w", err)
	}
	return hdr, nil
}

func parseSection(section []byte, tableID byte) (*PSIHeader, error) {
	hdr, err := ParsePSIHeader(section)
	if err != nil {
		return nil, err
	}
	if hdr.TableID != tableID {
		return nil, ErrUnexpectedTable
	}
	if err := verifyCRC32(section[:3+int(hdr.SectionLength)]); err != nil {
		return nil, err
	}
	return hdr, nil
}

// SectionLen returns the full length of the section starting at data[0]
// or 0 if the header is not complete yet
func SectionLen(data []byte) int {
	if len(data) < 3 {
		return 0
	}
	return 3 + int(binary.BigEndian.Uint16(data[1:3])&0xfff)
}

/**
 * Section encoding
 */
// EncodePAT builds a PAT section including CRC
func EncodePAT(tsID uint16, version byte, programs []Program) []byte {
	body := make([]byte, 0, 4*len(programs))
	for _, p := range programs {
		body = binary.BigEndian.AppendUint16(body, p.Number)
		body = binary.BigEndian.AppendUint16(body, 0xe000|p.PMTPID&0x1fff)
	}
	return encodeSection(TableTypePAT, tsID, version, body)
}

// EncodePMT builds a PMT section including CRC
func EncodePMT(programNumber uint16, version byte, pcrPID uint16, streams []ElementaryStream) []byte {
	body := make([]byte, 0, 4+5*len(streams))
	body = binary.BigEndian.AppendUint16(body, 0xe000|pcrPID&0x1fff)
	body = binary.BigEndian.AppendUint16(body, 0xf000) // no program info
	for _, es := range streams {
		body = append(body, es.Type)
		body = binary.BigEndian.AppendUint16(body, 0xe000|es.PID&0x1fff)
		body = binary.BigEndian.AppendUint16(body, 0xf000)
	}
	return encodeSection(TableTypePMT, programNumber, version, body)
}

func encodeSection(tableID byte, ext uint16, version byte, body []byte) []byte {
	sectionLength := PSIHeaderLen - 3 + len(body) + CRCLen
	section := make([]byte, 0, 3+sectionLength)
	section = append(section, tableID)
	section = binary.BigEndian.AppendUint16(section, 0xb000|uint16(sectionLength)&0xfff)
	section = binary.BigEndian.AppendUint16(section, ext)
	section = append(section, 0xc0|(version&0x1f)<<1|0x1, 0, 0)
	section = append(section, body...)
	return binary.BigEndian.AppendUint32(section, CRC32(section))
}

// PSIPayload prefixes a section with a zero pointer field so it can be
// carried in a packet with PUSI set
func PSIPayload(section []byte) []byte {
	payload := make([]byte, 1+len(section))
	copy(payload[1:], section)
	return payload
}
