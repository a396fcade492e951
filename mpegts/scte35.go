package mpegts

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// SCTE-35 constants
const (
	TableTypeSpliceInfo = 0xfc

	SpliceNull                 = 0x00
	SpliceSchedule             = 0x04
	SpliceInsertCommand        = 0x05
	TimeSignalCommand          = 0x06
	BandwidthReservation       = 0x07
	PrivateCommand             = 0xff
	spliceCommandLengthUnknown = 0xfff
)

// SpliceInsert is a decoded splice_insert command
type SpliceInsert struct {
	EventID         uint32
	Cancel          bool
	OutOfNetwork    bool
	ProgramSplice   bool
	Immediate       bool
	HasPTS          bool
	PTS             int64
	HasDuration     bool
	AutoReturn      bool
	Duration        int64 // 90kHz
	UniqueProgramID uint16
	AvailNum        uint8
	AvailsExpected  uint8
}

// SpliceInfo is a decoded splice_info_section. Only splice_insert and
// time_signal commands are decoded further.
type SpliceInfo struct {
	PTSAdjustment int64
	Encrypted     bool
	Tier          uint16
	CommandType   uint8
	Insert        *SpliceInsert
	HasTime       bool
	Time          int64 // time_signal PTS
}

// CommandName returns the name of the splice command
func (s *SpliceInfo) CommandName() string {
	switch s.CommandType {
	case SpliceNull:
		return "splice_null"
	case SpliceSchedule:
		return "splice_schedule"
	case SpliceInsertCommand:
		return "splice_insert"
	case TimeSignalCommand:
		return "time_signal"
	case BandwidthReservation:
		return "bandwidth_reservation"
	case PrivateCommand:
		return "private_command"
	default:
		return fmt.Sprintf("reserved_0x%02x", s.CommandType)
	}
}

func (s *SpliceInfo) String() string {
	var sb strings.Builder
	sb.WriteString(s.CommandName())
	if ins := s.Insert; ins != nil {
		fmt.Fprintf(&sb, " event=%d", ins.EventID)
		switch {
		case ins.Cancel:
			sb.WriteString(" cancel")
		case ins.OutOfNetwork:
			sb.WriteString(" out")
		default:
			sb.WriteString(" in")
		}
		if ins.Immediate {
			sb.WriteString(" immediate")
		}
		if ins.HasPTS {
			fmt.Fprintf(&sb, " pts=%d", s.adjust(ins.PTS))
		}
		if ins.HasDuration {
			fmt.Fprintf(&sb, " duration=%d", ins.Duration)
		}
	}
	if s.HasTime {
		fmt.Fprintf(&sb, " pts=%d", s.adjust(s.Time))
	}
	return sb.String()
}

func (s *SpliceInfo) adjust(pts int64) int64 {
	return (pts + s.PTSAdjustment) % PTSWrap
}

// sectionReader reads big endian fields and remembers running out of data
type sectionReader struct {
	b   []byte
	err error
}

func (r *sectionReader) next(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if n > len(r.b) {
		r.err = ErrInvalidSection
		return make([]byte, n)
	}
	res := r.b[:n]
	r.b = r.b[n:]
	return res
}

func (r *sectionReader) readByte() byte {
	return r.next(1)[0]
}

// spliceTime reads a splice_time() structure
func (r *sectionReader) spliceTime() (pts int64, ok bool) {
	if r.err == nil && len(r.b) > 0 && r.b[0]&0x80 != 0 {
		return decode33(r.next(5)), true
	}
	r.next(1)
	return 0, false
}

// decode33 reads a 33 bit value from the low bit of b[0] and b[1:5]
func decode33(b []byte) int64 {
	return int64(b[0]&0x1)<<32 | int64(binary.BigEndian.Uint32(b[1:5]))
}

// ParseSpliceInfo parses a complete SCTE-35 splice_info_section starting
// at table_id. The CRC is verified.
func ParseSpliceInfo(section []byte) (*SpliceInfo, error) {
	if len(section) < 3 {
		return nil, ErrSectionTooShort
	}
	if section[0] != TableTypeSpliceInfo {
		return nil, ErrUnexpectedTable
	}
	n := SectionLen(section)
	if n > len(section) || n < 3+11+4 {
		return nil, ErrSectionTooShort
	}
	section = section[:n]
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("SCTE-35: %w", err)
	}

	r := &sectionReader{b: section[3 : n-CRCLen]}
	r.next(1) // protocol_version
	head := r.next(5)
	info := &SpliceInfo{
		Encrypted:     head[0]&0x80 != 0,
		PTSAdjustment: decode33(head),
	}
	r.next(1) // cw_index
	tier := r.next(3)
	info.Tier = uint16(tier[0])<<4 | uint16(tier[1]>>4)
	cmdLen := int(tier[1]&0xf)<<8 | int(tier[2])
	info.CommandType = r.readByte()
	if r.err != nil {
		return nil, fmt.Errorf("SCTE-35: %w", r.err)
	}
	if info.Encrypted {
		return info, nil
	}

	cmd := r
	if cmdLen != spliceCommandLengthUnknown {
		cmd = &sectionReader{b: r.next(cmdLen), err: r.err}
	}
	switch info.CommandType {
	case SpliceInsertCommand:
		info.Insert = parseSpliceInsert(cmd)
	case TimeSignalCommand:
		info.Time, info.HasTime = cmd.spliceTime()
	}
	if cmd.err != nil {
		return nil, fmt.Errorf("SCTE-35 %s: %w", info.CommandName(), cmd.err)
	}
	return info, nil
}

func parseSpliceInsert(r *sectionReader) *SpliceInsert {
	ins := &SpliceInsert{
		EventID: binary.BigEndian.Uint32(r.next(4)),
	}
	ins.Cancel = r.readByte()&0x80 != 0
	if ins.Cancel {
		return ins
	}

	flags := r.readByte()
	ins.OutOfNetwork = flags&0x80 != 0
	ins.ProgramSplice = flags&0x40 != 0
	ins.HasDuration = flags&0x20 != 0
	ins.Immediate = flags&0x10 != 0

	if ins.ProgramSplice {
		if !ins.Immediate {
			ins.PTS, ins.HasPTS = r.spliceTime()
		}
	} else {
		components := int(r.readByte())
		for range components {
			r.next(1) // component_tag
			if !ins.Immediate {
				r.spliceTime()
			}
		}
	}
	if ins.HasDuration {
		b := r.next(5)
		ins.AutoReturn = b[0]&0x80 != 0
		ins.Duration = decode33(b)
	}
	ins.UniqueProgramID = binary.BigEndian.Uint16(r.next(2))
	ins.AvailNum = r.readByte()
	ins.AvailsExpected = r.readByte()
	return ins
}

/**
 * Splice encoding
 */
// EncodeSpliceInfo builds an unencrypted splice_info_section including CRC
func EncodeSpliceInfo(ptsAdjustment int64, commandType uint8, command []byte) []byte {
	sectionLength := 11 + len(command) + 2 + CRCLen
	section := make([]byte, 0, 3+sectionLength)
	section = append(section, TableTypeSpliceInfo)
	section = binary.BigEndian.AppendUint16(section, 0x3000|uint16(sectionLength)&0xfff)
	section = append(section, 0) // protocol_version
	section = append(section, encode33(0x7e, ptsAdjustment)...)
	section = append(section, 0xff) // cw_index
	// tier 0xfff and the command length
	section = append(section, 0xff, 0xf0|byte(len(command)>>8)&0xf, byte(len(command)))
	section = append(section, commandType)
	section = append(section, command...)
	section = append(section, 0, 0) // descriptor_loop_length
	return binary.BigEndian.AppendUint32(section, CRC32(section))
}

// EncodeSpliceInsert builds a program splice_insert command
func EncodeSpliceInsert(ins SpliceInsert) []byte {
	cmd := binary.BigEndian.AppendUint32(nil, ins.EventID)
	if ins.Cancel {
		return append(cmd, 0xff)
	}
	cmd = append(cmd, 0x7f)
	flags := byte(0x4f) // program_splice_flag
	if ins.OutOfNetwork {
		flags |= 0x80
	}
	if ins.HasDuration {
		flags |= 0x20
	}
	if ins.Immediate {
		flags |= 0x10
	}
	cmd = append(cmd, flags)
	if !ins.Immediate {
		cmd = append(cmd, encodeSpliceTime(ins.HasPTS, ins.PTS)...)
	}
	if ins.HasDuration {
		prefix := byte(0x7e)
		if ins.AutoReturn {
			prefix |= 0x80
		}
		cmd = append(cmd, encode33(prefix, ins.Duration)...)
	}
	cmd = binary.BigEndian.AppendUint16(cmd, ins.UniqueProgramID)
	return append(cmd, ins.AvailNum, ins.AvailsExpected)
}

// EncodeTimeSignal builds a time_signal command
func EncodeTimeSignal(pts int64) []byte {
	return encodeSpliceTime(true, pts)
}

func encodeSpliceTime(specified bool, pts int64) []byte {
	if !specified {
		return []byte{0x7f}
	}
	return encode33(0xfe, pts)
}

// encode33 stores a 33 bit value behind the 7 bits of prefix
func encode33(prefix byte, v int64) []byte {
	v &= PTSWrap - 1
	b := []byte{prefix&0xfe | byte(v>>32), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[1:], uint32(v))
	return b
}
