package mpegts

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseSpliceInfo_Insert(t *testing.T) {
	ins := SpliceInsert{
		EventID:         42,
		OutOfNetwork:    true,
		ProgramSplice:   true,
		HasPTS:          true,
		PTS:             0x1_0000_0010,
		HasDuration:     true,
		AutoReturn:      true,
		Duration:        30 * PTSClock,
		UniqueProgramID: 7,
		AvailNum:        1,
		AvailsExpected:  2,
	}
	section := EncodeSpliceInfo(90, SpliceInsertCommand, EncodeSpliceInsert(ins))

	info, err := ParseSpliceInfo(section)
	assert.NilError(t, err)
	assert.Equal(t, info.CommandType, uint8(SpliceInsertCommand))
	assert.Equal(t, info.PTSAdjustment, int64(90))
	assert.Equal(t, info.Tier, uint16(0xfff))
	assert.Assert(t, info.Insert != nil)
	assert.DeepEqual(t, *info.Insert, ins)
	assert.Equal(t, info.String(), "splice_insert event=42 out pts=4294967402 duration=2700000")
}

func TestParseSpliceInfo_Commands(t *testing.T) {
	tests := []struct {
		name    string
		section []byte
		want    string
	}{
		{"Null", EncodeSpliceInfo(0, SpliceNull, nil), "splice_null"},
		{"TimeSignal", EncodeSpliceInfo(0, TimeSignalCommand, EncodeTimeSignal(PTSClock)), "time_signal pts=90000"},
		{"TimeSignalWrap", EncodeSpliceInfo(10, TimeSignalCommand, EncodeTimeSignal(PTSWrap-5)), "time_signal pts=5"},
		{"Cancel", EncodeSpliceInfo(0, SpliceInsertCommand, EncodeSpliceInsert(SpliceInsert{EventID: 3, Cancel: true})), "splice_insert event=3 cancel"},
		{"Immediate", EncodeSpliceInfo(0, SpliceInsertCommand, EncodeSpliceInsert(SpliceInsert{EventID: 4, Immediate: true})), "splice_insert event=4 in immediate"},
		{"Private", EncodeSpliceInfo(0, PrivateCommand, []byte{'C', 'U', 'E', 'I'}), "private_command"},
		{"Reserved", EncodeSpliceInfo(0, 0x10, nil), "reserved_0x10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseSpliceInfo(tt.section)
			assert.NilError(t, err)
			assert.Equal(t, info.String(), tt.want)
		})
	}
}

func TestParseSpliceInfo_Errors(t *testing.T) {
	valid := EncodeSpliceInfo(0, TimeSignalCommand, EncodeTimeSignal(0))

	corrupt := append([]byte(nil), valid...)
	corrupt[14] ^= 0x01
	_, err := ParseSpliceInfo(corrupt)
	assert.ErrorIs(t, err, ErrCRCMismatch)

	pat := EncodePAT(1, 0, []Program{{Number: 1, PMTPID: 0x1000}})
	_, err = ParseSpliceInfo(pat)
	assert.ErrorIs(t, err, ErrUnexpectedTable)

	_, err = ParseSpliceInfo(valid[:10])
	assert.ErrorIs(t, err, ErrSectionTooShort)

	// command length says 5 bytes, splice_insert needs more
	short := EncodeSpliceInfo(0, SpliceInsertCommand, []byte{0, 0, 0, 1, 0x7f})
	_, err = ParseSpliceInfo(short)
	assert.ErrorIs(t, err, ErrInvalidSection)
}

func TestParseSpliceInfo_Encrypted(t *testing.T) {
	section := EncodeSpliceInfo(0, SpliceInsertCommand, []byte{1, 2, 3})
	section[4] |= 0x80
	section = section[:len(section)-CRCLen]
	section = append(section, 0, 0, 0, 0)
	crc := CRC32(section[:len(section)-CRCLen])
	section[len(section)-4] = byte(crc >> 24)
	section[len(section)-3] = byte(crc >> 16)
	section[len(section)-2] = byte(crc >> 8)
	section[len(section)-1] = byte(crc)

	info, err := ParseSpliceInfo(section)
	assert.NilError(t, err)
	assert.Assert(t, info.Encrypted)
	assert.Assert(t, info.Insert == nil)
}
