package mpegts

// Adaptation field flag masks (first byte after adaptation_field_length)
const (
	DiscontinuityAFMask = 0x80
	RandomAccessAFMask  = 0x40
	PCRAFMask           = 0x10

	PCRLen = 6
	// PCRClock is the 27MHz system clock the extended PCR is counted in
	PCRClock = 27_000_000
)

// AdaptationField holds the adaptation field values relevant for monitoring
type AdaptationField struct {
	Discontinuity bool
	RandomAccess  bool
	HasPCR        bool
	PCR           uint64 // 27MHz units: base*300 + extension
}

// ParseAdaptationField decodes flags and PCR from the adaptation field
// bytes following the length byte. Short fields yield the zero value.
func ParseAdaptationField(af []byte) AdaptationField {
	var res AdaptationField
	if len(af) < 1 {
		return res
	}
	flags := af[0]
	res.Discontinuity = flags&DiscontinuityAFMask > 0
	res.RandomAccess = flags&RandomAccessAFMask > 0

	if flags&PCRAFMask > 0 && len(af) >= 1+PCRLen {
		b := af[1 : 1+PCRLen]
		base := uint64(b[0])<<25 | uint64(b[1])<<17 | uint64(b[2])<<9 | uint64(b[3])<<1 | uint64(b[4])>>7
		ext := uint64(b[4]&0x1)<<8 | uint64(b[5])
		res.HasPCR = true
		res.PCR = base*300 + ext
	}
	return res
}

// EncodePCRField returns an adaptation field (without length byte) carrying
// the given 27MHz PCR value.
func EncodePCRField(pcr uint64, discontinuity bool) []byte {
	base := pcr / 300
	ext := pcr % 300
	af := make([]byte, 1+PCRLen)
	af[0] = PCRAFMask
	if discontinuity {
		af[0] |= DiscontinuityAFMask
	}
	af[1] = byte(base >> 25)
	af[2] = byte(base >> 17)
	af[3] = byte(base >> 9)
	af[4] = byte(base >> 1)
	af[5] = byte(base&0x1)<<7 | 0x7e | byte(ext>>8)&0x1
	af[6] = byte(ext)
	return af
}
