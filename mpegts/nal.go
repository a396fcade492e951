package mpegts

// AVC NAL unit type constants
const (
	NALUnitTypeIDR = 5
	NALUnitTypeSEI = 6
	NALUnitTypeSPS = 7
	NALUnitTypePPS = 8
)

// HEVC NAL unit type constants
const (
	HEVCNALUnitTypeVPS = 32
	HEVCNALUnitTypeSPS = 33
	HEVCNALUnitTypePPS = 34

	HEVCNALUnitTypeSEIPrefix = 39
)

// ContainsParameterSets checks whether a PES payload fragment carries the
// sequence parameter set of the given codec, i.e. a point where a decoder
// can start. MPEG-2 video is detected through its sequence header code.
func ContainsParameterSets(buf []byte, codec Codec) bool {
	var state byte
	for i := 0; i < len(buf); i++ {
		// last three bytes were 00 00 01
		if state&0x3f == 0x17 {
			switch codec {
			case CodecH264:
				if buf[i]&0x1f == NALUnitTypeSPS {
					return true
				}
			case CodecH265:
				// H.265 NAL unit type is in bits 1–6 of the first byte after start code
				switch (buf[i] >> 1) & 0x3f {
				case HEVCNALUnitTypeVPS, HEVCNALUnitTypeSPS:
					return true
				}
			case CodecMPEG2:
				if buf[i] == 0xb3 {
					return true
				}
			}
		}

		cur := 0
		switch buf[i] {
		case 0x00:
			cur = 1
		case 0x01:
			cur = 3
		default:
			cur = 2
		}

		/* state of last four bytes packed into one byte; two bits for unseen/zero/over
		 * one/one (0..3 respectively).
		 */
		state = (state << 2) | byte(cur)
	}
	return false
}

// SplitNALUnits splits an Annex B byte stream at its start codes. The
// returned units start with the NAL header and alias buf.
func SplitNALUnits(buf []byte) [][]byte {
	var starts []int // first byte after each start code
	var codeStarts []int
	for i := 0; i+2 < len(buf); {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			codeStarts = append(codeStarts, i)
			starts = append(starts, i+3)
			i += 3
			continue
		}
		i++
	}

	units := make([][]byte, 0, len(starts))
	for n, start := range starts {
		end := len(buf)
		if n+1 < len(starts) {
			end = codeStarts[n+1]
			// four byte start code
			if end > start && buf[end-1] == 0 {
				end--
			}
		}
		if start < end {
			units = append(units, buf[start:end])
		}
	}
	return units
}

// IsSEI reports whether nal is a supplemental enhancement information unit
// of the given codec
func IsSEI(nal []byte, codec Codec) bool {
	if len(nal) == 0 {
		return false
	}
	switch codec {
	case CodecH264:
		return nal[0]&0x1f == NALUnitTypeSEI
	case CodecH265:
		return len(nal) > 2 && (nal[0]>>1)&0x3f == HEVCNALUnitTypeSEIPrefix
	default:
		return false
	}
}
