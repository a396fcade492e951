package mpegts

// maxSectionBuffer bounds the reassembly buffer of a single PID
const maxSectionBuffer = 4096

// SectionAssembler reassembles PSI sections which may span several packets
// of the same PID. It is not safe for concurrent use.
type SectionAssembler struct {
	buf    []byte
	active bool
}

// Push feeds the payload of one packet and returns all sections completed by it.
// Sections returned stay valid after subsequent calls.
func (a *SectionAssembler) Push(payload []byte, pusi bool) ([][]byte, error) {
	var sections [][]byte

	if pusi {
		if len(payload) < 1 {
			a.Reset()
			return nil, ErrSectionTooShort
		}
		pointer := int(payload[0])
		if 1+pointer > len(payload) {
			a.Reset()
			return nil, ErrInvalidPointer
		}

		// bytes before the pointer finish the previous section
		if a.active && pointer > 0 {
			a.buf = append(a.buf, payload[1:1+pointer]...)
			sections = a.extract(sections)
		}
		a.buf = append([]byte(nil), payload[1+pointer:]...)
		a.active = true
	} else {
		// continuation without a start, wait for the next PUSI
		if !a.active {
			return nil, nil
		}
		a.buf = append(a.buf, payload...)
	}

	if len(a.buf) > maxSectionBuffer {
		a.Reset()
		return sections, ErrSectionTooLong
	}

	return a.extract(sections), nil
}

func (a *SectionAssembler) extract(sections [][]byte) [][]byte {
	for {
		// stuffing ends the payload unit
		if len(a.buf) == 0 || a.buf[0] == 0xff {
			a.Reset()
			return sections
		}
		n := SectionLen(a.buf)
		if n == 0 || n > len(a.buf) {
			return sections
		}
		sections = append(sections, a.buf[:n:n])
		a.buf = a.buf[n:]
	}
}

// Reset drops partially assembled data, e.g. after a continuity error
func (a *SectionAssembler) Reset() {
	a.buf = nil
	a.active = false
}
