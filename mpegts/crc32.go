package mpegts

// MPEG-2 CRC32, polynomial 0x04C11DB7, not reflected
var crc32Table [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crc32Table[i] = crc
	}
}

// CRC32 computes the PSI section checksum
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crc32Table[byte(crc>>24)^b]
	}
	return crc
}

func verifyCRC32(section []byte) error {
	if len(section) < 4 {
		return ErrSectionTooShort
	}
	if CRC32(section) != 0 {
		return ErrCRCMismatch
	}
	return nil
}
