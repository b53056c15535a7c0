// Package latm extracts LATM/LOAS audio frames from a byte stream:
// an 11-bit sync pattern followed by a 13-bit frame length.
package latm

// SyncByte0 and the mask for the second byte form the LOAS AudioSyncStream
// syncword 0x2B7 (11 bits).
const (
	SyncByte0 = 0x56
	SyncMask1 = 0xE0
	SyncBits1 = 0xE0
)

const headerSize = 3

// IsSync reports whether b starts with a valid LOAS sync pattern.
func IsSync(b []byte) bool {
	return len(b) >= 2 && b[0] == SyncByte0 && b[1]&SyncMask1 == SyncBits1
}

// FrameSize decodes the 13-bit length field: low 5 bits of the second byte
// and the whole third byte. The length does not count the 3-byte prefix.
func FrameSize(b []byte) int {
	return int(b[1]&0x1F)<<8 | int(b[2])
}

// Demux scans buf for complete frames: bytes before a valid sync pattern are
// skipped and counted in discarded, a trailing partial frame is returned as
// remainder. Frames alias buf.
func Demux(buf []byte) (frames [][]byte, remainder []byte, discarded int) {
	for len(buf) > 0 {
		if buf[0] != SyncByte0 {
			buf = buf[1:]
			discarded++
			continue
		}
		if len(buf) < 2 {
			break // may be the start of a sync pattern
		}
		if buf[1]&SyncMask1 != SyncBits1 {
			buf = buf[1:]
			discarded++
			continue
		}
		if len(buf) < headerSize {
			break
		}

		size := FrameSize(buf)
		if len(buf) < headerSize+size {
			break
		}

		frames = append(frames, buf[headerSize:headerSize+size])
		buf = buf[headerSize+size:]
	}
	return frames, buf, discarded
}
