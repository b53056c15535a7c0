package immis

import (
	"encoding/binary"
	"fmt"
)

// Wire format: 9 byte header (type u8, sequence u32 BE, payload size u32 BE)
// followed by the payload.
const HeaderSize = 9

// A sane upper bound for a single frame. The vendor sends TS chunks of a few
// kilobytes, so anything bigger means the stream is out of sync.
const MaxPayload = 4 << 20

type Frame struct {
	Type     MsgType
	Sequence uint32
	Payload  []byte
}

// DecodeHeader reads the fixed frame header. ok is false if the buffer
// doesn't hold a complete header yet.
func DecodeHeader(b []byte) (t MsgType, seq, size uint32, ok bool) {
	if len(b) < HeaderSize {
		return
	}
	t = MsgType(b[0])
	seq = binary.BigEndian.Uint32(b[1:])
	size = binary.BigEndian.Uint32(b[5:])
	ok = true
	return
}

// Demux extracts all complete frames from buf. The undrained tail of the
// last incomplete frame is returned as remainder. Frame payloads alias buf.
func Demux(buf []byte) (frames []Frame, remainder []byte, err error) {
	for {
		t, seq, size, ok := DecodeHeader(buf)
		if !ok {
			break
		}
		if size > MaxPayload {
			return frames, buf, fmt.Errorf("immis: implausible payload size %d", size)
		}
		if len(buf) < HeaderSize+int(size) {
			break
		}
		frames = append(frames, Frame{t, seq, buf[HeaderSize : HeaderSize+size]})
		buf = buf[HeaderSize+size:]
	}
	return frames, buf, nil
}

// BuildPacket builds an outbound frame. Used for every packet the proxy
// sends upstream (auth excepted, see BuildAuthHeader).
func BuildPacket(t MsgType, seq uint32, payload []byte) []byte {
	b := make([]byte, HeaderSize+len(payload))
	b[0] = byte(t)
	binary.BigEndian.PutUint32(b[1:], seq)
	binary.BigEndian.PutUint32(b[5:], uint32(len(payload)))
	copy(b[HeaderSize:], payload)
	return b
}
