// Package immis implements a proxy for the IMMIS camera live-streaming
// protocol: a TLS connection to the vendor cloud carrying framed MPEG-TS,
// re-exposed as a plain TCP byte stream for a local media pipeline.
package immis

import "fmt"

type MsgType byte

const (
	MsgVideo            MsgType = 0x00
	MsgKeepAlive        MsgType = 0x0A
	MsgLatencyStats     MsgType = 0x12
	MsgInlineCommand    MsgType = 0x14
	MsgAccessoryMessage MsgType = 0x15
	MsgSessionCommand   MsgType = 0x17
	MsgSessionMessage   MsgType = 0x18
)

func (t MsgType) String() string {
	switch t {
	case MsgVideo:
		return "video"
	case MsgKeepAlive:
		return "keepalive"
	case MsgLatencyStats:
		return "latency"
	case MsgInlineCommand:
		return "inline_command"
	case MsgAccessoryMessage:
		return "accessory_message"
	case MsgSessionCommand:
		return "session_command"
	case MsgSessionMessage:
		return "session_message"
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(t))
}

// MPEG transport stream sync byte, first byte of every valid video payload
const tsSyncByte = 0x47
