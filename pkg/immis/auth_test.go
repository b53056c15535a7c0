package immis

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLiveview(t *testing.T) {
	live, err := ParseLiveview("immis://cam.example.com:16258/ABC123__extra?client_id=77")
	require.Nil(t, err)
	require.Equal(t, "cam.example.com:16258", live.Host)
	require.Equal(t, uint32(77), live.ClientID)
	require.Equal(t, "ABC123", live.ConnID)

	// default port, no client_id, multi-segment path
	live, err = ParseLiveview("immis://cam.example.com/v2/sessions/XYZ__9__z")
	require.Nil(t, err)
	require.Equal(t, "cam.example.com:443", live.Host)
	require.Equal(t, uint32(0), live.ClientID)
	require.Equal(t, "XYZ", live.ConnID)

	// unparseable client_id falls back to 0
	live, err = ParseLiveview("immis://h:1/p__s?client_id=banana")
	require.Nil(t, err)
	require.Equal(t, uint32(0), live.ClientID)

	_, err = ParseLiveview("rtsp://h:1/p")
	require.NotNil(t, err)
}

func TestBuildAuthHeader(t *testing.T) {
	b := BuildAuthHeader("SERIAL0123456789", 5, "CONN")
	require.Len(t, b, 122)

	require.Equal(t, uint32(0x28), binary.BigEndian.Uint32(b))
	require.Equal(t, uint32(16), binary.BigEndian.Uint32(b[4:]))
	require.Equal(t, []byte("SERIAL0123456789"), b[8:24])
	require.Equal(t, uint32(5), binary.BigEndian.Uint32(b[24:]))
	require.Equal(t, []byte{0x01, 0x08}, b[28:30])
	require.Equal(t, uint32(64), binary.BigEndian.Uint32(b[30:]))
	require.Equal(t, make([]byte, 64), b[34:98]) // token is all zeros
	require.Equal(t, uint32(16), binary.BigEndian.Uint32(b[98:]))
	require.Equal(t, append([]byte("CONN"), make([]byte, 12)...), b[102:118])
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(b[118:]))
}

func TestBuildAuthHeaderPadding(t *testing.T) {
	// serial of length 20 truncated to 16
	b := BuildAuthHeader("01234567890123456789", 0, "0123456789abcdef0000")
	require.Len(t, b, 122)
	require.Equal(t, []byte("0123456789012345"), b[8:24])
	require.Equal(t, []byte("0123456789abcdef"), b[102:118])

	// serial of length 3 zero-padded to 16
	b = BuildAuthHeader("abc", 0, "")
	require.Len(t, b, 122)
	require.Equal(t, append([]byte("abc"), make([]byte, 13)...), b[8:24])
	require.Equal(t, make([]byte, 16), b[102:118])
}
