package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryLog(t *testing.T) {
	m := &memoryLog{limit: 64}

	_, err := m.Write([]byte("line1\n"))
	require.Nil(t, err)
	_, _ = m.Write([]byte("line2\n"))

	buf := bytes.NewBuffer(nil)
	_, err = m.WriteTo(buf)
	require.Nil(t, err)
	require.Equal(t, "line1\nline2\n", buf.String())

	// overflow keeps the tail
	for i := 0; i < 32; i++ {
		_, _ = m.Write([]byte("0123456789\n"))
	}

	buf.Reset()
	_, _ = m.WriteTo(buf)
	require.LessOrEqual(t, buf.Len(), 64)
	require.True(t, strings.HasSuffix(buf.String(), "0123456789\n"))

	m.Reset()
	buf.Reset()
	_, _ = m.WriteTo(buf)
	require.Zero(t, buf.Len())
}
