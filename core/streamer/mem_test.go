package streamer

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemHandler(t *testing.T) {
	h := NewMemHandler([]byte("hello world"))
	require.NoError(t, h.Open())
	defer h.Close()

	buf := make([]byte, 5)
	n, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	pos, err := h.Seek(6, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	n, err = h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	_, err = h.Read(buf)
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, int64(11), h.Length())
}

func TestMemHandlerRejectsOutOfRangeSeek(t *testing.T) {
	h := NewMemHandler([]byte("abc"))
	require.NoError(t, h.Open())

	_, err := h.Seek(10, io.SeekStart)
	assert.Error(t, err)
	_, err = h.Seek(-1, io.SeekStart)
	assert.Error(t, err)

	// failed seeks leave the position untouched
	buf := make([]byte, 3)
	n, _ := h.Read(buf)
	assert.Equal(t, "abc", string(buf[:n]))
}
