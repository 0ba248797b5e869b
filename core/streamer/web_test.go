package streamer

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := int64(0)
		if h := r.Header.Get("Range"); h != "" {
			spec := strings.TrimSuffix(strings.TrimPrefix(h, "bytes="), "-")
			var err error
			start, err = strconv.ParseInt(spec, 10, 64)
			require.NoError(t, err)
			w.Header().Set("Content-Range", "bytes "+spec+"-/"+strconv.Itoa(len(payload)))
			w.Header().Set("Content-Length", strconv.Itoa(len(payload[start:])))
			w.WriteHeader(http.StatusPartialContent)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload[start:])))
		_, _ = w.Write(payload[start:])
	}))
}

func TestURLHandlerStreams(t *testing.T) {
	payload := pattern(300 * 1024)
	srv := rangeServer(t, payload)
	defer srv.Close()

	h, err := NewURLHandler(srv.URL, BufferConfig{
		BufSize:     64 * 1024,
		FillSize:    16 * 1024,
		ReadTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, h.Open())
	defer h.Close()

	var out []byte
	chunk := make([]byte, 8192)
	for {
		n, err := h.Read(chunk)
		out = append(out, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrCheckSocket) {
			continue
		}
		require.NoError(t, err)
	}
	assert.Equal(t, payload, out)
	assert.Equal(t, int64(len(payload)), h.Length())
}

func TestURLHandlerSeekUsesRangeRequest(t *testing.T) {
	payload := pattern(200 * 1024)
	srv := rangeServer(t, payload)
	defer srv.Close()

	h, err := NewURLHandler(srv.URL, BufferConfig{
		BufSize:     32 * 1024,
		FillSize:    8 * 1024,
		ReadTimeout: 5 * time.Second,
		SeekEnabled: true,
	})
	require.NoError(t, err)
	require.NoError(t, h.Open())
	defer h.Close()

	head := make([]byte, 64)
	_, err = h.Read(head)
	require.NoError(t, err)

	target := int64(150 * 1024)
	pos, err := h.Seek(target, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, target, pos)

	chunk := make([]byte, 64)
	var n int
	for {
		n, err = h.Read(chunk)
		if n > 0 || errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrCheckSocket) {
			continue
		}
		require.NoError(t, err)
	}
	assert.Equal(t, payload[target:target+int64(n)], chunk[:n])
}

func TestURLHandlerFailsOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h, err := NewURLHandler(srv.URL, BufferConfig{BufSize: 1024, ReadTimeout: 2 * time.Second})
	require.NoError(t, err)
	require.NoError(t, h.Open())
	defer h.Close()

	buf := make([]byte, 16)
	for {
		_, err = h.Read(buf)
		if err != nil && !errors.Is(err, ErrCheckSocket) {
			break
		}
	}
	assert.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}