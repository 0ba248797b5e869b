package streamer

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceProducer feeds a byte slice into the ring, optionally throttled.
type sliceProducer struct {
	mu      sync.Mutex
	data    []byte
	offset  int64
	delay   time.Duration
	chunk   int
}

func (p *sliceProducer) Run(b *Buffer) error {
	for !b.Shutdown() {
		if err := b.CheckSeek(); err != nil {
			return err
		}
		p.mu.Lock()
		remaining := p.data[p.offset:]
		if len(remaining) == 0 {
			p.mu.Unlock()
			return nil
		}
		chunk := p.chunk
		if chunk <= 0 || chunk > len(remaining) {
			chunk = len(remaining)
		}
		out := remaining[:chunk]
		p.mu.Unlock()

		if p.delay > 0 {
			time.Sleep(p.delay)
		}
		n, err := b.Write(out)
		p.mu.Lock()
		p.offset += int64(n)
		p.mu.Unlock()
		if err != nil {
			if b.Interrupted(err) {
				continue
			}
			return nil
		}
	}
	return nil
}

func (p *sliceProducer) SeekTo(offset int64, whence int) error {
	if whence != io.SeekStart {
		return errors.New("only seek-set supported")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset < 0 || offset > int64(len(p.data)) {
		return errors.New("out of range")
	}
	p.offset = offset
	return nil
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestBufferReadAll(t *testing.T) {
	data := pattern(128 * 1024)
	buf, err := NewBuffer(BufferConfig{BufSize: 16 * 1024, FillSize: 4 * 1024, ReadTimeout: 5 * time.Second},
		&sliceProducer{data: data, chunk: 1024})
	require.NoError(t, err)
	require.NoError(t, buf.Open())
	defer buf.Close()

	var out bytes.Buffer
	chunk := make([]byte, 8192)
	for {
		n, err := buf.Read(chunk)
		if n > 0 {
			out.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrCheckSocket) {
			continue
		}
		require.NoError(t, err)
	}
	assert.Equal(t, data, out.Bytes())
}

// The reader blocks until the initial fill size is reached, then a single
// small read returns promptly and close joins the producer.
func TestBufferInitialFillAndClose(t *testing.T) {
	data := pattern(1024 * 1024)
	buf, err := NewBuffer(BufferConfig{BufSize: 1024 * 1024, FillSize: 256 * 1024, ReadTimeout: 10 * time.Second},
		&sliceProducer{data: data, chunk: 64 * 1024})
	require.NoError(t, err)
	require.NoError(t, buf.Open())

	one := make([]byte, 1)
	n, err := buf.Read(one)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, data[0], one[0])

	done := make(chan struct{})
	go func() {
		_ = buf.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not join the producer in time")
	}
}

func TestBufferForwardSeekWithinBuffer(t *testing.T) {
	data := pattern(64 * 1024)
	buf, err := NewBuffer(BufferConfig{BufSize: 64 * 1024, FillSize: 32 * 1024,
		ReadTimeout: 5 * time.Second, SeekEnabled: true},
		&sliceProducer{data: data})
	require.NoError(t, err)
	require.NoError(t, buf.Open())
	defer buf.Close()

	// first read forces the initial fill
	head := make([]byte, 16)
	_, err = buf.Read(head)
	require.NoError(t, err)

	pos, err := buf.Seek(1024, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), pos)

	next := make([]byte, 16)
	n, err := buf.Read(next)
	require.NoError(t, err)
	assert.Equal(t, data[1024:1024+n], next[:n])
}

func TestBufferSeekRestartsSource(t *testing.T) {
	data := pattern(256 * 1024)
	producer := &sliceProducer{data: data, chunk: 8 * 1024}
	buf, err := NewBuffer(BufferConfig{BufSize: 32 * 1024, FillSize: 8 * 1024,
		ReadTimeout: 5 * time.Second, SeekEnabled: true}, producer)
	require.NoError(t, err)
	require.NoError(t, buf.Open())
	defer buf.Close()

	head := make([]byte, 128)
	_, err = buf.Read(head)
	require.NoError(t, err)

	// far beyond anything buffered: must restart the source
	target := int64(200 * 1024)
	pos, err := buf.Seek(target, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, target, pos)

	out := make([]byte, 64)
	var n int
	for {
		n, err = buf.Read(out)
		if n > 0 || errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrCheckSocket) {
			continue
		}
		require.NoError(t, err)
	}
	assert.Equal(t, data[target:target+int64(n)], out[:n])
}

func TestBufferSeekDisabled(t *testing.T) {
	buf, err := NewBuffer(BufferConfig{BufSize: 1024, ReadTimeout: time.Second},
		&sliceProducer{data: pattern(10)})
	require.NoError(t, err)
	require.NoError(t, buf.Open())
	defer buf.Close()

	_, err = buf.Seek(1, io.SeekStart)
	assert.Error(t, err)
}

func TestBufferRejectsBadConfig(t *testing.T) {
	_, err := NewBuffer(BufferConfig{BufSize: 0}, &sliceProducer{})
	assert.Error(t, err)
	_, err = NewBuffer(BufferConfig{BufSize: 10, FillSize: 20}, &sliceProducer{})
	assert.Error(t, err)
}
