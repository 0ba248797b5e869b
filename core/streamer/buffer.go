package streamer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cadenza-av/cadenza/model"
)

// Producer fills a Buffer from some source. Run must write through
// Buffer.Write, honor SeekTo requests delivered by the buffer, and return
// when Write reports cancellation. A nil error from Run means clean EOF.
type Producer interface {
	Run(b *Buffer) error
	// SeekTo repositions the source. Sources that cannot seek return an
	// error; the buffer then fails the reader's Seek call.
	SeekTo(offset int64, whence int) error
}

// BufferConfig tunes the ring between producer and reader.
type BufferConfig struct {
	BufSize     int
	FillSize    int // reader blocks until this many bytes are buffered on open and after seek
	ReadTimeout time.Duration
	// SignalAfterEveryRead wakes the producer after every reader drain, not
	// only on full/empty transitions.
	SignalAfterEveryRead bool
	// SeekEnabled permits reader seeks; they are forwarded to the producer.
	SeekEnabled bool
	Length      int64 // -1 when unknown
}

// Buffer is the bounded ring between exactly one producer goroutine and one
// reader. Seek requests travel reader → producer through a latch; forward
// seeks inside buffered data just advance the read cursor.
type Buffer struct {
	cfg      BufferConfig
	producer Producer

	mu   sync.Mutex
	cond *sync.Cond

	buf     []byte
	a, b    int // read and write cursors
	empty   bool
	posRead int64

	waitInitialFill bool
	eof             bool
	readErr         error
	shutdown        bool
	isOpen          bool

	doSeek     bool
	seekOffset int64
	seekWhence int
	seekErr    error

	done chan struct{}
}

func NewBuffer(cfg BufferConfig, producer Producer) (*Buffer, error) {
	if cfg.BufSize <= 0 {
		return nil, fmt.Errorf("%w: buffer size must be positive", model.ErrInvalidArgument)
	}
	if cfg.FillSize > cfg.BufSize {
		return nil, fmt.Errorf("%w: initial fill size exceeds buffer size", model.ErrInvalidArgument)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	b := &Buffer{cfg: cfg, producer: producer}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

func (b *Buffer) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isOpen {
		return fmt.Errorf("%w: buffer already open", model.ErrInvalidArgument)
	}
	b.buf = make([]byte, b.cfg.BufSize)
	b.a, b.b = 0, 0
	b.empty = true
	b.waitInitialFill = b.cfg.FillSize > 0
	b.eof, b.readErr, b.shutdown = false, nil, false
	b.isOpen = true
	b.done = make(chan struct{})
	go b.run()
	return nil
}

func (b *Buffer) run() {
	err := b.producer.Run(b)
	b.mu.Lock()
	if err != nil && !b.shutdown {
		b.readErr = err
	}
	b.eof = true
	b.waitInitialFill = false
	b.cond.Broadcast()
	b.mu.Unlock()
	close(b.done)
}

func (b *Buffer) fillLocked() int {
	if b.empty {
		return 0
	}
	fill := b.b - b.a
	if fill <= 0 {
		fill += len(b.buf)
	}
	return fill
}

// Read drains buffered bytes. It blocks until the initial fill size is
// reached, data arrives, or the read timeout expires with ErrCheckSocket.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.mu.Lock()

	timedOut := false
	timer := time.AfterFunc(b.cfg.ReadTimeout, func() {
		b.mu.Lock()
		timedOut = true
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	for (b.empty || b.waitInitialFill) && !b.shutdown && !b.eof && b.readErr == nil {
		if b.waitInitialFill && b.fillLocked() >= b.cfg.FillSize {
			b.waitInitialFill = false
			break
		}
		if timedOut {
			timer.Stop()
			b.mu.Unlock()
			return 0, ErrCheckSocket
		}
		b.cond.Wait()
	}
	timer.Stop()

	if b.readErr != nil {
		err := b.readErr
		b.mu.Unlock()
		return 0, err
	}
	if b.shutdown {
		b.mu.Unlock()
		return 0, errCancelled()
	}
	if b.empty && b.eof {
		b.mu.Unlock()
		return 0, io.EOF
	}
	b.waitInitialFill = false

	fill := b.fillLocked()
	n := len(p)
	if n > fill {
		n = fill
	}
	read1 := n
	if max1 := len(b.buf) - b.a; read1 > max1 {
		read1 = max1
	}
	copy(p, b.buf[b.a:b.a+read1])
	read2 := n - read1
	if read2 > 0 {
		copy(p[read1:], b.buf[:read2])
	}

	wasFull := b.fillLocked() == len(b.buf)
	b.a = (b.a + n) % len(b.buf)
	if b.a == b.b {
		b.empty = true
	}
	b.posRead += int64(n)
	if b.cfg.SignalAfterEveryRead || wasFull || b.empty {
		b.cond.Broadcast()
	}
	b.mu.Unlock()
	return n, nil
}

// Write is the producer side: it blocks while the ring is full, fails with
// the cancellation kind on shutdown, and fails with the seek-interrupt error
// (see Interrupted) when a latched seek invalidates the current source
// position.
func (b *Buffer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		b.mu.Lock()
		for b.fillLocked() == len(b.buf) && !b.shutdown && !b.doSeek {
			b.cond.Wait()
		}
		if b.shutdown {
			b.mu.Unlock()
			return written, errCancelled()
		}
		if b.doSeek {
			b.mu.Unlock()
			return written, errSeekInterrupt
		}
		space := len(b.buf) - b.fillLocked()
		n := len(p)
		if n > space {
			n = space
		}
		write1 := n
		if max1 := len(b.buf) - b.b; write1 > max1 {
			write1 = max1
		}
		copy(b.buf[b.b:b.b+write1], p[:write1])
		if n > write1 {
			copy(b.buf[:n-write1], p[write1:n])
		}
		b.b = (b.b + n) % len(b.buf)
		b.empty = false
		if b.waitInitialFill && b.fillLocked() >= b.cfg.FillSize {
			b.waitInitialFill = false
		}
		b.cond.Broadcast()
		b.mu.Unlock()
		p = p[n:]
		written += n
	}
	return written, nil
}

var errSeekInterrupt = fmt.Errorf("seek requested")

// CheckSeek is polled by producers between source requests: when a seek is
// latched it repositions the source, purges the ring and resumes.
func (b *Buffer) CheckSeek() error {
	b.mu.Lock()
	if !b.doSeek {
		b.mu.Unlock()
		return nil
	}
	offset, whence := b.seekOffset, b.seekWhence
	b.mu.Unlock()

	err := b.producer.SeekTo(offset, whence)

	b.mu.Lock()
	b.seekErr = err
	if err == nil {
		b.a, b.b = 0, 0
		b.empty = true
		b.waitInitialFill = b.cfg.FillSize > 0
		if whence == io.SeekStart {
			b.posRead = offset
		}
	}
	b.doSeek = false
	b.cond.Broadcast()
	b.mu.Unlock()
	return err
}

// Interrupted reports whether the last Write failed due to a latched seek
// rather than a real error.
func (b *Buffer) Interrupted(err error) bool { return err == errSeekInterrupt }

// Seek forwards the request to the producer. Forward seeks within buffered
// data advance the read cursor without touching the source.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	if !b.cfg.SeekEnabled {
		return b.posRead, fmt.Errorf("%w: seek disabled on this stream", model.ErrInvalidArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isOpen {
		return 0, fmt.Errorf("%w: seek on closed buffer", model.ErrInvalidArgument)
	}
	if whence == io.SeekCurrent && offset == 0 {
		return b.posRead, nil
	}

	// satisfy forward seeks from the ring when possible
	var skip int64 = -1
	switch whence {
	case io.SeekCurrent:
		if offset > 0 {
			skip = offset
		}
	case io.SeekStart:
		if offset >= b.posRead {
			skip = offset - b.posRead
		}
	}
	if skip >= 0 && skip <= int64(b.fillLocked()) {
		n := int(skip)
		b.a = (b.a + n) % len(b.buf)
		if n > 0 && b.a == b.b {
			b.empty = true
		}
		b.posRead += skip
		b.cond.Broadcast()
		return b.posRead, nil
	}

	b.doSeek = true
	b.seekOffset = offset
	b.seekWhence = whence
	b.cond.Broadcast()
	for b.doSeek && !b.shutdown && !b.eof && b.readErr == nil {
		b.cond.Wait()
	}
	if b.shutdown {
		return b.posRead, errCancelled()
	}
	if b.doSeek {
		// producer finished before servicing the request
		b.doSeek = false
		return b.posRead, fmt.Errorf("%w: source ended before seek", model.ErrSourceUnavailable)
	}
	if b.seekErr != nil {
		return b.posRead, b.seekErr
	}
	return b.posRead, nil
}

// Close sets the shutdown flag, wakes both sides and joins the producer.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if !b.isOpen {
		b.mu.Unlock()
		return nil
	}
	b.isOpen = false
	b.shutdown = true
	b.cond.Broadcast()
	done := b.done
	b.mu.Unlock()

	<-done
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()
	return nil
}

func (b *Buffer) Length() int64 { return b.cfg.Length }

// Shutdown reports the producer-visible shutdown flag; producer loops check
// it on every iteration.
func (b *Buffer) Shutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdown
}
