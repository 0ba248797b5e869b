package streamer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// ProcessHandler reads the fifo written by a spawned transcoder. Reads poll
// with a timeout so client disconnects are noticed; death of the main
// process ends the handler, and associated processes marked abort-on-death
// take the whole chain down with them.
type ProcessHandler struct {
	fifoPath       string
	cmd            *exec.Cmd
	associated     []*AssociatedProcess
	ignoreSeek     bool
	readTimeout    time.Duration

	mu       sync.Mutex
	fifo     *os.File
	closed   bool
	procDone chan struct{}
	procErr  error
}

// AssociatedProcess is a helper process tied to the main transcoder (for
// example a fifo feeder). AbortOnDeath cancels the chain when it exits.
type AssociatedProcess struct {
	Cmd          *exec.Cmd
	AbortOnDeath bool
}

func NewProcessHandler(cmd *exec.Cmd, fifoPath string, readTimeout time.Duration, ignoreSeek bool, associated ...*AssociatedProcess) *ProcessHandler {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &ProcessHandler{
		fifoPath:    fifoPath,
		cmd:         cmd,
		associated:  associated,
		ignoreSeek:  ignoreSeek,
		readTimeout: readTimeout,
	}
}

func (h *ProcessHandler) Open() error {
	for _, assoc := range h.associated {
		if err := assoc.Cmd.Start(); err != nil {
			h.killAll()
			return fmt.Errorf("%w: starting helper process: %v", model.ErrSourceUnavailable, err)
		}
	}
	if err := h.cmd.Start(); err != nil {
		h.killAll()
		return fmt.Errorf("%w: starting transcoder: %v", model.ErrSourceUnavailable, err)
	}
	h.procDone = make(chan struct{})
	go h.reap()
	for _, assoc := range h.associated {
		if assoc.AbortOnDeath {
			go func(cmd *exec.Cmd) {
				_ = cmd.Wait()
				_ = h.Close()
			}(assoc.Cmd)
		}
	}

	fifo, err := os.OpenFile(h.fifoPath, os.O_RDONLY, 0)
	if err != nil {
		h.killAll()
		return fmt.Errorf("%w: opening fifo %s: %v", model.ErrSourceUnavailable, h.fifoPath, err)
	}
	h.mu.Lock()
	h.fifo = fifo
	h.mu.Unlock()
	return nil
}

func (h *ProcessHandler) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.procErr = err
	h.mu.Unlock()
	close(h.procDone)

	for _, assoc := range h.associated {
		if assoc.AbortOnDeath {
			_ = h.Close()
			break
		}
	}
}

// Read polls the fifo with the configured timeout and converts it into the
// check-socket sentinel so the HTTP layer can probe the client.
func (h *ProcessHandler) Read(p []byte) (int, error) {
	h.mu.Lock()
	fifo := h.fifo
	closed := h.closed
	h.mu.Unlock()
	if closed || fifo == nil {
		return 0, errCancelled()
	}

	_ = fifo.SetReadDeadline(time.Now().Add(h.readTimeout))
	n, err := fifo.Read(p)
	if n > 0 {
		return n, nil
	}
	switch {
	case err == nil:
		return 0, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		if h.processExited() {
			return 0, io.EOF
		}
		return 0, ErrCheckSocket
	case errors.Is(err, io.EOF):
		if !h.processExited() {
			// writer briefly between chunks, keep polling
			return 0, ErrCheckSocket
		}
		if exitErr := h.exitError(); exitErr != nil {
			return 0, fmt.Errorf("%w: transcoder failed: %v", model.ErrSourceUnavailable, exitErr)
		}
		return 0, io.EOF
	default:
		return 0, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
}

func (h *ProcessHandler) processExited() bool {
	select {
	case <-h.procDone:
		return true
	default:
		return false
	}
}

func (h *ProcessHandler) exitError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.procErr
}

// Seek on a fifo is refused, except the SEEK_SET 0 probe some clients send
// before playing, which the ignore flag turns into a no-op.
func (h *ProcessHandler) Seek(offset int64, whence int) (int64, error) {
	if h.ignoreSeek && offset == 0 && whence == io.SeekStart {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: cannot seek on transcoded stream", model.ErrInvalidArgument)
}

func (h *ProcessHandler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	fifo := h.fifo
	h.fifo = nil
	h.mu.Unlock()

	if fifo != nil {
		_ = fifo.Close()
	}
	h.killAll()
	if h.procDone != nil {
		<-h.procDone
	}
	_ = os.Remove(h.fifoPath)
	log.Debug("Transcoder chain closed", "fifo", h.fifoPath)
	return nil
}

func (h *ProcessHandler) killAll() {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	for _, assoc := range h.associated {
		if assoc.Cmd.Process != nil {
			_ = assoc.Cmd.Process.Kill()
		}
	}
}

// Length is unknown for live transcodes.
func (h *ProcessHandler) Length() int64 { return -1 }

var _ Handler = (*ProcessHandler)(nil)
