package streamer

import (
	"fmt"
	"io"

	"github.com/cadenza-av/cadenza/model"
)

// MemHandler serves a fixed in-memory buffer. Out-of-range seeks are
// rejected instead of clamped.
type MemHandler struct {
	data []byte
	pos  int64
}

func NewMemHandler(data []byte) *MemHandler {
	return &MemHandler{data: data}
}

func (h *MemHandler) Open() error {
	h.pos = 0
	return nil
}

func (h *MemHandler) Read(p []byte) (int, error) {
	if h.pos >= int64(len(h.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.data[h.pos:])
	h.pos += int64(n)
	return n, nil
}

func (h *MemHandler) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = h.pos + offset
	case io.SeekEnd:
		target = int64(len(h.data)) + offset
	default:
		return h.pos, fmt.Errorf("%w: bad whence %d", model.ErrInvalidArgument, whence)
	}
	if target < 0 || target > int64(len(h.data)) {
		return h.pos, fmt.Errorf("%w: seek out of range", model.ErrInvalidArgument)
	}
	h.pos = target
	return h.pos, nil
}

func (h *MemHandler) Close() error { return nil }

func (h *MemHandler) Length() int64 { return int64(len(h.data)) }
