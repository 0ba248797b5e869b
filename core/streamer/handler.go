// Package streamer provides the IO handlers that feed media bytes to the
// HTTP layer: plain files, in-memory buffers, fetched URLs and transcoder
// process output, with seek support over non-seekable sources.
package streamer

import (
	"errors"
	"fmt"

	"github.com/cadenza-av/cadenza/model"
)

// ErrCheckSocket is the timeout sentinel: the caller should poll the client
// socket for a disconnect and retry the read instead of blocking forever.
var ErrCheckSocket = errors.New("check client socket")

// Handler is a readable, seekable media source. Read returns io.EOF at end
// of stream and ErrCheckSocket when a bounded wait expired; all other
// failures carry one of the model error kinds.
type Handler interface {
	Open() error
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
	// Length returns the total stream size or -1 when unknown (live
	// transcodes).
	Length() int64
}

func errCancelled() error {
	return fmt.Errorf("%w: handler closed", model.ErrCancelled)
}
