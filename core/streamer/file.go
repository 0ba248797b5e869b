package streamer

import (
	"fmt"
	"os"

	"github.com/cadenza-av/cadenza/model"
)

// FileHandler is the thin wrapper over a local file; seek is native.
type FileHandler struct {
	path string
	file *os.File
	size int64
}

func NewFileHandler(path string) *FileHandler {
	return &FileHandler{path: path}
}

func (h *FileHandler) Open() error {
	file, err := os.Open(h.path)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	h.file = file
	h.size = info.Size()
	return nil
}

func (h *FileHandler) Read(p []byte) (int, error) { return h.file.Read(p) }

func (h *FileHandler) Seek(offset int64, whence int) (int64, error) {
	return h.file.Seek(offset, whence)
}

func (h *FileHandler) Close() error {
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

func (h *FileHandler) Length() int64 { return h.size }
