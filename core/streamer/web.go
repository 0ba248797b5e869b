package streamer

import (
	"fmt"
	"io"
	"net/http"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// URLHandler streams an external URL through a Buffer: the producer drives
// the HTTP fetch and writes into the ring, blocking when it is full. Seeks
// restart the request with a Range header.
type URLHandler struct {
	*Buffer
	producer *urlProducer
}

type urlProducer struct {
	url    string
	client *http.Client
	offset int64
	length int64
}

func NewURLHandler(url string, cfg BufferConfig) (*URLHandler, error) {
	producer := &urlProducer{
		url:    url,
		client: &http.Client{Timeout: 0},
		length: -1,
	}
	cfg.Length = -1
	buffer, err := NewBuffer(cfg, producer)
	if err != nil {
		return nil, err
	}
	return &URLHandler{Buffer: buffer, producer: producer}, nil
}

func (p *urlProducer) Run(b *Buffer) error {
	chunk := make([]byte, 64*1024)
	for !b.Shutdown() {
		if err := b.CheckSeek(); err != nil {
			return err
		}
		body, err := p.request()
		if err != nil {
			return err
		}
		interrupted, err := p.pump(b, body, chunk)
		_ = body.Close()
		if err != nil {
			return err
		}
		if !interrupted {
			return nil // clean EOF
		}
	}
	return nil
}

// pump copies the response into the ring until EOF, shutdown or a latched
// seek.
func (p *urlProducer) pump(b *Buffer, body io.Reader, chunk []byte) (bool, error) {
	for {
		if b.Shutdown() {
			return false, nil
		}
		n, err := body.Read(chunk)
		if n > 0 {
			if _, werr := b.Write(chunk[:n]); werr != nil {
				if b.Interrupted(werr) {
					return true, nil
				}
				return false, werr
			}
			p.offset += int64(n)
		}
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: reading %s: %v", model.ErrSourceUnavailable, p.url, err)
		}
	}
}

func (p *urlProducer) request() (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}
	if p.offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", p.offset))
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", model.ErrSourceUnavailable, p.url, err)
	}
	if resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", model.ErrSourceUnavailable, p.url, resp.Status)
	}
	if p.offset == 0 && resp.ContentLength > 0 {
		p.length = resp.ContentLength
	}
	log.Debug("Fetching remote source", "url", p.url, "offset", p.offset, "status", resp.Status)
	return resp.Body, nil
}

// SeekTo restarts the fetch at the new absolute offset. Only SEEK_SET makes
// sense against a remote source.
func (p *urlProducer) SeekTo(offset int64, whence int) error {
	if whence != io.SeekStart {
		return fmt.Errorf("%w: remote sources only seek from start", model.ErrInvalidArgument)
	}
	p.offset = offset
	return nil
}

// Length reports the content length learned from the first response, or -1.
func (h *URLHandler) Length() int64 { return h.producer.length }

var _ Handler = (*URLHandler)(nil)
