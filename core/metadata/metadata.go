// Package metadata defines the extractor port: concrete tag readers and
// probers plug in behind it, the importer stays blind to the formats.
package metadata

import (
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cadenza-av/cadenza/core/streamer"
	"github.com/cadenza-av/cadenza/model"
)

// Extractor fills object metadata for the media types it declares. An
// extractor may also serve handler-produced virtual resources such as
// embedded cover art.
type Extractor interface {
	Name() string
	Enabled() bool
	// Handles reports the (mediaType, contentType) pairs covered, e.g.
	// ("audio", "mp3").
	Handles(mediaType, contentType string) bool
	// FillMetadata populates obj in place; it reports whether anything was
	// extracted.
	FillMetadata(obj *model.Object) (bool, error)
	// ServeContent opens a virtual resource of obj (thumbnail, embedded
	// art). Extractors without virtual resources return nil.
	ServeContent(obj *model.Object, res *model.Resource) (streamer.Handler, error)
}

// Registry is the ordered extractor list. Registration happens at startup;
// lookups take a snapshot so the native libraries behind extractors stay
// behind one lock.
type Registry struct {
	mu         sync.Mutex
	extractors []Extractor
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, e)
}

func (r *Registry) snapshot() []Extractor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Extractor{}, r.extractors...)
}

// Fill runs every enabled extractor claiming the object's type.
func (r *Registry) Fill(obj *model.Object) error {
	mediaType, contentType := splitMime(obj.MimeType)
	for _, e := range r.snapshot() {
		if !e.Enabled() || !e.Handles(mediaType, contentType) {
			continue
		}
		if _, err := e.FillMetadata(obj); err != nil {
			return err
		}
	}
	return nil
}

// Serve finds the extractor able to serve the given virtual resource.
func (r *Registry) Serve(obj *model.Object, res *model.Resource) (streamer.Handler, error) {
	mediaType, contentType := splitMime(obj.MimeType)
	for _, e := range r.snapshot() {
		if !e.Enabled() || !e.Handles(mediaType, contentType) {
			continue
		}
		handler, err := e.ServeContent(obj, res)
		if err != nil {
			return nil, err
		}
		if handler != nil {
			return handler, nil
		}
	}
	return nil, model.ErrNotFound
}

func splitMime(mimeType string) (string, string) {
	mediaType, contentType, _ := strings.Cut(mimeType, "/")
	return mediaType, contentType
}

// MimeTypeByPath guesses a mime type from the file extension.
func MimeTypeByPath(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		if base, _, found := strings.Cut(t, ";"); found {
			return strings.TrimSpace(base)
		}
		return t
	}
	return "application/octet-stream"
}

// ClassForMime maps a mime type onto the default DIDL-Lite item class.
func ClassForMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return model.ClassMusicTrack
	case strings.HasPrefix(mimeType, "video/"):
		return model.ClassVideoItem
	case strings.HasPrefix(mimeType, "image/"):
		return model.ClassImageItem
	}
	return model.ClassItem
}
