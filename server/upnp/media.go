package upnp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/core/streamer"
	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// mediaParams are the slash-separated key/value pairs of a media URL:
// /content/media/object_id/42/res_id/0/pr_name/mp4/tr/1/file.mp3
type mediaParams map[string]string

func parseMediaPath(path string) mediaParams {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	params := mediaParams{}
	for i := 0; i+1 < len(parts); i += 2 {
		params[parts[i]] = parts[i+1]
	}
	return params
}

// handleMedia streams one resource of one object, optionally through a
// transcoder, honoring byte ranges on seekable sources.
func (r *Router) handleMedia(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	params := parseMediaPath(chi.URLParam(req, "*"))

	objectID, err := strconv.ParseInt(params["object_id"], 10, 32)
	if err != nil {
		http.Error(w, "malformed object id", http.StatusBadRequest)
		return
	}
	resID, _ := strconv.Atoi(params["res_id"])

	obj, err := r.ds.Object(ctx).LoadObject(int32(objectID))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	if resID < 0 || resID >= len(obj.Resources) {
		http.Error(w, "no such resource", http.StatusNotFound)
		return
	}
	res := obj.Resources[resID]
	profile := r.resolveClient(req)

	// extractor-produced virtual resources (embedded art, thumbnails)
	if res.HandlerType.ProducesMetadata() {
		handler, err := r.extractors.Serve(obj, res)
		if err == nil {
			r.serveHandler(w, req, handler, res.Attribute(model.ResAttrProtocolInfo))
			return
		}
		if !errors.Is(err, model.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	// transcode when the URL names a profile or the dispatcher picks one
	transProfile := r.dispatcher.ProfileByName(params["pr_name"])
	if transProfile == nil && params["tr"] == "1" {
		transProfile = r.dispatcher.SelectProfile(profile, obj.MimeType)
	}
	if transProfile != nil && !profile.HasQuirk(model.QuirkForceNoConversion) {
		handler, err := r.dispatcher.Open(ctx, transProfile, obj.Location)
		if err != nil {
			log.Error(ctx, "Transcoder failed to start", err, "profile", transProfile.Name)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", transProfile.TargetMime)
		w.Header().Set("TransferMode.dlna.org", "Streaming")
		r.copyStream(w, req, handler)
		return
	}

	var handler streamer.Handler
	if obj.IsExternalURL() {
		if obj.GetFlag(model.FlagProxyURL) {
			urlHandler, err := streamer.NewURLHandler(obj.Location, streamer.BufferConfig{
				BufSize:     conf.Server.Streamer.BufferSize,
				FillSize:    conf.Server.Streamer.FillSize,
				ReadTimeout: conf.Server.Streamer.ReadTimeout,
				SeekEnabled: true,
			})
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			handler = urlHandler
		} else {
			http.Redirect(w, req, obj.Location, http.StatusFound)
			return
		}
	} else {
		handler = streamer.NewFileHandler(obj.Location)
	}

	mimeType := obj.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("TransferMode.dlna.org", "Streaming")
	r.serveRange(w, req, handler)
}

// serveRange opens the handler and serves an optional single byte range.
func (r *Router) serveRange(w http.ResponseWriter, req *http.Request, handler streamer.Handler) {
	if err := handler.Open(); err != nil {
		log.Error(req.Context(), "Cannot open media source", err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer handler.Close()

	length := handler.Length()
	start, end := int64(0), length-1
	ranged := false
	if h := req.Header.Get("Range"); h != "" && length > 0 {
		if s, e, ok := parseRange(h, length); ok {
			start, end, ranged = s, e, true
		}
	}
	if length >= 0 {
		w.Header().Set("Accept-Ranges", "bytes")
	}

	if ranged {
		if _, err := handler.Seek(start, io.SeekStart); err != nil {
			http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, length))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else if length >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	}
	if req.Method == http.MethodHead {
		return
	}

	remaining := int64(-1)
	if ranged {
		remaining = end - start + 1
	}
	copyHandler(w, handler, remaining)
}

// copyStream pumps a live (unseekable) handler to the client.
func (r *Router) copyStream(w http.ResponseWriter, req *http.Request, handler streamer.Handler) {
	if err := handler.Open(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer handler.Close()
	if req.Method == http.MethodHead {
		return
	}
	copyHandler(w, handler, -1)
}

// copyHandler drains the handler into the response writer, using the
// check-socket sentinel to detect dead clients instead of blocking forever.
func copyHandler(w http.ResponseWriter, handler streamer.Handler, limit int64) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 64*1024)
	for limit != 0 {
		chunk := buf
		if limit > 0 && limit < int64(len(chunk)) {
			chunk = chunk[:limit]
		}
		n, err := handler.Read(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return // client went away
			}
			if flusher != nil {
				flusher.Flush()
			}
			if limit > 0 {
				limit -= int64(n)
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, streamer.ErrCheckSocket):
			continue // the next Write notices a dead client
		case errors.Is(err, io.EOF):
			return
		default:
			log.Warn("Stream aborted", err)
			return
		}
	}
}

// parseRange understands the single-range form "bytes=start-end".
func parseRange(header string, length int64) (int64, int64, bool) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	if startStr == "" {
		// suffix range: last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > length {
			n = length
		}
		return length - n, length - 1, true
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= length {
		return 0, 0, false
	}
	end := length - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= length {
			end = length - 1
		}
	}
	return start, end, true
}
