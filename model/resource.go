package model

import (
	"fmt"
	"maps"
	"net/url"
	"sort"
	"strings"
)

// ResourceHandlerType identifies the metadata handler that produced a
// resource. Values are persisted.
type ResourceHandlerType int

const (
	HandlerDefault ResourceHandlerType = iota
	HandlerID3
	HandlerMP4
	HandlerFfmpeg
	HandlerFanart
	HandlerExternalURL
	HandlerThumbnail
	HandlerSubtitle
	HandlerContainerArt
	HandlerTranscode
)

// ProducesMetadata reports whether resources from this handler represent
// embedded metadata (cover art and the like) rather than primary content.
func (h ResourceHandlerType) ProducesMetadata() bool {
	switch h {
	case HandlerID3, HandlerMP4, HandlerFfmpeg, HandlerFanart, HandlerThumbnail, HandlerContainerArt:
		return true
	}
	return false
}

// ResourcePurpose says what a resource is for when rendered.
type ResourcePurpose int

const (
	PurposeContent ResourcePurpose = iota
	PurposeThumbnail
	PurposeSubtitle
	PurposeTranscode
)

// Resource attribute names rendered into the <res> element.
const (
	ResAttrProtocolInfo    = "protocolInfo"
	ResAttrSize            = "size"
	ResAttrDuration        = "duration"
	ResAttrBitrate         = "bitrate"
	ResAttrSampleFrequency = "sampleFrequency"
	ResAttrNrAudioChannels = "nrAudioChannels"
	ResAttrResolution      = "resolution"
	ResAttrLanguage        = "dc:language"
)

// Parameter keys appended to serve URLs.
const (
	ResourceParamContentType = "rct"
	ContentTypeAlbumArt      = "aa"
	ContentTypeSubtitle      = "vtt"
)

// Resource is one renderable endpoint of an object: the original file, a
// transcode target, a thumbnail, a subtitle. Attributes end up as <res>
// XML attributes, parameters travel on the serve URL, options never leave
// the server.
type Resource struct {
	ID          int
	HandlerType ResourceHandlerType
	Purpose     ResourcePurpose
	Attributes  map[string]string
	Parameters  map[string]string
	Options     map[string]string
}

func NewResource(handler ResourceHandlerType, purpose ResourcePurpose) *Resource {
	return &Resource{
		HandlerType: handler,
		Purpose:     purpose,
		Attributes:  map[string]string{},
		Parameters:  map[string]string{},
		Options:     map[string]string{},
	}
}

func (r *Resource) SetAttribute(name, value string) { r.Attributes[name] = value }
func (r *Resource) Attribute(name string) string    { return r.Attributes[name] }
func (r *Resource) AddParameter(name, value string) { r.Parameters[name] = value }
func (r *Resource) AddOption(name, value string)    { r.Options[name] = value }

func (r *Resource) Clone() *Resource {
	return &Resource{
		ID:          r.ID,
		HandlerType: r.HandlerType,
		Purpose:     r.Purpose,
		Attributes:  maps.Clone(r.Attributes),
		Parameters:  maps.Clone(r.Parameters),
		Options:     maps.Clone(r.Options),
	}
}

func (r *Resource) Equals(other *Resource) bool {
	return other != nil &&
		r.HandlerType == other.HandlerType &&
		r.Purpose == other.Purpose &&
		maps.Equal(r.Attributes, other.Attributes) &&
		maps.Equal(r.Parameters, other.Parameters) &&
		maps.Equal(r.Options, other.Options)
}

// Encode serializes the resource dictionaries into the flat form stored per
// column group. Keys are sorted so the output is deterministic and
// Encode(Decode(s)) == s holds for canonical input.
func (r *Resource) Encode() string {
	parts := []string{
		fmt.Sprintf("handlerType=%d", r.HandlerType),
		fmt.Sprintf("purpose=%d", r.Purpose),
	}
	parts = append(parts, encodeDict("attr", r.Attributes)...)
	parts = append(parts, encodeDict("param", r.Parameters)...)
	parts = append(parts, encodeDict("opt", r.Options)...)
	return strings.Join(parts, "|")
}

// DecodeResource parses a string produced by Encode.
func DecodeResource(s string) (*Resource, error) {
	r := NewResource(HandlerDefault, PurposeContent)
	for _, part := range strings.Split(s, "|") {
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("%w: malformed resource field %q", ErrInvalidArgument, part)
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("%w: resource value %q: %v", ErrInvalidArgument, value, err)
		}
		switch {
		case key == "handlerType":
			fmt.Sscanf(decoded, "%d", &r.HandlerType)
		case key == "purpose":
			fmt.Sscanf(decoded, "%d", &r.Purpose)
		case strings.HasPrefix(key, "attr:"):
			r.Attributes[key[len("attr:"):]] = decoded
		case strings.HasPrefix(key, "param:"):
			r.Parameters[key[len("param:"):]] = decoded
		case strings.HasPrefix(key, "opt:"):
			r.Options[key[len("opt:"):]] = decoded
		default:
			return nil, fmt.Errorf("%w: unknown resource field %q", ErrInvalidArgument, key)
		}
	}
	return r, nil
}

func encodeDict(prefix string, dict map[string]string) []string {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s:%s=%s", prefix, k, url.QueryEscape(dict[k])))
	}
	return out
}

// RenderProtocolInfo builds the four-field protocolInfo for a plain http-get
// resource.
func RenderProtocolInfo(mimeType string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "http-get:*:" + mimeType + ":*"
}
