package upnp

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/model"
)

// DIDL-Lite namespaces.
const (
	nsDIDL = "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
	nsDC   = "http://purl.org/dc/elements/1.1/"
	nsUPnP = "urn:schemas-upnp-org:metadata-1-0/upnp/"
	nsSec  = "http://www.sec.co.kr/"
	nsPV   = "http://www.pv.com/pvns/"
)

// renderDIDL serializes the objects into an escaped DIDL-Lite document,
// applying the client profile's quirks: string truncation, played markers,
// conditional namespaces and character policies.
func (r *Router) renderDIDL(ctx context.Context, profile *model.ClientProfile, objects model.Objects, metadataOnly bool) (string, error) {
	_ = metadataOnly
	var sb strings.Builder
	if !profile.HasQuirk(model.QuirkBlockXMLDeclaration) {
		sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	}
	sb.WriteString(`<DIDL-Lite xmlns="` + nsDIDL + `" xmlns:dc="` + nsDC + `" xmlns:upnp="` + nsUPnP + `" xmlns:sec="` + nsSec + `"`)
	if profile.HasQuirk(model.QuirkPVSubtitles) {
		sb.WriteString(` xmlns:pv="` + nsPV + `"`)
	}
	sb.WriteString(`>`)

	limit := effectiveStringLimit(profile)
	for _, obj := range objects {
		if obj.IsContainer() {
			r.renderContainer(&sb, profile, obj, limit)
		} else {
			r.renderItem(ctx, &sb, profile, obj, limit)
		}
	}
	sb.WriteString(`</DIDL-Lite>`)

	out := sb.String()
	if profile.HasQuirk(model.QuirkAsciiXML) {
		out = asciiEntities(out)
	}
	return out, nil
}

func (r *Router) renderContainer(sb *strings.Builder, profile *model.ClientProfile, obj *model.Object, limit int) {
	fmt.Fprintf(sb, `<container id="%d" parentID="%d" restricted="1" childCount="%d" searchable="1">`,
		obj.ID, obj.ParentID, obj.ChildCount)
	writeElem(sb, "dc:title", truncate(obj.Title, limit), profile)
	writeElem(sb, "upnp:class", obj.Class, profile)
	r.renderMetadata(sb, profile, obj, limit)
	for _, res := range obj.Resources {
		if res.Parameters[model.ResourceParamContentType] == model.ContentTypeAlbumArt {
			writeElem(sb, "upnp:albumArtURI", r.artURL(obj, res), profile)
		}
	}
	sb.WriteString(`</container>`)
}

func (r *Router) renderItem(ctx context.Context, sb *strings.Builder, profile *model.ClientProfile, obj *model.Object, limit int) {
	fmt.Fprintf(sb, `<item id="%d" parentID="%d" restricted="1"`, obj.ID, obj.ParentID)
	if obj.RefID > 0 {
		fmt.Fprintf(sb, ` refID="%d"`, obj.RefID)
	}
	sb.WriteString(`>`)

	title := truncate(obj.Title, limit)
	if r.markPlayed(ctx, profile, obj) {
		mark := conf.Server.UPnP.PlayedMark
		if conf.Server.UPnP.PlayedMarkPrepend {
			title = mark + title
		} else {
			title += mark
		}
	}
	writeElem(sb, "dc:title", title, profile)
	writeElem(sb, "upnp:class", obj.Class, profile)

	if obj.TrackNumber > 0 {
		writeElem(sb, "upnp:originalTrackNumber", strconv.Itoa(obj.TrackNumber), profile)
	}
	r.renderMetadata(sb, profile, obj, limit)

	// album art from embedded metadata handlers
	if obj.IsMetaResource(model.ContentTypeAlbumArt) {
		for _, res := range obj.Resources {
			if res.Parameters[model.ResourceParamContentType] == model.ContentTypeAlbumArt {
				writeElem(sb, "upnp:albumArtURI", r.artURL(obj, res), profile)
				break
			}
		}
	}

	for _, res := range obj.Resources {
		r.renderResource(sb, profile, obj, res)
	}
	sb.WriteString(`</item>`)
}

func (r *Router) renderMetadata(sb *strings.Builder, profile *model.ClientProfile, obj *model.Object, limit int) {
	keys := make([]string, 0, len(obj.Metadata))
	for key := range obj.Metadata {
		if key == model.MetaTitle {
			continue
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		value := obj.Metadata[key]
		if key == model.MetaDate && profile.HasQuirk(model.QuirkSimpleDate) {
			// some radios choke on full timestamps
			if len(value) > 10 {
				value = value[:10]
			}
		}
		writeElem(sb, key, truncate(value, limit), profile)
	}
}

func (r *Router) renderResource(sb *strings.Builder, profile *model.ClientProfile, obj *model.Object, res *model.Resource) {
	switch res.Purpose {
	case model.PurposeSubtitle:
		url := r.mediaURL(obj, res, "")
		if profile.HasQuirk(model.QuirkCaptionProtocol) {
			writeElem(sb, "sec:CaptionInfoEx", url, profile)
			return
		}
		if profile.HasQuirk(model.QuirkPVSubtitles) {
			writeElem(sb, "pv:subtitleFileUri", url, profile)
			return
		}
	case model.PurposeThumbnail:
		if res.Parameters[model.ResourceParamContentType] == model.ContentTypeAlbumArt {
			return // rendered as albumArtURI
		}
	}

	sb.WriteString(`<res`)
	attrOrder := []string{
		model.ResAttrProtocolInfo, model.ResAttrSize, model.ResAttrDuration,
		model.ResAttrBitrate, model.ResAttrSampleFrequency,
		model.ResAttrNrAudioChannels, model.ResAttrResolution,
	}
	for _, name := range attrOrder {
		if value, ok := res.Attributes[name]; ok && value != "" {
			fmt.Fprintf(sb, ` %s="%s"`, name, xmlEscapeFor(profile, value))
		}
	}
	sb.WriteString(`>`)
	sb.WriteString(xmlEscapeFor(profile, r.mediaURL(obj, res, "")))
	sb.WriteString(`</res>`)
}

// markPlayed reports whether the played-item marker applies to this object
// for the client's group.
func (r *Router) markPlayed(ctx context.Context, profile *model.ClientProfile, obj *model.Object) bool {
	if !conf.Server.UPnP.MarkPlayedItems {
		return false
	}
	classes := conf.Server.UPnP.MarkPlayedClasses
	if len(classes) > 0 && !slices.ContainsFunc(classes, obj.DerivedFrom) {
		return false
	}
	group := profile.Group
	if group == "" {
		group = model.DefaultClientGroup
	}
	status, err := r.ds.PlayStatus(ctx).Get(group, obj.ID)
	return err == nil && status.PlayCount > 0
}

func writeElem(sb *strings.Builder, name, value string, profile *model.ClientProfile) {
	if value == "" {
		return
	}
	sb.WriteString("<" + name + ">")
	sb.WriteString(xmlEscapeFor(profile, value))
	sb.WriteString("</" + name + ">")
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[:limit]
	// never cut inside a multi-byte rune
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// xmlEscape covers the characters DIDL consumers require quoted.
func xmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return replacer.Replace(s)
}

// xmlEscapeFor honors the strict-XML quirk: those clients get only the
// minimum markup escaping.
func xmlEscapeFor(profile *model.ClientProfile, s string) string {
	if profile.HasQuirk(model.QuirkStrictXML) {
		replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
		return replacer.Replace(s)
	}
	return xmlEscape(s)
}

// asciiEntities encodes every non-ASCII character as a numeric entity.
func asciiEntities(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r < 128 {
			sb.WriteRune(r)
		} else {
			fmt.Fprintf(&sb, "&#%d;", r)
		}
	}
	return sb.String()
}
