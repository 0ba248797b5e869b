package upnp

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/model"
)

func testRouter() *Router {
	return &Router{serverName: "test", httpPort: 49152, subs: map[string]*subscription{}}
}

func testItem() *model.Object {
	obj := model.NewObject(model.ObjectTypeItem)
	obj.ID = 100
	obj.ParentID = 10
	obj.Title = "Näme <with> spëcial & chars"
	obj.Class = model.ClassMusicTrack
	obj.MimeType = "audio/mpeg"
	obj.TrackNumber = 3
	obj.SetMetadata(model.MetaArtist, "Artist")
	res := model.NewResource(model.HandlerDefault, model.PurposeContent)
	res.SetAttribute(model.ResAttrProtocolInfo, "http-get:*:audio/mpeg:*")
	res.SetAttribute(model.ResAttrSize, "12345")
	obj.AddResource(res)
	return obj
}

func plainProfile() *model.ClientProfile {
	return &model.ClientProfile{Name: "test", Group: model.DefaultClientGroup}
}

func TestRenderDIDLBasics(t *testing.T) {
	conf.Server.UPnP.StringLimit = 0
	conf.Server.UPnP.MarkPlayedItems = false
	r := testRouter()

	out, err := r.renderDIDL(context.Background(), plainProfile(), model.Objects{testItem()}, false)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, out, `xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"`)
	assert.Contains(t, out, `xmlns:dc="http://purl.org/dc/elements/1.1/"`)
	assert.Contains(t, out, `xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/"`)
	assert.Contains(t, out, `xmlns:sec="http://www.sec.co.kr/"`)
	assert.NotContains(t, out, "pv.com")

	assert.Contains(t, out, `<item id="100" parentID="10" restricted="1">`)
	assert.Contains(t, out, `&lt;with&gt;`)
	assert.Contains(t, out, `&amp; chars`)
	assert.Contains(t, out, `<upnp:class>object.item.audioItem.musicTrack</upnp:class>`)
	assert.Contains(t, out, `<upnp:originalTrackNumber>3</upnp:originalTrackNumber>`)
	assert.Contains(t, out, `protocolInfo="http-get:*:audio/mpeg:*"`)
	assert.Contains(t, out, `size="12345"`)
	assert.Contains(t, out, `/content/media/object_id/100/res_id/0`)
}

func TestRenderDIDLContainer(t *testing.T) {
	conf.Server.UPnP.StringLimit = 0
	r := testRouter()
	cont := model.NewObject(model.ObjectTypeContainer)
	cont.ID = 5
	cont.ParentID = 0
	cont.Title = "Music"
	cont.Class = model.ClassContainer
	cont.ChildCount = 7

	out, err := r.renderDIDL(context.Background(), plainProfile(), model.Objects{cont}, false)
	require.NoError(t, err)
	assert.Contains(t, out, `<container id="5" parentID="0" restricted="1" childCount="7" searchable="1">`)
	assert.Contains(t, out, `<dc:title>Music</dc:title>`)
}

func TestRenderDIDLStringLimit(t *testing.T) {
	conf.Server.UPnP.StringLimit = 0
	r := testRouter()
	profile := &model.ClientProfile{Name: "limited", StringLimit: 8}

	obj := testItem()
	obj.Title = "This title is much longer than eight bytes"
	out, err := r.renderDIDL(context.Background(), profile, model.Objects{obj}, false)
	require.NoError(t, err)
	assert.Contains(t, out, `<dc:title>This tit</dc:title>`)
}

func TestRenderDIDLQuirks(t *testing.T) {
	conf.Server.UPnP.StringLimit = 0
	r := testRouter()

	t.Run("blocked xml declaration", func(t *testing.T) {
		profile := &model.ClientProfile{Name: "noDecl", Flags: model.QuirkBlockXMLDeclaration}
		out, err := r.renderDIDL(context.Background(), profile, nil, false)
		require.NoError(t, err)
		assert.False(t, strings.HasPrefix(out, "<?xml"))
	})

	t.Run("pv namespace for subtitle quirk", func(t *testing.T) {
		profile := &model.ClientProfile{Name: "pv", Flags: model.QuirkPVSubtitles}
		out, err := r.renderDIDL(context.Background(), profile, nil, false)
		require.NoError(t, err)
		assert.Contains(t, out, `xmlns:pv="http://www.pv.com/pvns/"`)
	})

	t.Run("ascii clients get numeric entities", func(t *testing.T) {
		profile := &model.ClientProfile{Name: "ascii", Flags: model.QuirkAsciiXML}
		out, err := r.renderDIDL(context.Background(), profile, model.Objects{testItem()}, false)
		require.NoError(t, err)
		assert.NotContains(t, out, "ä")
		assert.Contains(t, out, "&#228;")
	})

	t.Run("simple dates are truncated", func(t *testing.T) {
		profile := &model.ClientProfile{Name: "radio", Flags: model.QuirkSimpleDate}
		obj := testItem()
		obj.SetMetadata(model.MetaDate, "2023-04-05T10:11:12")
		out, err := r.renderDIDL(context.Background(), profile, model.Objects{obj}, false)
		require.NoError(t, err)
		assert.Contains(t, out, `<dc:date>2023-04-05</dc:date>`)
	})

	t.Run("samsung caption element for subtitles", func(t *testing.T) {
		profile := &model.ClientProfile{Name: "bd", Flags: model.QuirkCaptionProtocol}
		obj := testItem()
		sub := model.NewResource(model.HandlerSubtitle, model.PurposeSubtitle)
		obj.AddResource(sub)
		out, err := r.renderDIDL(context.Background(), profile, model.Objects{obj}, false)
		require.NoError(t, err)
		assert.Contains(t, out, "<sec:CaptionInfoEx>")
	})
}

func TestParseMediaPath(t *testing.T) {
	params := parseMediaPath("object_id/42/res_id/1/pr_name/mp4/tr/1/file.mp3")
	assert.Equal(t, "42", params["object_id"])
	assert.Equal(t, "1", params["res_id"])
	assert.Equal(t, "mp4", params["pr_name"])
	assert.Equal(t, "1", params["tr"])
}

func TestParseRange(t *testing.T) {
	start, end, ok := parseRange("bytes=100-199", 1000)
	assert.True(t, ok)
	assert.Equal(t, int64(100), start)
	assert.Equal(t, int64(199), end)

	start, end, ok = parseRange("bytes=500-", 1000)
	assert.True(t, ok)
	assert.Equal(t, int64(500), start)
	assert.Equal(t, int64(999), end)

	start, end, ok = parseRange("bytes=-100", 1000)
	assert.True(t, ok)
	assert.Equal(t, int64(900), start)
	assert.Equal(t, int64(999), end)

	_, _, ok = parseRange("bytes=0-100,200-300", 1000)
	assert.False(t, ok)

	_, _, ok = parseRange("bytes=2000-", 1000)
	assert.False(t, ok)
}

func TestEffectiveStringLimit(t *testing.T) {
	conf.Server.UPnP.StringLimit = 100
	defer func() { conf.Server.UPnP.StringLimit = 0 }()

	assert.Equal(t, 100, effectiveStringLimit(&model.ClientProfile{}))
	assert.Equal(t, 50, effectiveStringLimit(&model.ClientProfile{StringLimit: 50}))
	assert.Equal(t, 100, effectiveStringLimit(&model.ClientProfile{StringLimit: 200}))
}
