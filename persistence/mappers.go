package persistence

import (
	"github.com/cadenza-av/cadenza/core/search"
)

// Table names of the content directory schema.
const (
	objectTable     = "cds_object"
	metadataTable   = "metadata"
	resourceTable   = "resource"
	autoscanTable   = "autoscan"
	settingTable    = "internal_setting"
	configTable     = "config_value"
	clientTable     = "client"
	playStatusTable = "playstatus"
)

// Identifier quoting for the active dialect. SQLite and Postgres take
// double quotes; a MySQL build swaps in backticks here.
const (
	identQuoteBegin = '"'
	identQuoteEnd   = '"'
)

// browseMapper resolves CDS search/sort tags onto the object table (alias
// "c"). All identifier assembly for the engine goes through these mappers.
var browseMapper = search.NewEnumColumnMapper(identQuoteBegin, identQuoteEnd, "c", objectTable,
	map[string]search.Property{
		search.PropertyID:            {Alias: "c", Field: "id", Type: search.FieldInteger},
		search.PropertyRefID:         {Alias: "c", Field: "ref_id", Type: search.FieldInteger},
		search.PropertyParentID:      {Alias: "c", Field: "parent_id", Type: search.FieldInteger},
		"dc:title":                   {Alias: "c", Field: "dc_title", Type: search.FieldString},
		"upnp:class":                 {Alias: "c", Field: "upnp_class", Type: search.FieldString},
		search.PropertyLastUpdated:   {Alias: "c", Field: "last_updated", Type: search.FieldDate},
		search.PropertyLastModified:  {Alias: "c", Field: "last_modified", Type: search.FieldDate},
		search.PropertyPath:          {Alias: "c", Field: "location", Type: search.FieldString},
		"upnp:originalTrackNumber":   {Alias: "c", Field: "track_number", Type: search.FieldInteger},
		"upnp:episodeSeason":         {Alias: "c", Field: "part_number", Type: search.FieldInteger},
	})

var metaMapper = search.NewEnumColumnMapper(identQuoteBegin, identQuoteEnd, "m", metadataTable,
	map[string]search.Property{
		search.PropertyID: {Alias: "m", Field: "item_id", Type: search.FieldInteger},
		search.MetaName:   {Alias: "m", Field: "property_name", Type: search.FieldString},
		search.MetaValue:  {Alias: "m", Field: "property_value", Type: search.FieldString},
	})

var resourceMapper = search.NewEnumColumnMapper(identQuoteBegin, identQuoteEnd, "re", resourceTable,
	map[string]search.Property{
		search.PropertyID:        {Alias: "re", Field: "item_id", Type: search.FieldInteger},
		"res@protocolInfo":       {Alias: "re", Field: "protocol_info", Type: search.FieldString},
		"res@size":               {Alias: "re", Field: "size", Type: search.FieldInteger},
		"res@duration":           {Alias: "re", Field: "duration", Type: search.FieldString},
		"res@bitrate":            {Alias: "re", Field: "bitrate", Type: search.FieldInteger},
		"res@resolution":         {Alias: "re", Field: "resolution", Type: search.FieldString},
		"res@sampleFrequency":    {Alias: "re", Field: "sample_frequency", Type: search.FieldInteger},
		"res@nrAudioChannels":    {Alias: "re", Field: "nr_audio_channels", Type: search.FieldInteger},
	})

var playStatusMapper = search.NewEnumColumnMapper(identQuoteBegin, identQuoteEnd, "p", playStatusTable,
	map[string]search.Property{
		search.PropertyID:        {Alias: "p", Field: "item_id", Type: search.FieldInteger},
		search.PropertyPlayGroup: {Alias: "p", Field: "group_name", Type: search.FieldString},
		"upnp:playbackCount":     {Alias: "p", Field: "play_count", Type: search.FieldInteger},
		"upnp:lastPlaybackTime":  {Alias: "p", Field: "last_played", Type: search.FieldDate},
	})

// autoscanMapper covers the columns the remove path needs when it repairs
// autoscan rows.
var autoscanMapper = search.NewEnumColumnMapper(identQuoteBegin, identQuoteEnd, "a", autoscanTable,
	map[string]search.Property{
		"id":         {Alias: "a", Field: "id", Type: search.FieldInteger},
		"obj_id":     {Alias: "a", Field: "obj_id", Type: search.FieldInteger},
		"persistent": {Alias: "a", Field: "persistent", Type: search.FieldBool},
	})

// searchEmitter is the shared predicate emitter over the CDS schema.
var searchEmitter = search.NewDefaultSQLEmitter(browseMapper, metaMapper, resourceMapper, playStatusMapper)
