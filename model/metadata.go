package model

// DIDL-Lite metadata property names stored in the metadata table.
const (
	MetaTitle            = "dc:title"
	MetaArtist           = "upnp:artist"
	MetaAlbum            = "upnp:album"
	MetaAlbumArtist      = "upnp:albumArtist"
	MetaGenre            = "upnp:genre"
	MetaDate             = "dc:date"
	MetaUploadDate       = "upnp:date"
	MetaCreator          = "dc:creator"
	MetaDescription      = "dc:description"
	MetaLongDescription  = "upnp:longDescription"
	MetaComposer         = "upnp:composer"
	MetaTrackNumber      = "upnp:originalTrackNumber"
	MetaPartNumber       = "upnp:episodeSeason"
	MetaRegion           = "upnp:region"
	MetaAlbumArtURI      = "upnp:albumArtURI"
	MetaPlaybackCount    = "upnp:playbackCount"
	MetaLastPlaybackTime = "upnp:lastPlaybackTime"
)

// KnownMetadataKeys lists the properties the sort parser accepts without the
// browse column mapper resolving them first.
var KnownMetadataKeys = []string{
	MetaTitle, MetaArtist, MetaAlbum, MetaAlbumArtist, MetaGenre, MetaDate,
	MetaUploadDate, MetaCreator, MetaDescription, MetaLongDescription,
	MetaComposer, MetaTrackNumber, MetaPartNumber, MetaRegion,
	MetaPlaybackCount, MetaLastPlaybackTime,
}
