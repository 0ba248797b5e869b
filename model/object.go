package model

import (
	"hash/crc32"
	"maps"
	"slices"
	"strings"
	"time"
)

// Fixed object ids. Any id at or below FsRootID is forbidden as a mutation
// target.
const (
	BlackholeID     = -1
	RootID          = 0
	FsRootID        = 1
	InvalidObjectID = -333
)

// IsForbiddenID reports whether id must never be created, updated or removed
// through the public storage API.
func IsForbiddenID(id int32) bool { return id <= FsRootID }

// Object type bits, persisted in cds_object.object_type.
const (
	ObjectTypeContainer       = 0x0001
	ObjectTypeItem            = 0x0002
	ObjectTypeItemExternalURL = 0x0008
	// ObjectTypeVirtualMarker is OR-ed into the stored type for virtual
	// objects since the location prefix was dropped from the schema.
	ObjectTypeVirtualMarker = 0x0010
)

// Object flags, persisted in cds_object.flags. Values are stable across
// versions.
const (
	FlagRestricted          uint32 = 0x0001
	FlagSearchable          uint32 = 0x0002
	FlagUseResourceRef      uint32 = 0x0004
	FlagPersistentContainer uint32 = 0x0008
	FlagPlaylistRef         uint32 = 0x0010
	FlagProxyURL            uint32 = 0x0020
	FlagOnlineService       uint32 = 0x0040
	FlagOggTheora           uint32 = 0x0080
	FlagClientAllowed       uint32 = 0x0100
	FlagClientDenied        uint32 = 0x0200
)

// Well-known UPnP classes.
const (
	ClassContainer         = "object.container"
	ClassDynamicFolder     = "object.container.dynamicFolder"
	ClassMusicAlbum        = "object.container.album.musicAlbum"
	ClassPlaylistContainer = "object.container.playlistContainer"
	ClassItem              = "object.item"
	ClassAudioItem         = "object.item.audioItem"
	ClassMusicTrack        = "object.item.audioItem.musicTrack"
	ClassVideoItem         = "object.item.videoItem"
	ClassImageItem         = "object.item.imageItem"
)

// Object is one node of the content directory tree: a container or an item.
// The ObjectType bits select the variant; capability predicates replace
// subclassing.
type Object struct {
	ID         int32
	ParentID   int32
	RefID      int32 // 0 = none
	ObjectType int
	Class      string
	Title      string
	Location   string
	MimeType   string
	Flags      uint32
	Virtual    bool

	LastModified time.Time
	LastUpdated  time.Time

	// Item-only fields.
	ServiceID   string
	BookmarkPos time.Duration
	PartNumber  int
	TrackNumber int

	// Container-only fields.
	UpdateID   int32
	ChildCount int

	Metadata  map[string]string
	AuxData   map[string]string
	Resources []*Resource
}

func NewObject(typeBits int) *Object {
	o := &Object{
		ObjectType: typeBits,
		RefID:      0,
		ID:         InvalidObjectID,
		ParentID:   InvalidObjectID,
		Metadata:   map[string]string{},
		AuxData:    map[string]string{},
	}
	if o.IsContainer() {
		o.Class = ClassContainer
	} else {
		o.Class = ClassItem
	}
	return o
}

func (o *Object) IsContainer() bool { return o.ObjectType&ObjectTypeContainer != 0 }
func (o *Object) IsItem() bool      { return o.ObjectType&ObjectTypeItem != 0 }
func (o *Object) IsExternalURL() bool {
	return o.ObjectType&ObjectTypeItemExternalURL != 0
}

// IsPureItem reports a plain local-file item.
func (o *Object) IsPureItem() bool { return o.IsItem() && !o.IsExternalURL() }

func (o *Object) IsReference() bool { return o.RefID > 0 }

func (o *Object) GetFlag(flag uint32) bool  { return o.Flags&flag != 0 }
func (o *Object) SetFlag(flag uint32)       { o.Flags |= flag }
func (o *Object) ClearFlag(flag uint32)     { o.Flags &^= flag }

func (o *Object) SetMetadata(key, value string) {
	if o.Metadata == nil {
		o.Metadata = map[string]string{}
	}
	o.Metadata[key] = value
}

func (o *Object) GetMetadata(key string) string { return o.Metadata[key] }

func (o *Object) SetAuxData(key, value string) {
	if o.AuxData == nil {
		o.AuxData = map[string]string{}
	}
	o.AuxData[key] = value
}

func (o *Object) AddResource(res *Resource) {
	res.ID = len(o.Resources)
	o.Resources = append(o.Resources, res)
}

// HasResource reports whether a resource with the given purpose exists.
func (o *Object) HasResource(purpose ResourcePurpose) bool {
	return slices.ContainsFunc(o.Resources, func(r *Resource) bool {
		return r.Purpose == purpose
	})
}

// IsMetaResource reports whether the object carries a handler-produced
// resource of the given content type, e.g. embedded album art extracted by a
// tag reader. DIDL rendering uses it to decide whether an art URI can be
// attached.
func (o *Object) IsMetaResource(contentType string) bool {
	return slices.ContainsFunc(o.Resources, func(r *Resource) bool {
		return r.Parameters[ResourceParamContentType] == contentType &&
			r.HandlerType.ProducesMetadata()
	})
}

// Clone returns a deep copy without identity: the copy has no id and keeps
// the source's parent.
func (o *Object) Clone() *Object {
	c := *o
	c.ID = InvalidObjectID
	c.Metadata = maps.Clone(o.Metadata)
	c.AuxData = maps.Clone(o.AuxData)
	c.Resources = make([]*Resource, len(o.Resources))
	for i, r := range o.Resources {
		c.Resources[i] = r.Clone()
	}
	return &c
}

// Equals compares structurally: type, header fields, metadata, aux data and
// the full resource lists.
func (o *Object) Equals(other *Object) bool {
	if other == nil {
		return false
	}
	if o.ObjectType != other.ObjectType ||
		o.Class != other.Class ||
		o.Title != other.Title ||
		o.Location != other.Location ||
		o.MimeType != other.MimeType ||
		o.Flags != other.Flags {
		return false
	}
	if !maps.Equal(o.Metadata, other.Metadata) || !maps.Equal(o.AuxData, other.AuxData) {
		return false
	}
	return o.ResourcesEqual(other)
}

func (o *Object) ResourcesEqual(other *Object) bool {
	if len(o.Resources) != len(other.Resources) {
		return false
	}
	for i, r := range o.Resources {
		if !r.Equals(other.Resources[i]) {
			return false
		}
	}
	return true
}

// LocationHash is the persisted 32-bit hash of a db location string, used for
// path lookups without a full-string index.
func LocationHash(location string) uint32 {
	return crc32.ChecksumIEEE([]byte(location))
}

// DerivedFrom reports whether the object's class equals or specializes the
// given base class.
func (o *Object) DerivedFrom(base string) bool {
	return o.Class == base || strings.HasPrefix(o.Class, base+".")
}

type Objects []*Object
