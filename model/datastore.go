package model

import (
	"context"
	"time"
)

// ObjectRepository is the storage engine for the content directory tree. It
// is the sole mutator of the object, metadata and resource tables and is
// responsible for referential repair.
type ObjectRepository interface {
	// AddObject inserts obj, assigning its id. For pure items the physical
	// parent path is created as needed; the deepest newly created container
	// id is returned (InvalidObjectID when nothing was created).
	AddObject(obj *Object) (changedContainer int32, err error)
	UpdateObject(obj *Object) (changedContainer int32, err error)
	LoadObject(id int32) (*Object, error)
	LoadObjectByServiceID(serviceID string) (*Object, error)
	ServiceObjectIDs(servicePrefix byte) ([]int32, error)

	Browse(param *BrowseParam) (Objects, error)
	Search(param *SearchParam) (Objects, int, error)
	ChildCount(id int32, containers, items, hideFsRoot bool) (int, error)

	// AddContainerChain idempotently creates missing ancestors of the given
	// virtual path and returns the leaf id plus ids of newly created
	// containers, deepest first.
	AddContainerChain(virtualPath, lastClass string, lastRefID int32, lastMetadata map[string]string) (leaf int32, created []int32, err error)
	BuildContainerPath(parentID int32, title string) (string, error)

	RemoveObject(id int32, cascade bool) (*ChangedContainers, error)
	RemoveObjects(ids []int32, cascade bool) (*ChangedContainers, error)

	FindObjectByPath(fullpath string, wasRegularFile bool) (*Object, error)
	FindObjectIDByPath(fullpath string, wasRegularFile bool) (int32, error)

	IncrementUpdateIDs(ids []int32) (string, error)
	PathIDs(id int32) ([]int32, error)
	TotalFiles(virtualOnly bool, mimeType, class string) (int, error)
	MimeTypes() ([]string, error)
	FsRootName() (string, error)
	ClearFlag(flag uint32) error
}

// AutoscanRepository persists autoscan directories.
type AutoscanRepository interface {
	GetAll(mode ScanMode) (Autoscans, error)
	Get(objectID int32) (*Autoscan, error)
	Add(*Autoscan) error
	Update(*Autoscan) error
	Remove(id int32) error
	// CheckOverlapping returns ErrOverlappingAutoscan when adir would
	// overlap an existing recursive scan or duplicate a target.
	CheckOverlapping(adir *Autoscan) ([]int32, error)
}

// SettingRepository is the internal_setting key/value table.
type SettingRepository interface {
	Get(key string) (string, error)
	Put(key, value string) error
}

// ConfigValueStatus tracks how a persisted config override relates to the
// file-based value.
type ConfigValueStatus string

const (
	StatusUnchanged ConfigValueStatus = "unchanged"
	StatusChanged   ConfigValueStatus = "changed"
	StatusManual    ConfigValueStatus = "manual"
	StatusRemoved   ConfigValueStatus = "removed"
	StatusKilled    ConfigValueStatus = "killed"
	StatusReset     ConfigValueStatus = "reset"
)

// ConfigValue is one persisted UI config edit.
type ConfigValue struct {
	Item   string // xpath of the config node
	Key    string
	Value  string
	Status ConfigValueStatus
}

type ConfigValueRepository interface {
	GetAll() ([]ConfigValue, error)
	Update(key, item, value string, status ConfigValueStatus) error
	Remove(item string) error
}

// DataStore aggregates the repositories and owns transaction demarcation.
// Transactions are a no-op when disabled by configuration.
type DataStore interface {
	Object(ctx context.Context) ObjectRepository
	Autoscan(ctx context.Context) AutoscanRepository
	Setting(ctx context.Context) SettingRepository
	ConfigValue(ctx context.Context) ConfigValueRepository
	Client(ctx context.Context) ClientRepository
	PlayStatus(ctx context.Context) PlayStatusRepository

	WithTx(ctx context.Context, name string, fn func(tx DataStore) error) error
	Close() error
}

// Internal setting keys.
const (
	SettingDBVersion      = "db_version"
	SettingSystemUpdateID = "system_update_id"
	SettingStringLimit    = "string_limit"
	SettingFsRootName     = "fs_root_name"
	SettingResourceAttrs  = "resource_attributes"
)

// MaxRemoveSize bounds one delete batch; MaxRemoveRecursion caps closure
// walks so malformed graphs fail instead of spinning.
const (
	MaxRemoveSize      = 1000
	MaxRemoveRecursion = 500
)

// Now is stubbed in tests that pin query-time behavior such as @last<N>.
var Now = time.Now
