package model

import "time"

// ScanMode selects how an autoscan directory is watched.
type ScanMode string

const (
	ScanModeTimed   ScanMode = "timed"
	ScanModeINotify ScanMode = "inotify"
)

// Autoscan is a watched directory. It is attached 1:1 to a container object
// while the container exists; a persistent entry survives the container by
// keeping the last known location with a null object id.
type Autoscan struct {
	ID          int32
	ObjectID    int32 // InvalidObjectID when detached
	Mode        ScanMode
	Recursive   bool
	Hidden      bool
	Interval    time.Duration
	LastModified time.Time
	Persistent  bool
	Location    string
	// PathIDs is the precomputed ancestor id chain of ObjectID, leaf first,
	// stored as ",id,id,...," for overlap detection.
	PathIDs []int32
	// Touched marks entries seen during a config refresh so stale rows can
	// be dropped afterwards.
	Touched bool
}

type Autoscans []*Autoscan
