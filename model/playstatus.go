package model

import "time"

// PlayStatus is per-group playback state for one item, fed by the Samsung
// bookmark action and the played-item marker.
type PlayStatus struct {
	Group       string
	ItemID      int32
	PlayCount   int
	LastPlayed  time.Time
	BookmarkPos time.Duration
}

type PlayStatusRepository interface {
	Get(group string, itemID int32) (*PlayStatus, error)
	Put(*PlayStatus) error
}
