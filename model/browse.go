package model

// Browse flags mirror the CDS request shape plus internal refinements.
type BrowseFlags uint32

const (
	BrowseDirectChildren BrowseFlags = 1 << iota
	BrowseItems
	BrowseContainers
	BrowseExactLocation
	BrowseHideFsRoot
	BrowseTrackSort
	BrowseMetadata
)

// BrowseParam is the request value object handed to the storage engine. The
// engine fills TotalMatches while executing.
type BrowseParam struct {
	Parent         *Object
	Flags          BrowseFlags
	StartingIndex  int
	RequestedCount int
	SortCriteria   string
	Group          string
	DynamicAllowed bool
	TotalMatches   int
}

func (p *BrowseParam) GetFlag(f BrowseFlags) bool { return p.Flags&f != 0 }

// SearchParam carries a parsed-later criteria string plus paging.
type SearchParam struct {
	ContainerID    string
	Criteria       string
	SortCriteria   string
	StartingIndex  int
	RequestedCount int
	Group          string
}

// ChangedContainers is returned by mutating operations: upnp drives
// subscription events, ui drives admin-view refresh.
type ChangedContainers struct {
	UI   []int32
	UPnP []int32
}

func (c *ChangedContainers) Empty() bool {
	return c == nil || (len(c.UI) == 0 && len(c.UPnP) == 0)
}

// Add merges other into c.
func (c *ChangedContainers) Add(other *ChangedContainers) {
	if other == nil {
		return
	}
	c.UI = append(c.UI, other.UI...)
	c.UPnP = append(c.UPnP, other.UPnP...)
}
