package model

import "time"

// Quirk flags alter response shape per client profile. Values are stable;
// configured profiles reference them numerically.
const (
	QuirkNone                   uint32 = 0
	QuirkSamsung                uint32 = 1 << 0
	QuirkSamsungFeatures        uint32 = 1 << 1
	QuirkSamsungHideDynamic     uint32 = 1 << 2
	QuirkDCM10                  uint32 = 1 << 3
	QuirkCaptionProtocol        uint32 = 1 << 4
	QuirkIRadio                 uint32 = 1 << 5
	QuirkSimpleDate             uint32 = 1 << 6
	QuirkPanasonic              uint32 = 1 << 7
	QuirkStrictXML              uint32 = 1 << 8
	QuirkAsciiXML               uint32 = 1 << 9
	QuirkForceNoConversion      uint32 = 1 << 10
	QuirkForceSortCriteriaTitle uint32 = 1 << 11
	QuirkPVSubtitles            uint32 = 1 << 12
	QuirkBlockXMLDeclaration    uint32 = 1 << 13
)

// ClientMatchType selects the attribute a profile matches on.
type ClientMatchType string

const (
	MatchNone         ClientMatchType = "none"
	MatchUserAgent    ClientMatchType = "useragent"
	MatchFriendlyName ClientMatchType = "friendlyname"
	MatchModelName    ClientMatchType = "modelname"
	MatchManufacturer ClientMatchType = "manufacturer"
	MatchIP           ClientMatchType = "ip"
)

// DefaultClientGroup is the play-state group used when a profile does not
// set one.
const DefaultClientGroup = "default"

// ClientProfile describes one recognized renderer family.
type ClientProfile struct {
	Name        string
	Group       string
	Flags       uint32
	MatchType   ClientMatchType
	Match       string
	StringLimit int
}

func (p *ClientProfile) HasQuirk(flag uint32) bool { return p.Flags&flag != 0 }

// ClientObservation is one remembered connection, persisted across restarts.
type ClientObservation struct {
	Addr      string
	Port      int
	UserAgent string
	Headers   map[string]string
	FirstSeen time.Time
	LastSeen  time.Time
	Profile   *ClientProfile `json:"-"`
}

type ClientObservations []*ClientObservation

// ClientRepository persists observations.
type ClientRepository interface {
	GetAll() (ClientObservations, error)
	Put(*ClientObservation) error
	Delete(addr string) error
	DeleteBefore(cutoff time.Time) error
}
