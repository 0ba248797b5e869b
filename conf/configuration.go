// Package conf loads and holds the validated server configuration. The core
// packages read the resulting struct; flag and file handling stays here.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cadenza-av/cadenza/log"
)

type configOptions struct {
	Address      string
	Port         int
	FriendlyName string
	DataFolder   string
	LogLevel     string

	Database databaseOptions
	UPnP     upnpOptions
	Import   importOptions
	Clients  clientsOptions
	Streamer streamerOptions

	Transcoding     []TranscodingProfile
	DynamicContent  []DynamicContentSpec
	ClientProfiles  []ClientProfileConfig
}

type databaseOptions struct {
	Driver           string
	Path             string
	EnableTxn        bool
	ShutdownAttempts int
	BackupEnabled    bool
	BackupInterval   time.Duration
}

type upnpOptions struct {
	StringLimit         int
	AnnounceInterval    time.Duration
	CaptionInfoCount    int
	MarkPlayedItems     bool
	MarkPlayedClasses   []string
	PlayedMark          string
	PlayedMarkPrepend   bool
	DynamicContentShown bool
}

type importOptions struct {
	HiddenFiles     bool
	FollowSymlinks  bool
	LayoutParentDir string
}

type clientsOptions struct {
	CacheThreshold time.Duration
}

type streamerOptions struct {
	BufferSize      int
	FillSize        int
	ChunkSize       int
	ReadTimeout     time.Duration
	IgnoreSeekFifo  bool
}

// TranscodingProfile configures one external transcoder agent.
type TranscodingProfile struct {
	Name         string
	Enabled      bool
	MimeType     string // source mime match, may end in "/*"
	TargetMime   string
	Command      string
	Args         string // shell-quoted, %in/%out placeholders
	BufferSize   int
	ChunkSize    int
	FillSize     int
	AcceptURL    bool
	FirstResource bool
	ClientFlags  uint32
}

// DynamicContentSpec defines a query-backed virtual folder.
type DynamicContentSpec struct {
	Location string // virtual path of the folder itself
	Title    string
	Filter   string // UPnP search criteria
	Sort     string
	Image    string
	MaxCount int
}

// ClientProfileConfig is a configured (non built-in) client profile entry.
type ClientProfileConfig struct {
	Name        string
	Group       string
	MatchType   string // ip | useragent | friendlyname | modelname | manufacturer
	Match       string
	Flags       uint32
	StringLimit int
}

// Server is the global configuration, populated by Load before any core
// component starts.
var Server = &configOptions{}

// Load reads the configuration into conf.Server. Defaults keep a bare
// invocation usable.
func Load(confFile string) error {
	v := viper.New()
	v.SetDefault("address", "0.0.0.0")
	v.SetDefault("port", 49152)
	v.SetDefault("friendlyname", "Cadenza")
	v.SetDefault("datafolder", "./data")
	v.SetDefault("loglevel", "info")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "")
	v.SetDefault("database.enabletxn", true)
	v.SetDefault("database.shutdownattempts", 5)
	v.SetDefault("database.backupenabled", false)
	v.SetDefault("database.backupinterval", 600*time.Second)

	v.SetDefault("upnp.stringlimit", 0)
	v.SetDefault("upnp.announceinterval", 30*time.Minute)
	v.SetDefault("upnp.captioninfocount", 1)
	v.SetDefault("upnp.markplayeditems", false)
	v.SetDefault("upnp.playedmark", "*")
	v.SetDefault("upnp.playedmarkprepend", true)
	v.SetDefault("upnp.dynamiccontentshown", true)

	v.SetDefault("clients.cachethreshold", 6*time.Hour)

	v.SetDefault("streamer.buffersize", 1024*1024)
	v.SetDefault("streamer.fillsize", 256*1024)
	v.SetDefault("streamer.chunksize", 64*1024)
	v.SetDefault("streamer.readtimeout", 10*time.Second)
	v.SetDefault("streamer.ignoreseekfifo", false)

	v.SetEnvPrefix("cadenza")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if confFile != "" {
		v.SetConfigFile(confFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", confFile, err)
		}
	}

	if err := v.Unmarshal(Server); err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}
	if err := validate(Server); err != nil {
		return err
	}
	log.SetLevel(Server.LogLevel)
	return nil
}

func validate(c *configOptions) error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Database.ShutdownAttempts <= 0 {
		c.Database.ShutdownAttempts = 5
	}
	if c.Streamer.FillSize > c.Streamer.BufferSize {
		return fmt.Errorf("streamer fill size %d exceeds buffer size %d",
			c.Streamer.FillSize, c.Streamer.BufferSize)
	}
	for i := range c.Transcoding {
		p := &c.Transcoding[i]
		if p.Name == "" {
			return fmt.Errorf("transcoding profile #%d has no name", i)
		}
		if p.BufferSize == 0 {
			p.BufferSize = c.Streamer.BufferSize
		}
		if p.ChunkSize == 0 {
			p.ChunkSize = c.Streamer.ChunkSize
		}
		if p.FillSize > p.BufferSize {
			return fmt.Errorf("transcoding profile %q: fill size exceeds buffer size", p.Name)
		}
	}
	return nil
}
