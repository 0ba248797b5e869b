// Package transcode selects a transcoding profile for a (client, item) pair
// and wraps the spawned agent's output as an IO handler.
package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/core/streamer"
	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// Dispatcher owns the configured profile list.
type Dispatcher struct {
	profiles []conf.TranscodingProfile
	fifoDir  string
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		profiles: conf.Server.Transcoding,
		fifoDir:  filepath.Join(conf.Server.DataFolder, "transcode"),
	}
}

// SelectProfile returns the first enabled profile matching the source mime
// type and the client's flags, or nil when the item should stream directly.
// Clients that forbid conversion always stream the original.
func (d *Dispatcher) SelectProfile(client *model.ClientProfile, mimeType string) *conf.TranscodingProfile {
	if client != nil && client.HasQuirk(model.QuirkForceNoConversion) {
		return nil
	}
	for i := range d.profiles {
		p := &d.profiles[i]
		if !p.Enabled || !mimeMatches(p.MimeType, mimeType) {
			continue
		}
		if p.ClientFlags != 0 && (client == nil || client.Flags&uint32(p.ClientFlags) == 0) {
			continue
		}
		return p
	}
	return nil
}

// ProfileByName resolves an explicitly requested profile from the media URL.
func (d *Dispatcher) ProfileByName(name string) *conf.TranscodingProfile {
	for i := range d.profiles {
		if d.profiles[i].Name == name {
			return &d.profiles[i]
		}
	}
	return nil
}

func mimeMatches(pattern, mimeType string) bool {
	if pattern == mimeType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(mimeType, prefix+"/")
	}
	return false
}

// Open spawns the agent for the given source and returns a handler over its
// output fifo. Length is unknown for transcoded streams; the profile's
// target mime type replaces the source's in the file info.
func (d *Dispatcher) Open(ctx context.Context, profile *conf.TranscodingProfile, source string) (streamer.Handler, error) {
	if err := os.MkdirAll(d.fifoDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	fifoPath := filepath.Join(d.fifoDir, fmt.Sprintf("cadenza-%s.fifo", uuid.NewString()))
	if err := syscall.Mkfifo(fifoPath, 0o600); err != nil {
		return nil, fmt.Errorf("%w: creating fifo: %v", model.ErrSourceUnavailable, err)
	}

	args, err := shellquote.Split(profile.Args)
	if err != nil {
		_ = os.Remove(fifoPath)
		return nil, fmt.Errorf("%w: profile %q arguments: %v", model.ErrInvalidArgument, profile.Name, err)
	}
	for i, arg := range args {
		arg = strings.ReplaceAll(arg, "%in", source)
		args[i] = strings.ReplaceAll(arg, "%out", fifoPath)
	}

	cmd := exec.Command(profile.Command, args...)
	cmd.Stderr = nil
	log.Debug(ctx, "Spawning transcoder", "profile", profile.Name, "command", profile.Command, "fifo", fifoPath)

	handler := streamer.NewProcessHandler(cmd, fifoPath,
		conf.Server.Streamer.ReadTimeout, conf.Server.Streamer.IgnoreSeekFifo)
	if err := handler.Open(); err != nil {
		_ = os.Remove(fifoPath)
		return nil, err
	}
	return handler, nil
}

// FileInfo is the (length, mime) pair served to the host layer: -1 and the
// target mime for transcodes, the real values otherwise.
func FileInfo(profile *conf.TranscodingProfile, realLength int64, realMime string) (int64, string) {
	if profile == nil {
		return realLength, realMime
	}
	return -1, profile.TargetMime
}
