// Package events tracks catalog change counters and pushes them to
// subscribed control points.
package events

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// Notifier is the outbound eventing primitive of the UPnP host layer.
// Delivery to individual subscribers is the host's business; dropped
// subscribers are not retried here.
type Notifier interface {
	NotifyContentChanged(systemUpdateID int64, containerUpdateIDs string)
}

// Bus owns the monotonic SystemUpdateID and publishes per-container deltas.
// The id survives restarts through the internal settings table.
type Bus struct {
	ds       model.DataStore
	notifier Notifier

	mu             sync.Mutex
	systemUpdateID int64
}

func New(ds model.DataStore, notifier Notifier) *Bus {
	return &Bus{ds: ds, notifier: notifier}
}

// SetNotifier installs the outbound notify primitive; the UPnP router
// registers itself here after construction.
func (b *Bus) SetNotifier(n Notifier) {
	b.mu.Lock()
	b.notifier = n
	b.mu.Unlock()
}

// Load restores the persisted SystemUpdateID. A missing setting starts the
// counter at zero.
func (b *Bus) Load(ctx context.Context) error {
	value, err := b.ds.Setting(ctx).Get(model.SettingSystemUpdateID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Warn(ctx, "Ignoring malformed persisted update id", "value", value)
		return nil
	}
	b.mu.Lock()
	b.systemUpdateID = id
	b.mu.Unlock()
	return nil
}

func (b *Bus) SystemUpdateID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.systemUpdateID
}

// ContainersChanged increments the update counter of every touched
// container, bumps SystemUpdateID and notifies subscribers. Incrementing
// and publishing happen under one lock so subscribers observe strictly
// increasing ids with consistent deltas.
func (b *Bus) ContainersChanged(ctx context.Context, ids []int32) error {
	if len(ids) == 0 {
		return nil
	}
	valid := make([]int32, 0, len(ids))
	for _, id := range ids {
		if id != model.InvalidObjectID && id >= 0 {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	csv, err := b.ds.Object(ctx).IncrementUpdateIDs(valid)
	if err != nil {
		return err
	}
	b.systemUpdateID++
	if err := b.ds.Setting(ctx).Put(model.SettingSystemUpdateID,
		strconv.FormatInt(b.systemUpdateID, 10)); err != nil {
		return err
	}
	log.Debug(ctx, "Publishing container updates", "systemUpdateID", b.systemUpdateID, "containers", csv)
	if b.notifier != nil {
		b.notifier.NotifyContentChanged(b.systemUpdateID, csv)
	}
	return nil
}

// ChangedContainersPublished is the post-mutation hook: it forwards the UPnP
// half of a ChangedContainers result.
func (b *Bus) ChangedContainersPublished(ctx context.Context, changed *model.ChangedContainers) {
	if changed.Empty() {
		return
	}
	if err := b.ContainersChanged(ctx, changed.UPnP); err != nil {
		log.Error(ctx, "Failed to publish container updates", err)
	}
}
