package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/core/events"
	"github.com/cadenza-av/cadenza/db"
	"github.com/cadenza-av/cadenza/model"
	"github.com/cadenza-av/cadenza/persistence"
)

type captureNotifier struct {
	systemIDs []int64
	deltas    []string
}

func (n *captureNotifier) NotifyContentChanged(systemUpdateID int64, containerUpdateIDs string) {
	n.systemIDs = append(n.systemIDs, systemUpdateID)
	n.deltas = append(n.deltas, containerUpdateIDs)
}

func openStore(t *testing.T, name string) model.DataStore {
	t.Helper()
	conf.Server.Database.Driver = "sqlite3"
	conf.Server.Database.Path = "file:" + name + "?mode=memory&cache=shared&_foreign_keys=on"
	conf.Server.Database.EnableTxn = true
	conn, err := db.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return persistence.New(conn, nil)
}

func TestSystemUpdateIDMonotonicAndPersisted(t *testing.T) {
	ctx := context.Background()
	ds := openStore(t, "busMonotonic")
	notifier := &captureNotifier{}
	bus := events.New(ds, notifier)
	require.NoError(t, bus.Load(ctx))

	leaf, _, err := ds.Object(ctx).AddContainerChain("/BusTest", "object.container", 0, nil)
	require.NoError(t, err)

	start := bus.SystemUpdateID()
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.ContainersChanged(ctx, []int32{leaf}))
	}
	assert.Equal(t, start+3, bus.SystemUpdateID())

	// strictly increasing as observed by the subscriber
	for i := 1; i < len(notifier.systemIDs); i++ {
		assert.Greater(t, notifier.systemIDs[i], notifier.systemIDs[i-1])
	}
	// each delta carries at least one id,value pair
	for _, delta := range notifier.deltas {
		assert.Contains(t, delta, ",")
	}

	// a fresh bus over the same store resumes from the persisted value
	rebus := events.New(ds, nil)
	require.NoError(t, rebus.Load(ctx))
	assert.Equal(t, bus.SystemUpdateID(), rebus.SystemUpdateID())
}

func TestContainersChangedIgnoresEmptyAndInvalid(t *testing.T) {
	ctx := context.Background()
	ds := openStore(t, "busEmpty")
	notifier := &captureNotifier{}
	bus := events.New(ds, notifier)
	require.NoError(t, bus.Load(ctx))

	before := bus.SystemUpdateID()
	require.NoError(t, bus.ContainersChanged(ctx, nil))
	require.NoError(t, bus.ContainersChanged(ctx, []int32{model.InvalidObjectID}))
	assert.Equal(t, before, bus.SystemUpdateID())
	assert.Empty(t, notifier.systemIDs)
}
