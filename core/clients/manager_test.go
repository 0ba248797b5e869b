package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/model"
)

// memClientRepo is an in-memory stand-in for the persisted observations.
type memClientRepo struct {
	byAddr map[string]*model.ClientObservation
}

func (r *memClientRepo) GetAll() (model.ClientObservations, error) {
	all := model.ClientObservations{}
	for _, obs := range r.byAddr {
		all = append(all, obs)
	}
	return all, nil
}

func (r *memClientRepo) Put(obs *model.ClientObservation) error {
	r.byAddr[obs.Addr] = obs
	return nil
}

func (r *memClientRepo) Delete(addr string) error {
	delete(r.byAddr, addr)
	return nil
}

func (r *memClientRepo) DeleteBefore(cutoff time.Time) error {
	for addr, obs := range r.byAddr {
		if obs.LastSeen.Before(cutoff) {
			delete(r.byAddr, addr)
		}
	}
	return nil
}

type stubDataStore struct {
	model.DataStore
	clients *memClientRepo
}

func (s *stubDataStore) Client(context.Context) model.ClientRepository { return s.clients }

func newTestManager(t *testing.T, profiles ...conf.ClientProfileConfig) (*Manager, *memClientRepo) {
	t.Helper()
	conf.Server.Clients.CacheThreshold = time.Hour
	conf.Server.ClientProfiles = profiles
	t.Cleanup(func() { conf.Server.ClientProfiles = nil })
	repo := &memClientRepo{byAddr: map[string]*model.ClientObservation{}}
	ds := &stubDataStore{clients: repo}
	return NewManager(context.Background(), ds), repo
}

func TestResolveByUserAgent(t *testing.T) {
	m, _ := newTestManager(t)
	profile := m.ResolveProfile(context.Background(), "10.0.0.5", 5000,
		"DLNADOC/1.50 SEC_HHP_[TV]UE40D7000/1.0", nil)
	assert.Equal(t, "Samsung other TVs", profile.Name)
	assert.True(t, profile.HasQuirk(model.QuirkSamsung))
	assert.True(t, profile.HasQuirk(model.QuirkSamsungFeatures))
}

func TestLaterProfilesWin(t *testing.T) {
	m, _ := newTestManager(t)
	// the AllShare entry is declared after the generic Samsung one and must
	// win on its more specific match
	profile := m.ResolveProfile(context.Background(), "10.0.0.6", 5000,
		"DLNADOC/1.50 SEC_HHP_[PC]LPC001/1.0", nil)
	assert.Equal(t, "AllShare", profile.Name, "reverse scan picks the latest matching entry")
	assert.False(t, profile.HasQuirk(model.QuirkSamsung))
}

func TestResolveByCIDR(t *testing.T) {
	m, _ := newTestManager(t, conf.ClientProfileConfig{
		Name:      "LivingRoom",
		MatchType: "ip",
		Match:     "192.168.2.0/24",
		Flags:     456,
	})
	profile := m.ResolveProfile(context.Background(), "192.168.2.100", 40000, "unknown", nil)
	assert.Equal(t, "LivingRoom", profile.Name)
	assert.Equal(t, uint32(456), profile.Flags)
}

func TestResolveByExactIPv6(t *testing.T) {
	m, _ := newTestManager(t, conf.ClientProfileConfig{
		Name:      "v6box",
		MatchType: "ip",
		Match:     "fd00::1",
		Flags:     7,
	})
	profile := m.ResolveProfile(context.Background(), "fd00::1", 40000, "", nil)
	assert.Equal(t, "v6box", profile.Name)
}

func TestUnknownFallback(t *testing.T) {
	m, repo := newTestManager(t)
	profile := m.ResolveProfile(context.Background(), "172.16.0.9", 1234, "mystery agent", nil)
	assert.Equal(t, "Unknown", profile.Name)
	assert.Zero(t, profile.Flags)

	// the observation was persisted
	require.Contains(t, repo.byAddr, "172.16.0.9")
	assert.Equal(t, "mystery agent", repo.byAddr["172.16.0.9"].UserAgent)
}

func TestDeviceDescriptionMatch(t *testing.T) {
	m, _ := newTestManager(t, conf.ClientProfileConfig{
		Name:      "Bravia",
		MatchType: "modelname",
		Match:     "BRAVIA",
		Flags:     uint32(model.QuirkSimpleDate),
	})
	profile := m.MatchDeviceDescription(context.Background(), "10.1.1.1", "TV", "KDL-BRAVIA-55", "Sony")
	require.NotNil(t, profile)
	assert.Equal(t, "Bravia", profile.Name)
}
