// Package clients resolves the renderer profile for each connection and
// keeps the observation cache that is persisted across restarts.
package clients

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mileusna/useragent"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// Manager holds the profile table (built-ins plus configured entries) and
// the observation cache. Configured entries are appended after the
// built-ins; lookups scan in reverse declaration order so they win.
type Manager struct {
	ds       model.DataStore
	profiles []model.ClientProfile

	mu    sync.Mutex
	cache *ttlcache.Cache[string, *model.ClientObservation]
}

func NewManager(ctx context.Context, ds model.DataStore) *Manager {
	m := &Manager{
		ds:       ds,
		profiles: append(append([]model.ClientProfile{}, builtinProfiles...), configuredProfiles()...),
		cache: ttlcache.New[string, *model.ClientObservation](
			ttlcache.WithTTL[string, *model.ClientObservation](conf.Server.Clients.CacheThreshold)),
	}
	m.loadPersisted(ctx)
	return m
}

func configuredProfiles() []model.ClientProfile {
	profiles := make([]model.ClientProfile, 0, len(conf.Server.ClientProfiles))
	for _, entry := range conf.Server.ClientProfiles {
		group := entry.Group
		if group == "" {
			group = model.DefaultClientGroup
		}
		profiles = append(profiles, model.ClientProfile{
			Name:        entry.Name,
			Group:       group,
			Flags:       entry.Flags,
			MatchType:   model.ClientMatchType(strings.ToLower(entry.MatchType)),
			Match:       entry.Match,
			StringLimit: entry.StringLimit,
		})
	}
	return profiles
}

func (m *Manager) loadPersisted(ctx context.Context) {
	observations, err := m.ds.Client(ctx).GetAll()
	if err != nil {
		log.Error(ctx, "Failed to load persisted client observations", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, obs := range observations {
		obs.Profile = m.matchProfile(obs.Addr, obs.UserAgent)
		m.cache.Set(obs.Addr, obs, ttlcache.DefaultTTL)
	}
	log.Debug(ctx, "Restored client observations", "count", len(observations))
}

// ResolveProfile finds the profile for a request and records the
// observation. Resolution order: IP match, user-agent match, cache hit,
// unknown fallback. Expired cache entries are evicted on this path.
func (m *Manager) ResolveProfile(ctx context.Context, addr string, port int, userAgent string, headers map[string]string) *model.ClientProfile {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.DeleteExpired()

	profile := m.matchProfile(addr, userAgent)
	if profile == nil {
		if entry := m.cache.Get(addr); entry != nil {
			if cached := entry.Value().Profile; cached != nil {
				profile = cached
			}
		}
	}
	if profile == nil {
		profile = &m.profiles[0] // Unknown, must be first entry
	}

	now := time.Now()
	obs := &model.ClientObservation{
		Addr:      addr,
		Port:      port,
		UserAgent: userAgent,
		Headers:   headers,
		FirstSeen: now,
		LastSeen:  now,
		Profile:   profile,
	}
	if entry := m.cache.Get(addr); entry != nil {
		obs.FirstSeen = entry.Value().FirstSeen
	}
	m.cache.Set(addr, obs, ttlcache.DefaultTTL)

	if err := m.ds.Client(ctx).Put(obs); err != nil {
		log.Warn(ctx, "Failed to persist client observation", err, "addr", addr)
	}
	if ua := useragent.Parse(userAgent); ua.Name != "" {
		log.Debug(ctx, "Resolved client", "addr", addr, "agent", ua.Name, "profile", profile.Name)
	} else {
		log.Debug(ctx, "Resolved client", "addr", addr, "userAgent", userAgent, "profile", profile.Name)
	}
	return profile
}

// matchProfile scans profiles in reverse declaration order so configured
// overrides beat defaults. IP matches win over user-agent matches.
func (m *Manager) matchProfile(addr, userAgent string) *model.ClientProfile {
	for i := len(m.profiles) - 1; i >= 0; i-- {
		p := &m.profiles[i]
		if p.MatchType == model.MatchIP && matchIP(p.Match, addr) {
			return p
		}
	}
	if userAgent != "" {
		for i := len(m.profiles) - 1; i >= 0; i-- {
			p := &m.profiles[i]
			if p.MatchType == model.MatchUserAgent && strings.Contains(userAgent, p.Match) {
				return p
			}
		}
	}
	return nil
}

// MatchDeviceDescription retries profile resolution with fields from a
// downloaded device description (SSDP discovery path).
func (m *Manager) MatchDeviceDescription(ctx context.Context, addr, friendlyName, modelName, manufacturer string) *model.ClientProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.profiles) - 1; i >= 0; i-- {
		p := &m.profiles[i]
		var value string
		switch p.MatchType {
		case model.MatchFriendlyName:
			value = friendlyName
		case model.MatchModelName:
			value = modelName
		case model.MatchManufacturer:
			value = manufacturer
		default:
			continue
		}
		if value != "" && strings.Contains(value, p.Match) {
			log.Debug(ctx, "Matched client by device description", "addr", addr, "profile", p.Name)
			if entry := m.cache.Get(addr); entry != nil {
				entry.Value().Profile = p
			}
			return p
		}
	}
	return nil
}

// matchIP accepts exact hosts and CIDR ranges for both address families.
func matchIP(pattern, addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	if strings.Contains(pattern, "/") {
		prefix, err := netip.ParsePrefix(pattern)
		if err != nil {
			return false
		}
		return prefix.Contains(ip)
	}
	match, err := netip.ParseAddr(pattern)
	if err != nil {
		return false
	}
	return match == ip
}

// SamsungFeaturesSeen reports whether any observed client carries the
// Samsung features quirk; SSDP advertises the MediaReceiverRegistrar then.
func (m *Manager) SamsungFeaturesSeen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.cache.Items() {
		if p := entry.Value().Profile; p != nil && p.HasQuirk(model.QuirkSamsungFeatures) {
			return true
		}
	}
	return false
}
