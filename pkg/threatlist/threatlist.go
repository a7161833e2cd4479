// Package threatlist maintains the Tor exit node set and the VPN/proxy
// range set the engine's network signals consult.
//
// Each list is fetched from a primary source with a secondary mirror as
// fallback, replaced wholesale on every successful refresh, and published
// as an immutable snapshot behind an atomic swap. A small builtin seed
// covers the window before the first successful fetch.
//
// Refresh discipline:
//   - Tor exit reads check staleness first; a stale snapshot triggers a
//     blocking refresh before the read answers.
//   - VPN range reads never block; that list is refreshed in the
//     background only.
//   - A failed refresh keeps the previous snapshot in service.
package threatlist

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default list sources. The secondaries are independent mirrors of the
// same data.
const (
	DefaultTorPrimaryURL   = "https://check.torproject.org/torbulkexitlist"
	DefaultTorSecondaryURL = "https://raw.githubusercontent.com/SecOps-Institute/Tor-IP-Addresses/master/tor-exit-nodes.lst"
	DefaultVPNPrimaryURL   = "https://raw.githubusercontent.com/X4BNet/lists_vpn/main/output/vpn/ipv4.txt"
	DefaultVPNSecondaryURL = "https://cdn.jsdelivr.net/gh/X4BNet/lists_vpn@main/output/vpn/ipv4.txt"
)

const (
	// DefaultMaxAge is how old a snapshot may grow before reads consider
	// it stale.
	DefaultMaxAge = time.Hour

	primaryTimeout   = 15 * time.Second
	secondaryTimeout = 10 * time.Second

	// Failed refresh attempts are not repeated more often than this.
	retryCooldown = time.Second
)

// Config controls the list sources and refresh behavior. Zero values fall
// back to the package defaults.
type Config struct {
	TorPrimaryURL   string
	TorSecondaryURL string
	VPNPrimaryURL   string
	VPNSecondaryURL string

	// MaxAge bounds snapshot staleness.
	MaxAge time.Duration

	// Client is the HTTP client used for fetches. Per-attempt timeouts are
	// applied via context regardless of the client's own timeout.
	Client *http.Client
}

type source struct {
	url     string
	timeout time.Duration
}

// list is one refreshable threat list with its fallback chain.
type list struct {
	name    string
	sources []source
	seed    []string
	maxAge  time.Duration
	client  *http.Client
	logger  *zap.Logger

	mu   sync.RWMutex
	snap *Snapshot

	// refreshMu serializes refresh attempts; concurrent stale readers
	// queue here and share one attempt's outcome.
	refreshMu    sync.Mutex
	lastFailedAt time.Time
}

// Store owns both threat lists.
type Store struct {
	tor    *list
	vpn    *list
	maxAge time.Duration
	logger *zap.Logger
}

// NewStore builds a store from cfg, applying defaults for zero fields.
func NewStore(cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "threat_list"))

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	torPrimary := defaultString(cfg.TorPrimaryURL, DefaultTorPrimaryURL)
	torSecondary := defaultString(cfg.TorSecondaryURL, DefaultTorSecondaryURL)
	vpnPrimary := defaultString(cfg.VPNPrimaryURL, DefaultVPNPrimaryURL)
	vpnSecondary := defaultString(cfg.VPNSecondaryURL, DefaultVPNSecondaryURL)

	return &Store{
		tor: &list{
			name: "tor-exit",
			sources: []source{
				{url: torPrimary, timeout: primaryTimeout},
				{url: torSecondary, timeout: secondaryTimeout},
			},
			seed:   torExitSeed,
			maxAge: maxAge,
			client: client,
			logger: logger,
		},
		vpn: &list{
			name: "vpn-range",
			sources: []source{
				{url: vpnPrimary, timeout: primaryTimeout},
				{url: vpnSecondary, timeout: secondaryTimeout},
			},
			seed:   vpnRangeSeed,
			maxAge: maxAge,
			client: client,
			logger: logger,
		},
		maxAge: maxAge,
		logger: logger,
	}
}

func defaultString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// IsTorExit reports whether ip is a known Tor exit node. A stale snapshot
// triggers a blocking refresh before the answer; if the refresh fails the
// last-known snapshot answers.
func (s *Store) IsTorExit(ctx context.Context, ip string) bool {
	s.tor.ensureFresh(ctx)
	snap := s.tor.current()
	return snap != nil && snap.Contains(ip)
}

// IsVPNRange reports whether ip falls inside a known VPN/proxy range.
// Never blocks on refresh.
func (s *Store) IsVPNRange(ip string) bool {
	snap := s.vpn.current()
	return snap != nil && snap.Contains(ip)
}

// Load performs the initial blocking load of both lists. With all sources
// down the builtin seeds are installed and later reads keep retrying.
func (s *Store) Load(ctx context.Context) {
	s.tor.refresh(ctx, true)
	s.vpn.refresh(ctx, true)
}

// ForceRefresh refreshes both lists regardless of age and returns the
// resulting entry counts. Prior snapshots survive failed attempts.
func (s *Store) ForceRefresh(ctx context.Context) (torEntries, vpnEntries int) {
	s.tor.refresh(ctx, true)
	s.vpn.refresh(ctx, true)
	return s.tor.entries(), s.vpn.entries()
}

// Run refreshes both lists on the staleness interval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tor.refresh(ctx, false)
			s.vpn.refresh(ctx, false)
		}
	}
}

// ListStatus describes one list's current snapshot for ops responses.
type ListStatus struct {
	Name      string    `json:"name"`
	Entries   int       `json:"entries"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Status reports both lists' snapshot states.
func (s *Store) Status() []ListStatus {
	return []ListStatus{s.tor.status(), s.vpn.status()}
}

func (l *list) current() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *list) swap(snap *Snapshot) {
	l.mu.Lock()
	l.snap = snap
	l.mu.Unlock()
}

func (l *list) entries() int {
	if snap := l.current(); snap != nil {
		return snap.Len()
	}
	return 0
}

func (l *list) status() ListStatus {
	st := ListStatus{Name: l.name}
	if snap := l.current(); snap != nil {
		st.Entries = snap.Len()
		st.Source = snap.Source()
		st.FetchedAt = snap.FetchedAt()
	}
	return st
}

func (l *list) stale() bool {
	snap := l.current()
	return snap == nil || time.Since(snap.FetchedAt()) > l.maxAge
}

func (l *list) ensureFresh(ctx context.Context) {
	if l.stale() {
		l.refresh(ctx, false)
	}
}

// refresh walks the fallback chain and swaps in the first snapshot that
// parses. Unless forced, it re-checks staleness after acquiring the lock so
// queued readers reuse the refresh that just completed.
func (l *list) refresh(ctx context.Context, force bool) {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	if !force {
		if snap := l.current(); snap != nil && time.Since(snap.FetchedAt()) <= l.maxAge {
			return
		}
		if time.Since(l.lastFailedAt) < retryCooldown {
			return
		}
	}

	start := time.Now()
	for _, src := range l.sources {
		snap, err := l.fetch(ctx, src)
		if err != nil {
			l.logger.Warn("threat list fetch failed",
				zap.String("list", l.name),
				zap.String("source", src.url),
				zap.Error(err))
			continue
		}
		l.swap(snap)
		l.logger.Info("threat list refreshed",
			zap.String("list", l.name),
			zap.String("source", src.url),
			zap.Int("entries", snap.Len()),
			zap.Duration("duration", time.Since(start)))
		return
	}

	l.lastFailedAt = time.Now()
	if l.current() == nil {
		snap := seedSnapshot(l.seed)
		l.swap(snap)
		l.logger.Warn("threat list sources unavailable, installed builtin seed",
			zap.String("list", l.name),
			zap.Int("entries", snap.Len()))
		return
	}
	l.logger.Warn("threat list refresh failed, keeping previous snapshot",
		zap.String("list", l.name),
		zap.Duration("age", time.Since(l.current().FetchedAt())))
}

func (l *list) fetch(ctx context.Context, src source) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, src.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, src.url)
	}

	return parseList(resp.Body, src.url, time.Now())
}
