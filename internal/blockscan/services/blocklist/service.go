package blocklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/haukened/rr-blockscan/internal/blockscan/common/clock"
	"github.com/haukened/rr-blockscan/internal/blockscan/common/log"
	"github.com/haukened/rr-blockscan/internal/blockscan/common/utils"
	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
	"github.com/haukened/rr-blockscan/internal/blockscan/metrics"
	"github.com/haukened/rr-blockscan/internal/blockscan/repos/verdictcache"
	"github.com/haukened/rr-blockscan/internal/blockscan/services/refresher"
	"github.com/haukened/rr-blockscan/internal/blockscan/services/scanner"
)

// Service is the public face of the blocklist: scanning, refreshing and the
// user allow-list. All state lives in Storage; the decoded snapshot is held in
// memory and reused while the stored revision is unchanged.
type Service struct {
	storage   Storage
	refresher Refresher
	retry     refresher.RetryPolicy
	cache     verdictcache.Cache
	clock     clock.Clock
	logger    log.Logger
	report    ErrorSink

	// allowMu serializes allow-list read-modify-write cycles in this process.
	allowMu sync.Mutex
	// coldStart collapses concurrent refreshes triggered by scans that found
	// no stored snapshot.
	coldStart singleflight.Group
	held      atomic.Pointer[domain.Snapshot]
}

type Options struct {
	Storage     Storage
	Refresher   Refresher
	Retry       refresher.RetryPolicy
	Cache       verdictcache.Cache
	Clock       clock.Clock
	Logger      log.Logger
	ReportError ErrorSink
}

func New(opts Options) (*Service, error) {
	if opts.Storage == nil {
		return nil, errors.New("blocklist: storage is required")
	}
	if opts.Refresher == nil {
		return nil, errors.New("blocklist: refresher is required")
	}
	s := &Service{
		storage:   opts.Storage,
		refresher: opts.Refresher,
		retry:     opts.Retry,
		cache:     opts.Cache,
		clock:     opts.Clock,
		logger:    log.OrNoop(opts.Logger),
		report:    opts.ReportError,
	}
	if s.cache == nil {
		s.cache, _ = verdictcache.New(0)
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.report == nil {
		s.report = func(error) {}
	}
	if s.retry.Attempts < 1 {
		s.retry.Attempts = 1
	}
	return s, nil
}

// ScanDomain reports whether the host of rawURL is blocked. It fails only
// when rawURL has no usable hostname; every other problem is reported to the
// error sink and yields a NONE verdict.
func (s *Service) ScanDomain(ctx context.Context, rawURL string) (domain.Verdict, error) {
	host, err := utils.HostnameFromURL(rawURL)
	if err != nil {
		return domain.Verdict{}, err
	}

	snap, ok := s.loadSnapshot(ctx)
	if !ok {
		snap, ok = s.coldStartRefresh(ctx, host)
	}
	if !ok {
		s.fail(fmt.Errorf("scan %s: %w", host, domain.ErrStaleOrMissingCache))
		return s.record(domain.NoneVerdict(host)), nil
	}
	metrics.SnapshotAge.Set(snap.Age(s.clock.Now()).Seconds())

	v, hit := s.cache.Get(snap.Revision, host)
	if !hit {
		v, err = scanner.ScanHostname(snap.Filter, snap.Blocklist.RecentlyAdded, snap.Blocklist.RecentlyRemoved, host)
		if err != nil {
			s.fail(fmt.Errorf("scan %s: %w", host, err))
			return s.record(domain.NoneVerdict(host)), nil
		}
		s.cache.Put(snap.Revision, host, v)
	}

	if v.IsBlocked() {
		allowed, err := s.isAllowlisted(ctx, host)
		if err != nil {
			s.fail(fmt.Errorf("read allow-list: %w", err))
		}
		if allowed {
			v.Action = domain.ActionNone
			v.Allowlisted = true
		}
	}
	return s.record(v), nil
}

// coldStartRefresh runs one refresh shared by every scan that found no
// snapshot. The refresh is detached from ctx so a caller giving up does not
// fail the others; each caller stops waiting when its own ctx is done.
func (s *Service) coldStartRefresh(ctx context.Context, host string) (domain.Snapshot, bool) {
	s.logger.Info(map[string]any{"hostname": host}, "no stored blocklist, refreshing")
	ch := s.coldStart.DoChan(string(domain.KeySnapshot), func() (any, error) {
		return s.RefreshBlocklist(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Snapshot{}, false
		}
		return res.Val.(domain.Snapshot), true
	case <-ctx.Done():
		return domain.Snapshot{}, false
	}
}

// RefreshBlocklist fetches the current blocklist and stores the resulting
// snapshot. Attempts run one after another; each failure is reported to the
// error sink and the last one is returned. On failure the stored snapshot is
// left untouched.
func (s *Service) RefreshBlocklist(ctx context.Context) (domain.Snapshot, error) {
	refreshID := uuid.NewString()
	onFailure := func(attempt int, err error) {
		metrics.RefreshTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.logger.Warn(map[string]any{
			"refresh_id": refreshID,
			"attempt":    attempt,
			"attempts":   s.retry.Attempts,
			"error":      err,
		}, "blocklist refresh failed")
		s.fail(err)
	}
	snap, err := refresher.Retry(ctx, s.retry, onFailure, func(ctx context.Context) (domain.Snapshot, error) {
		return s.refreshOnce(ctx, refreshID)
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("refresh blocklist: %w", err)
	}
	return snap, nil
}

func (s *Service) refreshOnce(ctx context.Context, refreshID string) (domain.Snapshot, error) {
	var cached *domain.Snapshot
	if snap, ok := s.loadSnapshot(ctx); ok {
		cached = &snap
	}
	res, err := s.refresher.Refresh(ctx, cached)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.saveSnapshot(ctx, res.Snapshot); err != nil {
		return domain.Snapshot{}, err
	}

	outcome := metrics.OutcomeFilterReused
	if res.FetchedFilter {
		outcome = metrics.OutcomeFilterFetched
		metrics.FilterFetchTotal.Inc()
	}
	metrics.RefreshTotal.WithLabelValues(outcome).Inc()
	s.logger.Info(map[string]any{
		"refresh_id":       refreshID,
		"revision":         res.Snapshot.Revision,
		"hash":             res.Snapshot.FilterHash(),
		"filter_fetched":   res.FetchedFilter,
		"recently_added":   len(res.Snapshot.Blocklist.RecentlyAdded),
		"recently_removed": len(res.Snapshot.Blocklist.RecentlyRemoved),
	}, "blocklist refreshed")
	return res.Snapshot, nil
}

// AllowDomainLocally adds hostname to the user allow-list so that future
// BLOCK verdicts for exactly that hostname become NONE. An absolute URL is
// reduced to its host. Adding a hostname twice is a no-op. Bare public
// suffixes and anything that is not a valid hostname are rejected.
func (s *Service) AllowDomainLocally(ctx context.Context, hostname string) error {
	host, err := utils.HostnameFromInput(hostname)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", domain.ErrInvalidHostname, hostname, err)
	}
	if utils.IsPublicSuffix(host) {
		return fmt.Errorf("%w: %q is a public suffix", domain.ErrInvalidHostname, host)
	}

	s.allowMu.Lock()
	defer s.allowMu.Unlock()

	list, err := s.loadAllowlist(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(list, host) {
		return nil
	}
	raw, err := json.Marshal(append(list, host))
	if err != nil {
		return fmt.Errorf("encode allow-list: %w", err)
	}
	if err := s.storage.Set(ctx, domain.KeyUserAllowlist, raw); err != nil {
		return fmt.Errorf("store allow-list: %w", err)
	}
	s.logger.Info(map[string]any{"hostname": host}, "hostname allowed locally")
	return nil
}

// Allowlist returns the user allow-list.
func (s *Service) Allowlist(ctx context.Context) ([]string, error) {
	return s.loadAllowlist(ctx)
}

// Snapshot returns the stored snapshot, if any.
func (s *Service) Snapshot(ctx context.Context) (domain.Snapshot, bool, error) {
	return s.readSnapshot(ctx)
}

func (s *Service) isAllowlisted(ctx context.Context, host string) (bool, error) {
	list, err := s.loadAllowlist(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(list, host), nil
}

func (s *Service) loadAllowlist(ctx context.Context) ([]string, error) {
	raw, ok, err := s.storage.Get(ctx, domain.KeyUserAllowlist)
	if err != nil {
		return nil, fmt.Errorf("load allow-list: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: allow-list: %v", domain.ErrDecode, err)
	}
	return list, nil
}

// loadSnapshot reads the stored snapshot, reporting read failures to the
// error sink and treating them as absence.
func (s *Service) loadSnapshot(ctx context.Context) (domain.Snapshot, bool) {
	snap, ok, err := s.readSnapshot(ctx)
	if err != nil {
		s.fail(err)
		return domain.Snapshot{}, false
	}
	return snap, ok
}

// readSnapshot returns the held snapshot when the stored revision matches it,
// and decodes the stored snapshot otherwise.
func (s *Service) readSnapshot(ctx context.Context) (domain.Snapshot, bool, error) {
	rev, ok, err := s.storage.Get(ctx, domain.KeySnapshotRevision)
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot revision: %w", err)
	}
	if held := s.held.Load(); ok && held != nil && held.Revision == string(rev) {
		return *held, true, nil
	}

	raw, ok, err := s.storage.Get(ctx, domain.KeySnapshot)
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return domain.Snapshot{}, false, nil
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("%w: snapshot: %v", domain.ErrDecode, err)
	}
	s.hold(snap)
	return snap, true, nil
}

func (s *Service) saveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.storage.Set(ctx, domain.KeySnapshot, raw); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if err := s.storage.Set(ctx, domain.KeySnapshotRevision, []byte(snap.Revision)); err != nil {
		return fmt.Errorf("store snapshot revision: %w", err)
	}
	s.hold(snap)
	return nil
}

// hold makes snap the in-memory snapshot. Verdicts cached for an older
// revision can never be hit again, so they are dropped.
func (s *Service) hold(snap domain.Snapshot) {
	prev := s.held.Swap(&snap)
	if prev != nil && prev.Revision != snap.Revision {
		s.cache.Purge()
	}
}

// CacheStats returns the verdict cache size and counters.
func (s *Service) CacheStats() (entries int, hits, misses, evictions uint64) {
	hits, misses, evictions = s.cache.Stats()
	return s.cache.Len(), hits, misses, evictions
}

func (s *Service) fail(err error) {
	metrics.ErrorsTotal.WithLabelValues(domain.ErrorKind(err)).Inc()
	s.report(err)
}

func (s *Service) record(v domain.Verdict) domain.Verdict {
	metrics.ScansTotal.WithLabelValues(v.Action.String(), v.Source.String()).Inc()
	return v
}
