package blocklist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-blockscan/internal/blockscan/common/clock"
	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
	"github.com/haukened/rr-blockscan/internal/blockscan/repos/storage/memory"
	"github.com/haukened/rr-blockscan/internal/blockscan/repos/verdictcache"
	"github.com/haukened/rr-blockscan/internal/blockscan/services/refresher"
)

// googleFilter has exactly the bit for google.com set (salt "abc", 256 bits).
var googleFilter = domain.BloomFilter{
	BitVector: "AAAAAAgAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
	K:         1,
	Bits:      256,
	Salt:      "abc",
	Hash:      "google",
}

var emptyFilter = domain.BloomFilter{BitVector: "AA==", K: 1, Bits: 8, Salt: "abc", Hash: "empty"}

// fakeFetcher serves a configurable descriptor and filter set.
type fakeFetcher struct {
	mu           sync.Mutex
	blocklist    domain.DomainBlocklist
	filters      map[string]domain.BloomFilter
	err          error
	blocklistN   int
	filterFetchN int
}

func newFakeFetcher(filter domain.BloomFilter, added, removed []string) *fakeFetcher {
	f := &fakeFetcher{filters: map[string]domain.BloomFilter{}}
	f.serve(filter, added, removed)
	return f
}

func (f *fakeFetcher) serve(filter domain.BloomFilter, added, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "https://cdn.example/" + filter.Hash + ".json"
	f.filters[url] = filter
	f.blocklist = domain.DomainBlocklist{
		BloomFilter:     domain.BloomFilterRef{URL: url, Hash: filter.Hash},
		RecentlyAdded:   added,
		RecentlyRemoved: removed,
	}
}

func (f *fakeFetcher) FetchBlocklist(context.Context, domain.BlocklistRequest) (domain.DomainBlocklist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocklistN++
	if f.err != nil {
		return domain.DomainBlocklist{}, f.err
	}
	return f.blocklist, nil
}

func (f *fakeFetcher) FetchBloomFilter(_ context.Context, url string) (domain.BloomFilter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterFetchN++
	if f.err != nil {
		return domain.BloomFilter{}, f.err
	}
	filter, ok := f.filters[url]
	if !ok {
		return domain.BloomFilter{}, &domain.RemoteError{StatusCode: 404}
	}
	return filter, nil
}

func (f *fakeFetcher) counts() (blocklists, filters int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocklistN, f.filterFetchN
}

// errorCollector is an ErrorSink that records everything it receives.
type errorCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *errorCollector) sink(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *errorCollector) all() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

func (c *errorCollector) contains(target error) bool {
	for _, err := range c.all() {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// failingStorage fails every operation.
type failingStorage struct{}

var errStorage = errors.New("storage unavailable")

func (failingStorage) Get(context.Context, domain.StorageKey) ([]byte, bool, error) {
	return nil, false, errStorage
}

func (failingStorage) Set(context.Context, domain.StorageKey, []byte) error { return errStorage }

type testEnv struct {
	svc     *Service
	store   Storage
	fetcher *fakeFetcher
	errs    *errorCollector
}

func newTestEnv(t *testing.T, store Storage, fetcher *fakeFetcher, cacheSize int) testEnv {
	t.Helper()
	env := newServiceEnv(t, store, fetcher, cacheSize)
	env.fetcher = fetcher
	return env
}

func newServiceEnv(t *testing.T, store Storage, fetcher refresher.Fetcher, cacheSize int) testEnv {
	t.Helper()
	clk := &clock.MockClock{CurrentTime: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	ref, err := refresher.New(refresher.Options{Fetcher: fetcher, Clock: clk})
	require.NoError(t, err)
	cache, err := verdictcache.New(cacheSize)
	require.NoError(t, err)
	errs := &errorCollector{}
	svc, err := New(Options{
		Storage:     store,
		Refresher:   ref,
		Retry:       refresher.RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		Cache:       cache,
		Clock:       clk,
		ReportError: errs.sink,
	})
	require.NoError(t, err)
	return testEnv{svc: svc, store: store, errs: errs}
}

// gatedFetcher holds descriptor fetches until release is closed or the
// request context ends.
type gatedFetcher struct {
	*fakeFetcher
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFetcher) FetchBlocklist(ctx context.Context, req domain.BlocklistRequest) (domain.DomainBlocklist, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return domain.DomainBlocklist{}, ctx.Err()
	}
	return g.fakeFetcher.FetchBlocklist(ctx, req)
}

// countingStorage records how often each key is read.
type countingStorage struct {
	Storage
	mu   sync.Mutex
	gets map[domain.StorageKey]int
}

func (c *countingStorage) Get(ctx context.Context, key domain.StorageKey) ([]byte, bool, error) {
	c.mu.Lock()
	if c.gets == nil {
		c.gets = map[domain.StorageKey]int{}
	}
	c.gets[key]++
	c.mu.Unlock()
	return c.Storage.Get(ctx, key)
}

func (c *countingStorage) reads(key domain.StorageKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets[key]
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Refresher: &refresher.Refresher{}})
	assert.Error(t, err)
	_, err = New(Options{Storage: memory.New()})
	assert.Error(t, err)
}

func TestScanDomain_InvalidURL(t *testing.T) {
	env := newTestEnv(t, memory.New(), newFakeFetcher(googleFilter, nil, nil), 0)

	for _, raw := range []string{"", "not a url", "https://"} {
		_, err := env.svc.ScanDomain(context.Background(), raw)
		assert.ErrorIs(t, err, domain.ErrInvalidURL, raw)
	}
	blocklists, _ := env.fetcher.counts()
	assert.Zero(t, blocklists, "invalid input must not trigger a refresh")
}

func TestScanDomain_ColdStartRefreshes(t *testing.T) {
	env := newTestEnv(t, memory.New(), newFakeFetcher(googleFilter, nil, nil), 0)

	v, err := env.svc.ScanDomain(context.Background(), "https://www.google.com/search?q=x")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBlock, v.Action)
	assert.Equal(t, "www.google.com", v.Hostname)
	assert.Equal(t, "google.com", v.Matched)
	assert.Equal(t, domain.MatchBloomFilter, v.Source)

	snap, ok, err := env.svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "google", snap.FilterHash())
	assert.Empty(t, env.errs.all())
}

func TestScanDomain_ColdStartFailureIsNone(t *testing.T) {
	fetcher := newFakeFetcher(googleFilter, nil, nil)
	fetcher.err = domain.ErrNetworkFailure
	env := newTestEnv(t, memory.New(), fetcher, 0)

	v, err := env.svc.ScanDomain(context.Background(), "https://google.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, v.Action)
	assert.Equal(t, "google.com", v.Hostname)

	blocklists, _ := fetcher.counts()
	assert.Equal(t, 3, blocklists)
	assert.True(t, env.errs.contains(domain.ErrNetworkFailure))
	assert.True(t, env.errs.contains(domain.ErrStaleOrMissingCache))
}

func TestScanDomain_UsesStoredSnapshot(t *testing.T) {
	env := newTestEnv(t, memory.New(), newFakeFetcher(googleFilter, []string{"evil.example"}, []string{"google.com"}), 0)
	ctx := context.Background()
	_, err := env.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)

	tests := []struct {
		url    string
		action domain.Action
		source domain.MatchSource
	}{
		{"https://google.com", domain.ActionNone, domain.MatchNone},
		{"https://login.evil.example/path", domain.ActionBlock, domain.MatchRecentlyAdded},
		{"https://yahoo.com", domain.ActionNone, domain.MatchNone},
		{"https://com", domain.ActionNone, domain.MatchNone},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			v, err := env.svc.ScanDomain(ctx, tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.action, v.Action)
			assert.Equal(t, tt.source, v.Source)
		})
	}
	blocklists, _ := env.fetcher.counts()
	assert.Equal(t, 1, blocklists, "scans with a stored snapshot must not refresh")
}

func TestScanDomain_StorageFailureIsNone(t *testing.T) {
	env := newTestEnv(t, failingStorage{}, newFakeFetcher(googleFilter, nil, nil), 0)

	v, err := env.svc.ScanDomain(context.Background(), "https://google.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, v.Action)
	assert.True(t, env.errs.contains(errStorage))
	assert.True(t, env.errs.contains(domain.ErrStaleOrMissingCache))
}

func TestScanDomain_CorruptSnapshotIsReplaced(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Set(context.Background(), domain.KeySnapshot, []byte("{not json")))
	env := newTestEnv(t, store, newFakeFetcher(googleFilter, nil, nil), 0)

	v, err := env.svc.ScanDomain(context.Background(), "https://google.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBlock, v.Action)
	assert.True(t, env.errs.contains(domain.ErrDecode))
}

func TestScanDomain_UndecodableFilterIsNone(t *testing.T) {
	store := memory.New()
	env := newTestEnv(t, store, newFakeFetcher(googleFilter, nil, nil), 0)
	ctx := context.Background()
	_, err := env.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)

	snap, _, err := env.svc.Snapshot(ctx)
	require.NoError(t, err)
	snap.Filter.BitVector = "AAAA" // too short for 256 bits
	require.NoError(t, env.svc.saveSnapshot(ctx, snap))

	v, err := env.svc.ScanDomain(ctx, "https://google.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, v.Action)
	assert.True(t, env.errs.contains(domain.ErrInvalidFilter))
}

func TestScanDomain_VerdictCacheFollowsRevision(t *testing.T) {
	fetcher := newFakeFetcher(googleFilter, nil, nil)
	env := newTestEnv(t, memory.New(), fetcher, 16)
	ctx := context.Background()

	v, err := env.svc.ScanDomain(ctx, "https://google.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBlock, v.Action)

	fetcher.serve(emptyFilter, nil, nil)
	_, err = env.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)

	v, err = env.svc.ScanDomain(ctx, "https://google.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, v.Action, "a new snapshot must not serve cached verdicts")
}

func TestScanDomain_ColdStartSurvivesCancelledCaller(t *testing.T) {
	gated := &gatedFetcher{
		fakeFetcher: newFakeFetcher(emptyFilter, []string{"evil.example"}, nil),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	env := newServiceEnv(t, memory.New(), gated, 0)

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	first := make(chan domain.Verdict, 1)
	go func() {
		v, _ := env.svc.ScanDomain(ctx1, "https://evil.example")
		first <- v
	}()
	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("cold-start refresh did not start")
	}

	second := make(chan domain.Verdict, 1)
	go func() {
		v, _ := env.svc.ScanDomain(context.Background(), "https://evil.example")
		second <- v
	}()
	time.Sleep(20 * time.Millisecond)
	cancel1()

	select {
	case v := <-first:
		assert.Equal(t, domain.ActionNone, v.Action, "a cancelled caller stops waiting")
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(gated.release)
	select {
	case v := <-second:
		assert.Equal(t, domain.ActionBlock, v.Action)
		assert.Equal(t, domain.MatchRecentlyAdded, v.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}

	blocklists, _ := gated.counts()
	assert.Equal(t, 1, blocklists, "both callers share one refresh")
}

func TestScanDomain_ReusesHeldSnapshot(t *testing.T) {
	store := &countingStorage{Storage: memory.New()}
	env := newTestEnv(t, store, newFakeFetcher(googleFilter, nil, nil), 0)
	ctx := context.Background()
	_, err := env.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)

	before := store.reads(domain.KeySnapshot)
	for i := 0; i < 3; i++ {
		v, err := env.svc.ScanDomain(ctx, "https://google.com")
		require.NoError(t, err)
		assert.Equal(t, domain.ActionBlock, v.Action)
	}
	assert.Equal(t, before, store.reads(domain.KeySnapshot), "an unchanged revision must not be decoded again")
	assert.Greater(t, store.reads(domain.KeySnapshotRevision), 0)
}

func TestScanDomain_FollowsSharedStorage(t *testing.T) {
	store := memory.New()
	writer := newTestEnv(t, store, newFakeFetcher(googleFilter, nil, nil), 0)
	reader := newTestEnv(t, store, newFakeFetcher(emptyFilter, nil, nil), 16)
	ctx := context.Background()

	_, err := writer.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)
	v, err := reader.svc.ScanDomain(ctx, "https://google.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBlock, v.Action)

	writer.fetcher.serve(emptyFilter, nil, nil)
	_, err = writer.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)
	v, err = reader.svc.ScanDomain(ctx, "https://google.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, v.Action)

	blocklists, _ := reader.fetcher.counts()
	assert.Zero(t, blocklists, "the reader never refreshes itself")
}

func TestRefreshBlocklist_NewRevisionPurgesVerdicts(t *testing.T) {
	fetcher := newFakeFetcher(googleFilter, nil, nil)
	env := newTestEnv(t, memory.New(), fetcher, 16)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.svc.ScanDomain(ctx, "https://google.com")
		require.NoError(t, err)
	}
	entries, hits, misses, _ := env.svc.CacheStats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)

	_, err := env.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)
	entries, _, _, evictions := env.svc.CacheStats()
	assert.Zero(t, entries)
	assert.Equal(t, uint64(1), evictions)
}

func TestRefreshBlocklist_ReusesFilterWhenHashUnchanged(t *testing.T) {
	fetcher := newFakeFetcher(googleFilter, nil, nil)
	env := newTestEnv(t, memory.New(), fetcher, 0)
	ctx := context.Background()

	first, err := env.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)

	fetcher.serve(googleFilter, []string{"new.example"}, nil)
	second, err := env.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)

	blocklists, filters := fetcher.counts()
	assert.Equal(t, 2, blocklists)
	assert.Equal(t, 1, filters)
	assert.NotEqual(t, first.Revision, second.Revision)
	assert.Equal(t, []string{"new.example"}, second.Blocklist.RecentlyAdded)

	v, err := env.svc.ScanDomain(ctx, "https://new.example")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBlock, v.Action)
}

func TestRefreshBlocklist_FailureKeepsSnapshot(t *testing.T) {
	fetcher := newFakeFetcher(googleFilter, nil, nil)
	env := newTestEnv(t, memory.New(), fetcher, 0)
	ctx := context.Background()

	before, err := env.svc.RefreshBlocklist(ctx)
	require.NoError(t, err)

	fetcher.err = &domain.RemoteError{StatusCode: 503, Body: "down"}
	_, err = env.svc.RefreshBlocklist(ctx)
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.Len(t, env.errs.all(), 3, "every attempt is reported")

	after, ok, err := env.svc.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before.Revision, after.Revision)
}

func TestRefreshBlocklist_StorageFailure(t *testing.T) {
	env := newTestEnv(t, failingStorage{}, newFakeFetcher(googleFilter, nil, nil), 0)

	_, err := env.svc.RefreshBlocklist(context.Background())
	assert.ErrorIs(t, err, errStorage)
}

func TestAllowDomainLocally(t *testing.T) {
	env := newTestEnv(t, memory.New(), newFakeFetcher(googleFilter, nil, nil), 16)
	ctx := context.Background()

	v, err := env.svc.ScanDomain(ctx, "https://google.com")
	require.NoError(t, err)
	require.Equal(t, domain.ActionBlock, v.Action)

	require.NoError(t, env.svc.AllowDomainLocally(ctx, "Google.COM."))
	require.NoError(t, env.svc.AllowDomainLocally(ctx, "google.com"))

	list, err := env.svc.Allowlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"google.com"}, list)

	v, err = env.svc.ScanDomain(ctx, "https://google.com/")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, v.Action)
	assert.True(t, v.Allowlisted)

	// The allow-list matches the exact hostname only.
	v, err = env.svc.ScanDomain(ctx, "https://www.google.com/")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBlock, v.Action)
}

func TestAllowDomainLocally_URLInput(t *testing.T) {
	env := newTestEnv(t, memory.New(), newFakeFetcher(emptyFilter, []string{"evil.example"}, nil), 0)
	ctx := context.Background()

	require.NoError(t, env.svc.AllowDomainLocally(ctx, "https://evil.example/"))
	list, err := env.svc.Allowlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"evil.example"}, list)

	v, err := env.svc.ScanDomain(ctx, "https://evil.example/")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, v.Action)
	assert.True(t, v.Allowlisted)
}

func TestAllowDomainLocally_PreservesOrder(t *testing.T) {
	env := newTestEnv(t, memory.New(), newFakeFetcher(googleFilter, nil, nil), 0)
	ctx := context.Background()

	for _, h := range []string{"b.example", "a.example", "b.example", "c.example"} {
		require.NoError(t, env.svc.AllowDomainLocally(ctx, h))
	}
	list, err := env.svc.Allowlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.example", "a.example", "c.example"}, list)
}

func TestAllowDomainLocally_Rejects(t *testing.T) {
	env := newTestEnv(t, memory.New(), newFakeFetcher(googleFilter, nil, nil), 0)

	for _, h := range []string{"", "   ", "com", "co.uk", "https://com/", "evil.example/path", "evil.example:443", "evil example"} {
		err := env.svc.AllowDomainLocally(context.Background(), h)
		assert.ErrorIs(t, err, domain.ErrInvalidHostname, h)
	}
	list, err := env.svc.Allowlist(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAllowDomainLocally_StorageFailure(t *testing.T) {
	env := newTestEnv(t, failingStorage{}, newFakeFetcher(googleFilter, nil, nil), 0)

	err := env.svc.AllowDomainLocally(context.Background(), "example.com")
	assert.ErrorIs(t, err, errStorage)
}

func TestAllowDomainLocally_Concurrent(t *testing.T) {
	env := newTestEnv(t, memory.New(), newFakeFetcher(googleFilter, nil, nil), 0)
	ctx := context.Background()
	hosts := []string{"a.example", "b.example", "c.example", "d.example", "e.example"}

	var wg sync.WaitGroup
	for _, h := range hosts {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			assert.NoError(t, env.svc.AllowDomainLocally(ctx, h))
		}(h)
	}
	wg.Wait()

	list, err := env.svc.Allowlist(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, hosts, list)
}
