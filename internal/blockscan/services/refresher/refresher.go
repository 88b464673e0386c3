package refresher

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/haukened/rr-blockscan/internal/blockscan/common/clock"
	"github.com/haukened/rr-blockscan/internal/blockscan/common/log"
	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

// Fetcher retrieves descriptors and filter bodies from the remote service.
type Fetcher interface {
	FetchBlocklist(ctx context.Context, req domain.BlocklistRequest) (domain.DomainBlocklist, error)
	FetchBloomFilter(ctx context.Context, url string) (domain.BloomFilter, error)
}

// Result is the outcome of a single successful refresh.
type Result struct {
	Snapshot domain.Snapshot
	// FetchedFilter is false when the cached filter body was reused.
	FetchedFilter bool
}

type Refresher struct {
	fetcher     Fetcher
	request     domain.BlocklistRequest
	clock       clock.Clock
	logger      log.Logger
	newRevision func() string
}

type Options struct {
	Fetcher Fetcher
	Request domain.BlocklistRequest
	Clock   clock.Clock
	Logger  log.Logger
	// NewRevision generates snapshot revisions. Defaults to random UUIDs.
	NewRevision func() string
}

func New(opts Options) (*Refresher, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("refresher: fetcher is required")
	}
	r := &Refresher{
		fetcher:     opts.Fetcher,
		request:     opts.Request,
		clock:       opts.Clock,
		logger:      log.OrNoop(opts.Logger),
		newRevision: opts.NewRevision,
	}
	if r.clock == nil {
		r.clock = clock.RealClock{}
	}
	if r.newRevision == nil {
		r.newRevision = uuid.NewString
	}
	return r, nil
}

// Refresh fetches the current descriptor and builds the snapshot that should
// replace cached. The filter body is downloaded only when its hash differs
// from the one recorded in cached; otherwise the cached body is kept and only
// the descriptor is replaced. Refresh never writes anything; on error the
// caller keeps cached untouched.
func (r *Refresher) Refresh(ctx context.Context, cached *domain.Snapshot) (Result, error) {
	desc, err := r.fetcher.FetchBlocklist(ctx, r.request)
	if err != nil {
		return Result{}, err
	}

	if cached != nil && cached.FilterHash() == desc.BloomFilter.Hash {
		r.logger.Debug(map[string]any{
			"hash":  desc.BloomFilter.Hash,
			"added": len(desc.RecentlyAdded),
		}, "bloom filter unchanged, reusing cached body")
		return Result{Snapshot: r.snapshot(desc, cached.Filter)}, nil
	}

	if desc.BloomFilter.URL == "" {
		return Result{}, fmt.Errorf("%w: descriptor has no bloom filter url", domain.ErrDecode)
	}
	filter, err := r.fetcher.FetchBloomFilter(ctx, desc.BloomFilter.URL)
	if err != nil {
		return Result{}, err
	}
	if err := filter.Validate(); err != nil {
		return Result{}, fmt.Errorf("bloom filter %s: %w", desc.BloomFilter.URL, err)
	}
	if filter.Hash != "" && filter.Hash != desc.BloomFilter.Hash {
		r.logger.Warn(map[string]any{
			"descriptor_hash": desc.BloomFilter.Hash,
			"filter_hash":     filter.Hash,
		}, "bloom filter hash differs from descriptor")
	}
	r.logger.Info(map[string]any{
		"hash": desc.BloomFilter.Hash,
		"bits": filter.Bits,
		"k":    filter.K,
	}, "bloom filter downloaded")
	return Result{Snapshot: r.snapshot(desc, filter), FetchedFilter: true}, nil
}

func (r *Refresher) snapshot(desc domain.DomainBlocklist, filter domain.BloomFilter) domain.Snapshot {
	return domain.Snapshot{
		Blocklist: desc,
		Filter:    filter,
		Revision:  r.newRevision(),
		FetchedAt: r.clock.Now(),
	}
}
