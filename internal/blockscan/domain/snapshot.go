package domain

import "time"

// Snapshot is the unit of local caching: a descriptor together with the filter
// body it references. Snapshots are replaced wholesale, never edited in place.
type Snapshot struct {
	Blocklist DomainBlocklist `json:"domainBlocklist"`
	Filter    BloomFilter     `json:"bloomFilter"`

	// Revision changes on every stored write and keys derived caches.
	Revision  string    `json:"revision"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// FilterHash returns the fingerprint used to decide whether the filter body
// must be fetched again.
func (s Snapshot) FilterHash() string {
	return s.Blocklist.BloomFilter.Hash
}

// Age reports how long ago the snapshot was fetched relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}
