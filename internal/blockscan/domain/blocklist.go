package domain

// BloomFilterRef points at the current filter body on the CDN.
type BloomFilterRef struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// DomainBlocklist is the descriptor returned by the blocklist API.
//
// RecentlyAdded names are blocked regardless of the filter; RecentlyRemoved
// names are allowed even when the filter reports a positive.
type DomainBlocklist struct {
	BloomFilter     BloomFilterRef `json:"bloomFilter"`
	RecentlyAdded   []string       `json:"recentlyAdded"`
	RecentlyRemoved []string       `json:"recentlyRemoved"`
	NextCursor      string         `json:"nextCursor,omitempty"`
}

// BlocklistRequest is the body of a descriptor fetch. Nil slices and an
// empty cursor are sent as JSON null.
type BlocklistRequest struct {
	PriorityBlockLists []string `json:"priorityBlockLists"`
	PriorityAllowLists []string `json:"priorityAllowLists"`
	Cursor             *string  `json:"cursor"`
}
