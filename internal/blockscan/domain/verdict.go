package domain

import "fmt"

// MatchSource records which input produced a BLOCK.
type MatchSource uint8

const (
	MatchNone MatchSource = iota
	MatchRecentlyAdded
	MatchBloomFilter
)

// String returns a stable label, also used for metrics.
func (m MatchSource) String() string {
	switch m {
	case MatchNone:
		return "none"
	case MatchRecentlyAdded:
		return "recently_added"
	case MatchBloomFilter:
		return "bloom_filter"
	default:
		return fmt.Sprintf("MatchSource(%d)", m)
	}
}

// Verdict is the outcome of scanning one hostname.
// Pure value type, no external dependencies.
type Verdict struct {
	Action      Action
	Hostname    string      // normalized hostname that was scanned
	Matched     string      // suffix candidate that triggered the block
	Source      MatchSource // where the match came from
	Registrable string      // registrable domain of Hostname, when known
	Allowlisted bool        // a BLOCK downgraded by the user allow-list
}

// IsBlocked is a convenience accessor.
func (v Verdict) IsBlocked() bool { return v.Action == ActionBlock }

// NoneVerdict returns a not-blocked verdict for hostname.
func NoneVerdict(hostname string) Verdict {
	return Verdict{Action: ActionNone, Hostname: hostname, Source: MatchNone}
}
