package scanner

import (
	"slices"
	"strings"

	"github.com/haukened/rr-blockscan/internal/blockscan/bloom"
	"github.com/haukened/rr-blockscan/internal/blockscan/common/utils"
	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

// Scan evaluates the hostname of rawURL against the filter and the two
// override lists. It returns domain.ErrInvalidURL when rawURL has no usable
// hostname, and a filter error when the descriptor cannot be queried.
func Scan(filter domain.BloomFilter, recentlyAdded, recentlyRemoved []string, rawURL string) (domain.Verdict, error) {
	host, err := utils.HostnameFromURL(rawURL)
	if err != nil {
		return domain.Verdict{}, err
	}
	return ScanHostname(filter, recentlyAdded, recentlyRemoved, host)
}

// ScanHostname walks the suffixes of an already normalized hostname, most
// specific first: for a.b.example.com it checks a.b.example.com,
// b.example.com and example.com. The bare top-level label is never checked;
// the filter producer never includes public suffixes on their own.
//
// For each candidate, membership in recentlyAdded blocks outright. Otherwise a
// filter positive blocks unless the candidate is in recentlyRemoved.
func ScanHostname(filter domain.BloomFilter, recentlyAdded, recentlyRemoved []string, host string) (domain.Verdict, error) {
	labels := strings.Split(host, ".")
	for i := 0; i < len(labels)-1; i++ {
		candidate := strings.Join(labels[i:], ".")

		if slices.Contains(recentlyAdded, candidate) {
			return blocked(host, candidate, domain.MatchRecentlyAdded), nil
		}

		hit, err := bloom.MightContain(filter, candidate)
		if err != nil {
			return domain.NoneVerdict(host), err
		}
		if hit && !slices.Contains(recentlyRemoved, candidate) {
			return blocked(host, candidate, domain.MatchBloomFilter), nil
		}
	}
	return domain.NoneVerdict(host), nil
}

func blocked(host, candidate string, source domain.MatchSource) domain.Verdict {
	return domain.Verdict{
		Action:      domain.ActionBlock,
		Hostname:    host,
		Matched:     candidate,
		Source:      source,
		Registrable: utils.RegistrableDomain(host),
	}
}
