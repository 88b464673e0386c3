package domain

import (
	"encoding/base64"
	"fmt"
)

// BloomFilter is the filter body served from the CDN.
//
// BitVector holds the packed bits as standard base64. Bits are numbered
// most-significant-first within each byte, so bit 0 is the high bit of the
// first byte. Hash fingerprints the body and is only used for cache
// invalidation.
type BloomFilter struct {
	BitVector string `json:"bitVector"`
	K         int    `json:"k"`
	Bits      uint64 `json:"bits"`
	Salt      string `json:"salt"`
	Hash      string `json:"hash"`
}

// Validate checks that every index in [0, Bits) is addressable and that the
// vector is well-formed base64. It decodes the vector once; lookups never do.
func (f BloomFilter) Validate() error {
	if f.K < 1 {
		return fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidFilter, f.K)
	}
	if f.Bits == 0 {
		return fmt.Errorf("%w: bits must be > 0", ErrInvalidFilter)
	}
	if len(f.BitVector)%4 != 0 {
		return fmt.Errorf("%w: bitVector length %d is not a multiple of 4", ErrInvalidFilter, len(f.BitVector))
	}
	raw, err := base64.StdEncoding.DecodeString(f.BitVector)
	if err != nil {
		return fmt.Errorf("%w: bitVector: %v", ErrDecode, err)
	}
	if uint64(len(raw))*8 < f.Bits {
		return fmt.Errorf("%w: bitVector holds %d bits, need %d", ErrInvalidFilter, len(raw)*8, f.Bits)
	}
	return nil
}
