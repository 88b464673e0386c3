package bloom

import (
	"crypto/sha1"
	"encoding/binary"
	"strconv"

	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

// Index returns the bit addressed by hash round i for key.
//
// The producer of the filter derives each index as the first four bytes of
// SHA-1("{salt}_{key}_{i}"), read big-endian, modulo the bit count. Any change
// here silently turns every lookup into a miss.
func Index(salt, key string, round int, bits uint64) uint64 {
	input := make([]byte, 0, len(salt)+len(key)+8)
	input = append(input, salt...)
	input = append(input, '_')
	input = append(input, key...)
	input = append(input, '_')
	input = strconv.AppendInt(input, int64(round), 10)

	sum := sha1.Sum(input)
	return uint64(binary.BigEndian.Uint32(sum[:4])) % bits
}

// MightContain reports whether key is possibly in the filter. A false result
// is authoritative; a true result may be a false positive.
//
// A filter with zero bits or rounds is a caller error and yields
// domain.ErrInvalidFilter.
func MightContain(f domain.BloomFilter, key string) (bool, error) {
	if f.Bits == 0 || f.K < 1 {
		return false, domain.ErrInvalidFilter
	}
	for i := 0; i < f.K; i++ {
		set, err := BitAt(f.BitVector, Index(f.Salt, key, i, f.Bits))
		if err != nil {
			return false, err
		}
		if !set {
			return false, nil
		}
	}
	return true, nil
}
