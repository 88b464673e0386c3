package bloom

import (
	"encoding/base64"
	"fmt"

	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

// Standard base64 packs 3 bytes into every 4 characters, so a single bit can
// be read by decoding only the group that holds it.
const (
	groupChars = 4
	groupBytes = 3
	groupBits  = groupBytes * 8
)

// BitAt reports whether bit index of the base64 packed vector is set.
// Bits are numbered most-significant-first within each byte.
//
// Callers guarantee index is below the filter's bit count; an index past the
// end of the vector is reported as an error rather than read.
func BitAt(vector string, index uint64) (bool, error) {
	group := index / groupBits
	start := group * groupChars
	if start+groupChars > uint64(len(vector)) {
		return false, fmt.Errorf("%w: bit %d beyond vector of %d chars", domain.ErrInvalidFilter, index, len(vector))
	}

	var buf [groupBytes]byte
	n, err := base64.StdEncoding.Decode(buf[:], []byte(vector[start:start+groupChars]))
	if err != nil {
		return false, fmt.Errorf("%w: group %d: %v", domain.ErrDecode, group, err)
	}

	bitInGroup := index % groupBits
	byteInGroup := int(bitInGroup / 8)
	if byteInGroup >= n {
		// landed in base64 padding
		return false, fmt.Errorf("%w: bit %d falls in padding", domain.ErrInvalidFilter, index)
	}
	bitInByte := bitInGroup % 8
	return buf[byteInGroup]&(1<<(7-bitInByte)) != 0, nil
}
