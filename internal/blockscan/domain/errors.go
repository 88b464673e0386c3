package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkFailure wraps transport-level failures talking to the blocklist API or CDN.
	ErrNetworkFailure = errors.New("network failure")
	// ErrRemote is matched by every *RemoteError.
	ErrRemote = errors.New("remote error")
	// ErrDecode wraps malformed JSON or base64 payloads.
	ErrDecode = errors.New("decode error")
	// ErrStaleOrMissingCache means no usable snapshot was available when one was needed.
	ErrStaleOrMissingCache = errors.New("no usable blocklist snapshot")
	// ErrInvalidURL is returned for URLs without a usable hostname.
	ErrInvalidURL = errors.New("invalid url")
	// ErrInvalidHostname is returned for hostnames that cannot be allow-listed.
	ErrInvalidHostname = errors.New("invalid hostname")
	// ErrInvalidFilter is returned for filter descriptors that cannot be queried.
	ErrInvalidFilter = errors.New("invalid bloom filter")
)

// RemoteError is a non-2xx response from the blocklist API or CDN.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote error: status %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrRemote) match any RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// ErrorKind classifies err into the taxonomy used for reporting and metrics.
// Unknown errors are reported as "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNetworkFailure):
		return "network"
	case errors.Is(err, ErrRemote):
		return "remote"
	case errors.Is(err, ErrDecode), errors.Is(err, ErrInvalidFilter):
		return "decode"
	case errors.Is(err, ErrStaleOrMissingCache):
		return "missing_cache"
	case errors.Is(err, ErrInvalidURL), errors.Is(err, ErrInvalidHostname):
		return "invalid_input"
	default:
		return "internal"
	}
}
