// Package etag encodes stream versions as opaque concurrency tokens.
// Callers obtain a token from a read and present it on mutating calls;
// server-side comparison is numeric version equality, never a comparison of
// the surface encoding.
package etag

import (
	"fmt"
	"strconv"
	"strings"
)

const prefix = "v"

// ErrMalformed reports a token that cannot be decoded to a version.
type ErrMalformed struct {
	Token string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed concurrency token %q", e.Token)
}

// Encode derives the caller-visible token for a stream version.
func Encode(version int64) string {
	return fmt.Sprintf("%q", prefix+strconv.FormatInt(version, 10))
}

// Decode recovers the numeric version from a token.
func Decode(token string) (int64, error) {
	unquoted := strings.Trim(token, `"`)
	if !strings.HasPrefix(unquoted, prefix) {
		return 0, &ErrMalformed{Token: token}
	}
	version, err := strconv.ParseInt(strings.TrimPrefix(unquoted, prefix), 10, 64)
	if err != nil || version < 1 {
		return 0, &ErrMalformed{Token: token}
	}
	return version, nil
}
