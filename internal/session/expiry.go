package session

import (
	"strconv"
	"strings"
	"time"
)

// TokenRenewalLeeway is subtracted from a credential's lifetime so renewal
// happens before the backend would reject it.
const TokenRenewalLeeway = 600 * time.Second

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// IsValid reports whether a credential with the given expiry (epoch seconds)
// is usable at now. A nil expiry is never valid.
func IsValid(expiry *int64, now time.Time) bool {
	if expiry == nil {
		return false
	}
	return *expiry >= now.Add(TokenRenewalLeeway).Unix()
}

// ParseExpiry parses a stored expiry. Integers and decimal numbers are
// accepted; anything else reports ok=false, which callers treat as absent.
func ParseExpiry(s string) (expiry int64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// FormatExpiry formats epoch seconds for storage.
func FormatExpiry(expiry int64) string {
	return strconv.FormatInt(expiry, 10)
}
