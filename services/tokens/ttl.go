package tokens

import (
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is applied when a requested TTL is missing or unparseable.
const DefaultTTL = time.Hour

// ParseTTL converts an integer-hours string ("1h", "24h") into a duration.
// Anything else, including zero or negative hours, yields DefaultTTL.
func ParseTTL(s string) time.Duration {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "h") {
		return DefaultTTL
	}
	hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
	if err != nil || hours <= 0 {
		return DefaultTTL
	}
	return time.Duration(hours) * time.Hour
}
