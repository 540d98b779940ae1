package authcore

import "time"

var lifetimeUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// parseLifetime parses duration strings of the form "<integer><unit>" with
// units s, m, h, d, w ("30d", "24h", "15m").
//
// Invalid input returns fallback instead of an error. This is a deliberate
// availability-over-precision trade-off for revocation TTLs: refusing to
// write a marker because its TTL string is malformed would leave revoked
// tokens accepted, while an overly long TTL merely keeps a small key alive
// in the cache.
func parseLifetime(s string, fallback time.Duration) time.Duration {
	if len(s) < 2 {
		return fallback
	}

	unit, ok := lifetimeUnits[s[len(s)-1]]
	if !ok {
		return fallback
	}

	value := int64(0)
	for i := 0; i < len(s)-1; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return fallback
		}
		value = value*10 + int64(c-'0')
		if value > 1<<31 {
			return fallback
		}
	}
	if value == 0 {
		return fallback
	}

	return time.Duration(value) * unit
}
