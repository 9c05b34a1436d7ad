package utils

import "time"

// Now returns current time (useful for mocking in tests)
var Now = time.Now

// Since returns time since given time, measured against Now.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// IsExpired checks if a timestamp is older than ttl.
func IsExpired(timestamp time.Time, ttl time.Duration) bool {
	return Since(timestamp) > ttl
}

// FormatTimestamp formats timestamp in ISO 8601 format
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
