package client

import (
	"crypto/subtle"
	"fmt"
	"time"
)

// DevItemID is the marketplace item identifier reported by the development
// bypass paths.
const DevItemID = "DEV-0000"

// DevSentinelKey returns the development bypass key for the given day.
// The key rotates daily: the current date is folded into the standard
// 8-4-4-4-12 key shape, so yesterday's key stops working at midnight.
// This is a development convenience, not a security boundary, and the
// bypass sites only honor it when the development flag is set.
func DevSentinelKey(now time.Time) string {
	d := now.Format("02")
	m := now.Format("01")
	y := now.Format("2006")
	return fmt.Sprintf("%s%s%s-%s%s-%s-%s%s-%s%s%s%s", d, m, y, d, m, y, d, m, y, d, m, y)
}

// IsDevSentinel reports whether key equals today's development bypass key.
func IsDevSentinel(key string, now time.Time) bool {
	expected := DevSentinelKey(now)
	return subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1
}
