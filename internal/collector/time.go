package collector

import "time"

// msToTime converts a Unix milliseconds timestamp (as gopsutil's process
// CreateTime reports it) to a time.Time. Zero or negative input maps to the
// zero time rather than a bogus pre-epoch date.
func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
