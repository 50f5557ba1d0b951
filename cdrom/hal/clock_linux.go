//go:build linux

package hal

import (
	"golang.org/x/sys/unix"
)

// MonotonicClock reads CLOCK_MONOTONIC.
type MonotonicClock struct{}

// Milliseconds returns the monotonic time in milliseconds.
func (MonotonicClock) Milliseconds() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackMilliseconds()
	}
	return uint64(ts.Sec)*1000 + uint64(ts.Nsec)/1e6
}
