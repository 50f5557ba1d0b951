//go:build !linux

package hal

// MonotonicClock reads the runtime's monotonic clock.
type MonotonicClock struct{}

// Milliseconds returns the monotonic time in milliseconds.
func (MonotonicClock) Milliseconds() uint64 {
	return fallbackMilliseconds()
}
