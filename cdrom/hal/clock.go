package hal

import "time"

// epoch anchors the fallback clock; time.Since uses the monotonic reading.
var epoch = time.Now()

func fallbackMilliseconds() uint64 {
	return uint64(time.Since(epoch) / time.Millisecond)
}

// Elapsed returns the milliseconds elapsed on c since begin.
func Elapsed(c Clock, begin uint64) time.Duration {
	return time.Duration(c.Milliseconds()-begin) * time.Millisecond
}
