package engine

import "golang.org/x/time/rate"

// newBWLimiter creates a rate.Limiter that caps aggregate copy throughput
// to bytesPerSec. The burst matches the transfer buffer size so natural
// read-size chunks pass without unnecessary blocking.
func newBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20 // 1 MiB
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}
