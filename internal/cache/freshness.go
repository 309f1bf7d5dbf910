package cache

import "time"

// FreshnessPolicy decides whether a cached write is recent enough to serve
// without a refetch. One policy exists per record kind.
type FreshnessPolicy struct {
	Window time.Duration
	Now    func() time.Time
}

// Fresh reports whether lastWrite lies within the window. A zero lastWrite
// (nothing cached) or a non-positive window is never fresh.
func (p FreshnessPolicy) Fresh(lastWrite time.Time) bool {
	if lastWrite.IsZero() || p.Window <= 0 {
		return false
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().Sub(lastWrite) < p.Window
}
