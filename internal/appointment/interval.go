package appointment

import "time"

// Overlaps applies the open-overlap test to [aStart, aEnd) and [bStart, bEnd).
// Intervals that only touch at an endpoint do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
