package quota

import "fmt"

// weeklyWindow is the gating policy shared by signed-in identities and
// anonymous devices: a counter anchored to the Monday of the week it belongs
// to, capped at limit.
type weeklyWindow struct {
	limit int
}

// admit returns the weekly count after this request and whether the request
// is permitted. anchor is the week start the stored count belongs to; a
// count from another week is treated as zero, so the first request of a new
// week is always permitted.
func (w weeklyWindow) admit(count int, anchor, weekStart string) (int, bool) {
	if anchor != weekStart {
		return 1, true
	}
	if count < w.limit {
		return count + 1, true
	}
	return count, false
}

// current returns the count that applies to weekStart.
func (w weeklyWindow) current(count int, anchor, weekStart string) int {
	if anchor != weekStart {
		return 0
	}
	return count
}

// remaining returns how many more requests the window permits.
func (w weeklyWindow) remaining(used int) int {
	if used >= w.limit {
		return 0
	}
	return w.limit - used
}

// AnonymousKey is the device-store key holding a device's count for the week
// starting weekStart.
func AnonymousKey(deviceID, weekStart string) string {
	return fmt.Sprintf("usage:%s:%s", deviceID, weekStart)
}
