// Package intmath provides the saturating integer primitives used on the
// real-time estimation path. All functions are total and branch-only.
package intmath

// Clamp limits value to the symmetric range [-absMax, absMax].
func Clamp(value, absMax int32) int32 {
	if value > absMax {
		return absMax
	}
	if value < -absMax {
		return -absMax
	}
	return value
}

// Clamp64 limits a wide intermediate to [-absMax, absMax] and narrows it.
func Clamp64(value int64, absMax int32) int32 {
	if value > int64(absMax) {
		return absMax
	}
	if value < -int64(absMax) {
		return -absMax
	}
	return int32(value)
}

func Sign(value int32) int32 {
	switch {
	case value > 0:
		return 1
	case value < 0:
		return -1
	}
	return 0
}

func Abs(value int32) int32 {
	if value < 0 {
		return -value
	}
	return value
}
