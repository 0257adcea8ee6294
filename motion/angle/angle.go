// Package angle provides the wraparound-safe angle value used by the
// estimator. Angles are split into whole rotations plus millidegrees so that
// long-running counts never overflow while tick-to-tick arithmetic stays in
// cheap 32-bit operations.
package angle

import "math"

const mdegPerRotation = 360000

// Angle is a measured or estimated motor angle. The millidegree component is
// kept normalized to (-360000, 360000); the invariant is restored after every
// mutation so downstream fixed-point math never sees a drifting component.
type Angle struct {
	Rotations    int32
	Millidegrees int32
}

// FromMdeg builds an Angle from a total millidegree count.
func FromMdeg(mdeg int64) Angle {
	return Angle{
		Rotations:    int32(mdeg / mdegPerRotation),
		Millidegrees: int32(mdeg % mdegPerRotation),
	}
}

// TotalMdeg returns the angle as a single millidegree count.
func (a Angle) TotalMdeg() int64 {
	return int64(a.Rotations)*mdegPerRotation + int64(a.Millidegrees)
}

// Diff returns a - b in millidegrees, saturated to the int32 range. The
// difference is exact whenever the two angles are within about 5965
// rotations of each other, which covers any single control session.
func (a Angle) Diff(b Angle) int32 {
	diff := int64(a.Rotations-b.Rotations)*mdegPerRotation + int64(a.Millidegrees-b.Millidegrees)
	if diff > math.MaxInt32 {
		return math.MaxInt32
	}
	if diff < math.MinInt32 {
		return math.MinInt32
	}
	return int32(diff)
}

// AddMdeg advances the angle by the given millidegrees and renormalizes.
func (a *Angle) AddMdeg(mdeg int32) {
	total := int64(a.Millidegrees) + int64(mdeg)
	a.Rotations += int32(total / mdegPerRotation)
	a.Millidegrees = int32(total % mdegPerRotation)
}
