package observer

import (
	"github.com/openhubs/gomotorstate/motion/angle"
	"github.com/openhubs/gomotorstate/motion/intmath"
)

// Samples kept by the differentiator. The derivative is taken across the
// whole window to smooth out encoder quantization at slow speeds.
const differentiatorWindow = 4

// Differentiator turns the raw angle sample stream into a numeric speed
// estimate. It is purely diagnostic: the predictive model never consumes it,
// so a noisy measurement here cannot destabilize the estimator. It is owned
// by exactly one observer and reset together with it.
type Differentiator struct {
	times  [differentiatorWindow]uint32
	angles [differentiatorWindow]angle.Angle
	count  int
	next   int
	speed  int32

	baseline     angle.Angle
	haveBaseline bool
}

// Reset discards the sample window and makes the given angle the new
// baseline. The first sample fed in afterwards is differentiated against it,
// not against stale history, so the first derivative after a reset is zero.
func (d *Differentiator) Reset(measured angle.Angle) {
	d.count = 0
	d.next = 0
	d.speed = 0
	d.baseline = measured
	d.haveBaseline = true
}

// Speed records a new (time, angle) sample and returns the numeric speed in
// mdeg/s, computed against the oldest sample still in the window. A repeated
// timestamp leaves the previous estimate in place; there is no division in
// that case.
func (d *Differentiator) Speed(time uint32, a angle.Angle) int32 {
	if d.count == 0 && d.haveBaseline {
		// Enter the reset angle as if it had just been sampled; the window
		// starts from it rather than from the first measurement.
		d.times[0] = time
		d.angles[0] = d.baseline
		d.next = 1
		d.count = 1
		d.haveBaseline = false
	}

	if d.count > 0 {
		oldest := d.next
		if d.count < differentiatorWindow {
			oldest = 0
		}
		dt := time - d.times[oldest]
		if dt > 0 {
			diff := int64(a.Diff(d.angles[oldest]))
			d.speed = intmath.Clamp64(diff*1000/int64(dt), MAX_SPEED)
		}
	}

	d.times[d.next] = time
	d.angles[d.next] = a
	d.next = (d.next + 1) % differentiatorWindow
	if d.count < differentiatorWindow {
		d.count++
	}
	return d.speed
}
