package observer

import (
	"math"

	"github.com/openhubs/gomotorstate/motion/angle"
	"github.com/openhubs/gomotorstate/motion/intmath"
)

// Actuation is the closed set of drive modes the surrounding control task
// can apply to a motor. Only voltage actuation is represented in the linear
// model; every other mode is treated as "no active drive" by the stall
// logic.
type Actuation uint8

const (
	ActuationCoast Actuation = iota
	ActuationBrake
	ActuationVoltage
	ActuationTorque
)

// Observer estimates the full motor state (angle, speed, current) from the
// measured angle and the applied voltage. One instance exists per physically
// controlled motor; the referenced Model and Settings are shared, read-only
// and outlive the observer. None of the methods allocate or block.
type Observer struct {
	model    *Model
	settings *Settings

	angle   angle.Angle
	speed   int32 // mdeg/s
	current int32 // mA

	// Numeric derivative of the measured angle, for sanity checks only.
	speedNumeric   int32
	differentiator Differentiator

	stalled    bool
	stallStart uint32
}

// New returns an observer bound to the given calibration pair. The observer
// starts at angle zero; callers normally Reset it to the first measurement
// before use.
func New(model *Model, settings *Settings) *Observer {
	return &Observer{
		model:    model,
		settings: settings,
	}
}

// Reset re-homes the observer on a measured angle. Speed, current and the
// stall flag are cleared and the differentiator treats the angle as its new
// baseline. Always succeeds, from any prior state.
func (o *Observer) Reset(measured angle.Angle) {
	o.angle = measured
	o.speed = 0
	o.current = 0
	o.speedNumeric = 0
	o.stalled = false
	o.differentiator.Reset(measured)
}

// GetEstimatedState returns the numeric speed check, the model's angle
// estimate and the model's speed estimate.
func (o *Observer) GetEstimatedState() (speedNumeric int32, angleEstimate angle.Angle, speedEstimate int32) {
	return o.speedNumeric, o.angle, o.speed
}

// feedbackVoltageAbs maps an absolute estimation error in mdeg to a feedback
// voltage magnitude, saturating at MAX_VOLTAGE. Two linear regions: the low
// gain up to the threshold, the high gain for whatever error remains above
// it. The products stay in int64 until the saturation so extreme gains
// cannot wrap the magnitude.
func feedbackVoltageAbs(errorAbs int32, s *Settings) int32 {
	if errorAbs <= s.FeedbackGainThreshold {
		return intmath.Clamp64(int64(errorAbs)*int64(s.FeedbackGainLow)/1000, MAX_VOLTAGE)
	}
	low := int64(s.FeedbackGainThreshold) * int64(s.FeedbackGainLow)
	high := int64(errorAbs-s.FeedbackGainThreshold) * int64(s.FeedbackGainHigh)
	return intmath.Clamp64((low+high)/1000, MAX_VOLTAGE)
}

// GetFeedbackVoltage returns the correction voltage that pulls the model
// toward the measured angle, signed like the estimation error and clamped
// to MAX_VOLTAGE. This proportional term is the only feedback in the
// estimator.
func (o *Observer) GetFeedbackVoltage(measured angle.Angle) int32 {
	err := measured.Diff(o.angle)
	abs := feedbackVoltageAbs(intmath.Abs(err), o.settings)
	return intmath.Clamp(abs*intmath.Sign(err), MAX_VOLTAGE)
}

// updateStall evaluates the stall condition for this tick. Any actuation
// other than voltage clears the flag outright since the model does not
// represent those modes.
func (o *Observer) updateStall(time uint32, actuation Actuation, voltage, feedbackVoltage int32) {
	if actuation != ActuationVoltage {
		o.stalled = false
		return
	}

	// Normalize to forward motion so one set of checks covers both
	// directions.
	speed := o.speed
	if voltage < 0 {
		speed = -speed
		voltage = -voltage
		feedbackVoltage = -feedbackVoltage
	}

	// Stalled when the motor is essentially standing still or moving
	// backward, the feedback is pushing back against an unmodeled load
	// (model predicts more motion than measured), the push-back has grown
	// to a significant share of the drive, and the drive itself is not
	// negligible.
	stalled := speed < o.settings.StallSpeedLimit &&
		feedbackVoltage < 0 &&
		-feedbackVoltage*100 > voltage*o.settings.StallRatio &&
		voltage > o.settings.FeedbackVoltageNegligible

	if stalled && !o.stalled {
		// Rising edge, record the onset.
		o.stallStart = time
	}
	o.stalled = stalled
}

// Update advances the estimator by one control tick: refresh the numeric
// derivative, compute the feedback voltage, update the stall state, then
// integrate the linear model one step using the applied voltage blended with
// the feedback. Total and side-effect free beyond the observer itself.
func (o *Observer) Update(time uint32, measured angle.Angle, actuation Actuation, voltage int32) {
	m := o.model

	o.speedNumeric = o.differentiator.Speed(time, measured)

	feedbackVoltage := o.GetFeedbackVoltage(measured)

	o.updateStall(time, actuation, voltage, feedbackVoltage)

	// The model sees the applied voltage plus the correction toward the
	// measurement; this is what keeps the estimate from drifting over many
	// ticks while still predicting between measurements.
	modelVoltage := intmath.Clamp64(int64(voltage)+int64(feedbackVoltage), MAX_VOLTAGE)

	// Coulomb friction opposing the estimated speed, linearized through the
	// origin below the cutoff to avoid numerical chatter near standstill.
	var coulombFriction int32
	if speedAbs := intmath.Abs(o.speed); speedAbs > o.settings.FrictionSpeedCutoff {
		coulombFriction = intmath.Sign(o.speed) * m.TorqueFriction
	} else {
		coulombFriction = intmath.Sign(o.speed) * int32(
			int64(speedAbs)*int64(m.TorqueFriction)/int64(o.settings.FrictionSpeedCutoff))
	}

	// Friction plus any known external torques; there are none today.
	torque := coulombFriction

	// x(k+1) = Ax(k) + Bu(k). The model assumes voltage actuation; under
	// coast the back EMF is slightly overestimated, which is acceptable
	// since nothing needs a precise speed while coasting.
	o.angle.AddMdeg(intmath.Clamp64(0+
		term(PRESCALE_SPEED, o.speed, m.DAngleDSpeed)+
		term(PRESCALE_CURRENT, o.current, m.DAngleDCurrent)+
		term(PRESCALE_VOLTAGE, modelVoltage, m.DAngleDVoltage)+
		term(PRESCALE_TORQUE, torque, m.DAngleDTorque), math.MaxInt32))
	speedNext := intmath.Clamp64(0+
		term(PRESCALE_SPEED, o.speed, m.DSpeedDSpeed)+
		term(PRESCALE_CURRENT, o.current, m.DSpeedDCurrent)+
		term(PRESCALE_VOLTAGE, modelVoltage, m.DSpeedDVoltage)+
		term(PRESCALE_TORQUE, torque, m.DSpeedDTorque), MAX_SPEED)
	currentNext := intmath.Clamp64(0+
		term(PRESCALE_SPEED, o.speed, m.DCurrentDSpeed)+
		term(PRESCALE_CURRENT, o.current, m.DCurrentDCurrent)+
		term(PRESCALE_VOLTAGE, modelVoltage, m.DCurrentDVoltage)+
		term(PRESCALE_TORQUE, torque, m.DCurrentDTorque), MAX_CURRENT)

	// A sign change means the system passed through zero speed, where the
	// friction direction is ambiguous. Take the friction term back out so it
	// cannot ring the speed signal around standstill.
	if (o.speed < 0) != (speedNext < 0) {
		speedNext -= int32(term(PRESCALE_TORQUE, coulombFriction, m.DSpeedDTorque))
	}

	o.speed = speedNext
	o.current = currentNext
}

// IsStalled reports whether the stall condition has held for longer than the
// configured confirmation time, debouncing transient spikes. The returned
// duration is how long the motor has been stalled, zero when it is not.
func (o *Observer) IsStalled(time uint32) (bool, uint32) {
	if o.stalled && time-o.stallStart > o.settings.StallTime {
		return true, time - o.stallStart
	}
	return false, 0
}
