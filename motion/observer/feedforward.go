package observer

import "github.com/openhubs/gomotorstate/motion/intmath"

// MaxTorque returns the system-wide torque ceiling in uNm, exposed so
// callers can validate user input against the same limit the conversions
// clamp to.
func MaxTorque() int32 {
	return MAX_TORQUE
}

// FeedforwardTorque calculates the torque needed to track the requested
// reference speed and acceleration: half the static friction signed by the
// desired direction (so the actuator does not have to wind up from nothing
// at motion start), a back EMF compensation proportional to the clamped
// reference speed, and an acceleration term. The half friction factor is an
// empirically tuned constant from the motor calibration; keep it as is.
func FeedforwardTorque(m *Model, speedRef, accelerationRef int32) int32 {
	frictionCompensation := int64(m.TorqueFriction / 2 * intmath.Sign(speedRef))
	backEmfCompensation := term(PRESCALE_SPEED, intmath.Clamp(speedRef, MAX_SPEED), m.DTorqueDSpeed)
	acceleration := term(PRESCALE_ACCELERATION, intmath.Clamp(accelerationRef, MAX_ACCELERATION), m.DTorqueDAcceleration)

	return intmath.Clamp64(frictionCompensation+backEmfCompensation+acceleration, MAX_TORQUE)
}

// TorqueToVoltage converts a desired torque in uNm to a drive voltage in mV
// through the model. Inverse of VoltageToTorque only up to fixed-point
// rounding.
func TorqueToVoltage(m *Model, desiredTorque int32) int32 {
	return int32(term(PRESCALE_TORQUE, intmath.Clamp(desiredTorque, MAX_TORQUE), m.DVoltageDTorque))
}

// VoltageToTorque converts a drive voltage in mV to the torque in uNm it
// produces according to the model.
func VoltageToTorque(m *Model, voltage int32) int32 {
	return int32(term(PRESCALE_VOLTAGE, intmath.Clamp(voltage, MAX_VOLTAGE), m.DTorqueDVoltage))
}
