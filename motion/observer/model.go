// Package observer implements a fixed-point discrete-time state estimator
// for a voltage-driven DC motor. Only the angle is measured; speed and
// current are predicted from a calibrated linear plant model and the
// prediction is pulled toward the measurement by a voltage-shaped feedback
// term. Persistent divergence between model and measurement is reported as a
// mechanical stall.
//
// Every operation is total, allocation free and deterministic: timestamps
// are supplied by the caller and all arithmetic saturates at documented
// limits instead of failing.
package observer

import "fmt"

// Limits and prescale factors shared with the offline calibration tooling.
// The prescale values are chosen as 2^31 divided by the matching limit, so a
// prescaled term saturates exactly when its state variable does.
const (
	MAX_SPEED        = 2500000  // mdeg/s
	MAX_ACCELERATION = 25000000 // mdeg/s^2
	MAX_CURRENT      = 30000    // mA
	MAX_VOLTAGE      = 12000    // mV
	MAX_TORQUE       = 1000000  // uNm

	PRESCALE_SPEED        = 858
	PRESCALE_ACCELERATION = 85
	PRESCALE_CURRENT      = 71582
	PRESCALE_VOLTAGE      = 178956
	PRESCALE_TORQUE       = 2147
)

// Model holds the calibrated partial derivatives of one motor type as
// fixed-point divisors: each discrete-time coefficient c is stored as
// prescale/c, so the per-tick update is an integer multiply-then-divide.
// Models are produced offline, shared read-only between any number of
// observers, and never mutated at runtime. All divisors must be nonzero;
// this is checked when a model is loaded, not on the tick path.
type Model struct {
	DAngleDSpeed     int32
	DAngleDCurrent   int32
	DAngleDVoltage   int32
	DAngleDTorque    int32
	DSpeedDSpeed     int32
	DSpeedDCurrent   int32
	DSpeedDVoltage   int32
	DSpeedDTorque    int32
	DCurrentDSpeed   int32
	DCurrentDCurrent int32
	DCurrentDVoltage int32
	DCurrentDTorque  int32

	// Feedforward and conversion derivatives.
	DTorqueDSpeed        int32
	DTorqueDAcceleration int32
	DTorqueDVoltage      int32
	DVoltageDTorque      int32

	// Static friction torque in uNm.
	TorqueFriction int32
}

// Validate checks the invariants the tick path relies on, so they never
// have to be re-checked per tick: every derivative divisor must be nonzero.
func (m *Model) Validate() error {
	divisors := []struct {
		name  string
		value int32
	}{
		{"d_angle_d_speed", m.DAngleDSpeed},
		{"d_angle_d_current", m.DAngleDCurrent},
		{"d_angle_d_voltage", m.DAngleDVoltage},
		{"d_angle_d_torque", m.DAngleDTorque},
		{"d_speed_d_speed", m.DSpeedDSpeed},
		{"d_speed_d_current", m.DSpeedDCurrent},
		{"d_speed_d_voltage", m.DSpeedDVoltage},
		{"d_speed_d_torque", m.DSpeedDTorque},
		{"d_current_d_speed", m.DCurrentDSpeed},
		{"d_current_d_current", m.DCurrentDCurrent},
		{"d_current_d_voltage", m.DCurrentDVoltage},
		{"d_current_d_torque", m.DCurrentDTorque},
		{"d_torque_d_speed", m.DTorqueDSpeed},
		{"d_torque_d_acceleration", m.DTorqueDAcceleration},
		{"d_torque_d_voltage", m.DTorqueDVoltage},
		{"d_voltage_d_torque", m.DVoltageDTorque},
	}
	for _, d := range divisors {
		if d.value == 0 {
			return fmt.Errorf("model divisor %s is zero", d.name)
		}
	}
	return nil
}

// term evaluates one prescaled model term in a wide accumulator, keeping the
// multiply-then-divide order that the calibration assumes.
func term(prescale, value, divisor int32) int64 {
	return int64(prescale) * int64(value) / int64(divisor)
}
