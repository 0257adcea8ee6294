package motion

import (
	"github.com/openhubs/gomotorstate/motion/observer"
)

// HubConfig describes one hub: which motors exist and which calibration they
// use. Models and profiles are defined once and referenced by name so that
// several motors of the same type share one read-only calibration table.
type HubConfig struct {
	Version int
	Motors  map[string]struct {
		Model   string
		Profile string
	}
	Models   map[string]ModelConfig
	Profiles map[string]ProfileConfig
}

// ModelConfig is the yaml form of an observer model, as emitted by the
// offline calibration tool.
type ModelConfig struct {
	DAngleDSpeed     int32 `yaml:"d_angle_d_speed"`
	DAngleDCurrent   int32 `yaml:"d_angle_d_current"`
	DAngleDVoltage   int32 `yaml:"d_angle_d_voltage"`
	DAngleDTorque    int32 `yaml:"d_angle_d_torque"`
	DSpeedDSpeed     int32 `yaml:"d_speed_d_speed"`
	DSpeedDCurrent   int32 `yaml:"d_speed_d_current"`
	DSpeedDVoltage   int32 `yaml:"d_speed_d_voltage"`
	DSpeedDTorque    int32 `yaml:"d_speed_d_torque"`
	DCurrentDSpeed   int32 `yaml:"d_current_d_speed"`
	DCurrentDCurrent int32 `yaml:"d_current_d_current"`
	DCurrentDVoltage int32 `yaml:"d_current_d_voltage"`
	DCurrentDTorque  int32 `yaml:"d_current_d_torque"`

	DTorqueDSpeed        int32 `yaml:"d_torque_d_speed"`
	DTorqueDAcceleration int32 `yaml:"d_torque_d_acceleration"`
	DTorqueDVoltage      int32 `yaml:"d_torque_d_voltage"`
	DVoltageDTorque      int32 `yaml:"d_voltage_d_torque"`

	TorqueFriction int32 `yaml:"torque_friction"`
}

// Build validates the calibration and returns the shared read-only model.
func (mc ModelConfig) Build() (*observer.Model, error) {
	m := &observer.Model{
		DAngleDSpeed:     mc.DAngleDSpeed,
		DAngleDCurrent:   mc.DAngleDCurrent,
		DAngleDVoltage:   mc.DAngleDVoltage,
		DAngleDTorque:    mc.DAngleDTorque,
		DSpeedDSpeed:     mc.DSpeedDSpeed,
		DSpeedDCurrent:   mc.DSpeedDCurrent,
		DSpeedDVoltage:   mc.DSpeedDVoltage,
		DSpeedDTorque:    mc.DSpeedDTorque,
		DCurrentDSpeed:   mc.DCurrentDSpeed,
		DCurrentDCurrent: mc.DCurrentDCurrent,
		DCurrentDVoltage: mc.DCurrentDVoltage,
		DCurrentDTorque:  mc.DCurrentDTorque,

		DTorqueDSpeed:        mc.DTorqueDSpeed,
		DTorqueDAcceleration: mc.DTorqueDAcceleration,
		DTorqueDVoltage:      mc.DTorqueDVoltage,
		DVoltageDTorque:      mc.DVoltageDTorque,

		TorqueFriction: mc.TorqueFriction,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ProfileConfig is the yaml form of the observer tuning settings.
type ProfileConfig struct {
	StallSpeedLimit           int32  `yaml:"stall_speed_limit"`
	StallRatio                int32  `yaml:"stall_ratio"`
	FeedbackVoltageNegligible int32  `yaml:"feedback_voltage_negligible"`
	StallTime                 uint32 `yaml:"stall_time"`

	FeedbackGainLow       int32 `yaml:"feedback_gain_low"`
	FeedbackGainHigh      int32 `yaml:"feedback_gain_high"`
	FeedbackGainThreshold int32 `yaml:"feedback_gain_threshold"`

	FrictionSpeedCutoff int32 `yaml:"friction_speed_cutoff"`
}

// Build validates the tuning and returns the shared read-only settings.
func (pc ProfileConfig) Build() (*observer.Settings, error) {
	s := &observer.Settings{
		StallSpeedLimit:           pc.StallSpeedLimit,
		StallRatio:                pc.StallRatio,
		FeedbackVoltageNegligible: pc.FeedbackVoltageNegligible,
		StallTime:                 pc.StallTime,
		FeedbackGainLow:           pc.FeedbackGainLow,
		FeedbackGainHigh:          pc.FeedbackGainHigh,
		FeedbackGainThreshold:     pc.FeedbackGainThreshold,
		FrictionSpeedCutoff:       pc.FrictionSpeedCutoff,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
