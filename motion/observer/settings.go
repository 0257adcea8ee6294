package observer

import "fmt"

// Settings is the per-use-case tuning of an observer: how aggressively the
// estimate is pulled toward the measurement and when a divergence counts as
// a stall. Like Model it is read-only after construction and may be shared.
type Settings struct {
	// Stall detection. A stall is flagged while the estimated speed is below
	// StallSpeedLimit, the feedback voltage opposes the drive and exceeds
	// StallRatio percent of the applied voltage, and the applied voltage
	// itself is above FeedbackVoltageNegligible. The flag must persist for
	// StallTime milliseconds before IsStalled reports it.
	StallSpeedLimit           int32  // mdeg/s
	StallRatio                int32  // percent of applied voltage
	FeedbackVoltageNegligible int32  // mV
	StallTime                 uint32 // ms

	// Feedback voltage gains, in mV per deg of estimation error. The low
	// gain applies up to FeedbackGainThreshold mdeg of error, the high gain
	// to anything beyond it.
	FeedbackGainLow       int32
	FeedbackGainHigh      int32
	FeedbackGainThreshold int32 // mdeg

	// Below this speed the coulomb friction torque scales linearly through
	// zero instead of switching sign. Must be positive.
	FrictionSpeedCutoff int32 // mdeg/s
}

// Validate checks the tuning invariants at load time.
func (s *Settings) Validate() error {
	if s.FrictionSpeedCutoff <= 0 {
		return fmt.Errorf("friction speed cutoff must be positive, got %d", s.FrictionSpeedCutoff)
	}
	if s.FeedbackGainThreshold < 0 {
		return fmt.Errorf("feedback gain threshold must not be negative, got %d", s.FeedbackGainThreshold)
	}
	if s.FeedbackGainLow < 0 || s.FeedbackGainHigh < 0 {
		return fmt.Errorf("feedback gains must not be negative, got %d/%d", s.FeedbackGainLow, s.FeedbackGainHigh)
	}
	if s.StallRatio < 0 {
		return fmt.Errorf("stall ratio must not be negative, got %d", s.StallRatio)
	}
	return nil
}
