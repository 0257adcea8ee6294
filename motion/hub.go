// Package motion wires observers into a hub: one estimator per physically
// controlled motor, built from a shared calibration config, advanced by the
// owning control task once per tick.
package motion

import (
	"fmt"

	"github.com/openhubs/gomotorstate/motion/angle"
	"github.com/openhubs/gomotorstate/motion/observer"
)

// Hub is the estimation surface the surrounding control task and the
// diagnostics API work against.
type Hub interface {
	Reset(motor string, mdeg int64) error
	SetVoltage(motor string, millivolts int32) error
	Coast(motor string) error
	Tick(motor string, time uint32, measured angle.Angle) error
	State() HubState
}

// Motor pairs an observer with the actuation last commanded for it, which
// the observer needs to interpret the next measurement.
type Motor struct {
	Observer *observer.Observer

	actuation observer.Actuation
	voltage   int32
	lastTime  uint32
}

// MotorState is the queryable estimate of a single motor.
type MotorState struct {
	Angle         int64  `json:"angle"`
	Speed         int32  `json:"speed"`
	SpeedNumeric  int32  `json:"speed_numeric"`
	Voltage       int32  `json:"voltage"`
	Stalled       bool   `json:"stalled"`
	StallDuration uint32 `json:"stall_duration"`
}

type HubState map[string]MotorState

// ObserverHub owns the per-motor observers. Motors referencing the same
// model or profile share one immutable calibration table.
type ObserverHub struct {
	Motors map[string]*Motor
}

// NewObserverHub builds a hub from a parsed config.
func NewObserverHub(config HubConfig) (h *ObserverHub, err error) {
	switch config.Version {
	case 1:
		h = &ObserverHub{Motors: make(map[string]*Motor, len(config.Motors))}

		models := make(map[string]*observer.Model, len(config.Models))
		profiles := make(map[string]*observer.Settings, len(config.Profiles))

		for name, mConf := range config.Motors {
			model, ok := models[mConf.Model]
			if !ok {
				mc, present := config.Models[mConf.Model]
				if !present {
					return nil, fmt.Errorf("motor '%s' references unknown model '%s'", name, mConf.Model)
				}
				if model, err = mc.Build(); err != nil {
					return nil, fmt.Errorf("model '%s': %v", mConf.Model, err)
				}
				models[mConf.Model] = model
			}

			settings, ok := profiles[mConf.Profile]
			if !ok {
				pc, present := config.Profiles[mConf.Profile]
				if !present {
					return nil, fmt.Errorf("motor '%s' references unknown profile '%s'", name, mConf.Profile)
				}
				if settings, err = pc.Build(); err != nil {
					return nil, fmt.Errorf("profile '%s': %v", mConf.Profile, err)
				}
				profiles[mConf.Profile] = settings
			}

			h.Motors[name] = &Motor{
				Observer:  observer.New(model, settings),
				actuation: observer.ActuationCoast,
			}
		}

	default:
		err = fmt.Errorf("unable to work with version %d", config.Version)
	}

	return
}

// AddMotor installs or replaces a motor with explicit calibration tables,
// bypassing the config's model/profile resolution. Startup uses this to let
// stored calibration records override the shipped yaml.
func (h *ObserverHub) AddMotor(name string, model *observer.Model, settings *observer.Settings) {
	h.Motors[name] = &Motor{
		Observer:  observer.New(model, settings),
		actuation: observer.ActuationCoast,
	}
}

func (h *ObserverHub) motor(name string) (*Motor, error) {
	m, ok := h.Motors[name]
	if !ok {
		return nil, fmt.Errorf("unable to find motor '%s'", name)
	}
	return m, nil
}

// Reset re-homes a motor's observer on a measured angle, clearing its speed,
// current and stall state.
func (h *ObserverHub) Reset(motor string, mdeg int64) error {
	m, err := h.motor(motor)
	if err != nil {
		return err
	}
	m.Observer.Reset(angle.FromMdeg(mdeg))
	return nil
}

// SetVoltage records a voltage command for the motor. The observer folds it
// into its prediction on the following ticks.
func (h *ObserverHub) SetVoltage(motor string, millivolts int32) error {
	m, err := h.motor(motor)
	if err != nil {
		return err
	}
	m.actuation = observer.ActuationVoltage
	m.voltage = millivolts
	return nil
}

// Coast marks the motor as undriven; stall detection is suppressed until a
// voltage is commanded again.
func (h *ObserverHub) Coast(motor string) error {
	m, err := h.motor(motor)
	if err != nil {
		return err
	}
	m.actuation = observer.ActuationCoast
	m.voltage = 0
	return nil
}

// Tick advances one motor's estimate with a new measurement. Called exactly
// once per control period by the owning task.
func (h *ObserverHub) Tick(motor string, time uint32, measured angle.Angle) error {
	m, err := h.motor(motor)
	if err != nil {
		return err
	}
	m.Observer.Update(time, measured, m.actuation, m.voltage)
	m.lastTime = time
	return nil
}

// State snapshots every motor's estimate, evaluated at its last tick time.
func (h *ObserverHub) State() HubState {
	state := make(HubState, len(h.Motors))
	for name, m := range h.Motors {
		speedNumeric, angleEst, speedEst := m.Observer.GetEstimatedState()
		stalled, duration := m.Observer.IsStalled(m.lastTime)
		state[name] = MotorState{
			Angle:         angleEst.TotalMdeg(),
			Speed:         speedEst,
			SpeedNumeric:  speedNumeric,
			Voltage:       m.voltage,
			Stalled:       stalled,
			StallDuration: duration,
		}
	}
	return state
}
