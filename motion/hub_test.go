package motion

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/openhubs/gomotorstate/motion/angle"
)

func TestNewObserverHub(t *testing.T) {
	Convey("a hub is built from a parsed config", t, func() {
		hub, err := NewObserverHub(testHubConfig())
		So(err, ShouldBeNil)
		So(hub.Motors, ShouldHaveLength, 2)
		So(hub.Motors["drive_left"], ShouldNotBeNil)

		Convey("motors of one type share the calibration", func() {
			// Both observers were built against the same table; resetting
			// one does not disturb the other.
			So(hub.Reset("drive_left", 90000), ShouldBeNil)
			state := hub.State()
			So(state["drive_left"].Angle, ShouldEqual, 90000)
			So(state["drive_right"].Angle, ShouldEqual, 0)
		})
	})

	Convey("an unsupported version is rejected", t, func() {
		config := testHubConfig()
		config.Version = 9
		_, err := NewObserverHub(config)
		So(err, ShouldNotBeNil)
	})

	Convey("stored calibration tables replace a motor's config build", t, func() {
		config := testHubConfig()
		hub, err := NewObserverHub(config)
		So(err, ShouldBeNil)

		// A hotter model, as an offline recalibration would produce: half
		// the voltage divisor doubles the voltage term.
		model, err := config.Models["gearmotor_m"].Build()
		So(err, ShouldBeNil)
		hot := *model
		hot.DSpeedDVoltage = model.DSpeedDVoltage / 2

		settings, err := config.Profiles["precise"].Build()
		So(err, ShouldBeNil)

		hub.AddMotor("drive_left", &hot, settings)

		So(hub.SetVoltage("drive_left", 3000), ShouldBeNil)
		So(hub.SetVoltage("drive_right", 3000), ShouldBeNil)
		So(hub.Tick("drive_left", 5, angle.FromMdeg(0)), ShouldBeNil)
		So(hub.Tick("drive_right", 5, angle.FromMdeg(0)), ShouldBeNil)

		state := hub.State()
		So(state["drive_right"].Speed, ShouldBeGreaterThan, 0)
		So(state["drive_left"].Speed, ShouldEqual, 2*state["drive_right"].Speed)
	})

	Convey("dangling calibration references are rejected", t, func() {
		config := testHubConfig()
		motor := config.Motors["drive_left"]
		motor.Model = "missing"
		config.Motors["drive_left"] = motor

		_, err := NewObserverHub(config)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "missing")
	})
}

func TestHubOperations(t *testing.T) {
	hub, _ := NewObserverHub(testHubConfig())

	Convey("unknown motors report a lookup error", t, func() {
		So(hub.Reset("nope", 0), ShouldNotBeNil)
		So(hub.SetVoltage("nope", 0), ShouldNotBeNil)
		So(hub.Coast("nope"), ShouldNotBeNil)
		So(hub.Tick("nope", 0, angle.FromMdeg(0)), ShouldNotBeNil)
	})

	Convey("commanded voltage feeds the next ticks", t, func() {
		So(hub.Reset("drive_left", 0), ShouldBeNil)
		So(hub.SetVoltage("drive_left", 3000), ShouldBeNil)

		time := uint32(0)
		measured := angle.FromMdeg(0)
		for i := 0; i < 10; i++ {
			time += 5
			_, measured, _ = hub.Motors["drive_left"].Observer.GetEstimatedState()
			So(hub.Tick("drive_left", time, measured), ShouldBeNil)
		}

		state := hub.State()["drive_left"]
		So(state.Voltage, ShouldEqual, 3000)
		So(state.Speed, ShouldBeGreaterThan, 0)
		So(state.Stalled, ShouldBeFalse)

		Convey("coasting zeroes the drive without touching the estimate", func() {
			So(hub.Coast("drive_left"), ShouldBeNil)
			before := hub.State()["drive_left"]
			So(before.Voltage, ShouldEqual, 0)
			So(before.Speed, ShouldEqual, state.Speed)
		})
	})

	Convey("the untouched motor stays at rest", t, func() {
		state := hub.State()["drive_right"]
		So(state.Speed, ShouldEqual, 0)
		So(state.Voltage, ShouldEqual, 0)
		So(state.Stalled, ShouldBeFalse)
	})
}
