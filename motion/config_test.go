package motion

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v2"
)

const testHubYaml = `
version: 1
motors:
  drive_left:
    model: gearmotor_m
    profile: precise
  drive_right:
    model: gearmotor_m
    profile: precise
models:
  gearmotor_m:
    d_angle_d_speed: 171600
    d_angle_d_current: 715820
    d_angle_d_voltage: 1789560000
    d_angle_d_torque: -11927778
    d_speed_d_speed: 875
    d_speed_d_current: 1754
    d_speed_d_voltage: 4473900
    d_speed_d_torque: -30000
    d_current_d_speed: -429000
    d_current_d_current: 7158200
    d_current_d_voltage: 903818
    d_current_d_torque: 214700000
    d_torque_d_speed: 757
    d_torque_d_acceleration: 1218
    d_torque_d_voltage: 1570
    d_voltage_d_torque: 244800
    torque_friction: 15000
profiles:
  precise:
    stall_speed_limit: 20000
    stall_ratio: 50
    feedback_voltage_negligible: 500
    stall_time: 200
    feedback_gain_low: 50
    feedback_gain_high: 150
    feedback_gain_threshold: 25000
    friction_speed_cutoff: 1500
`

func testHubConfig() (config HubConfig) {
	if err := yaml.Unmarshal([]byte(testHubYaml), &config); err != nil {
		panic(err)
	}
	return
}

func TestHubConfigParsing(t *testing.T) {
	var config HubConfig

	Convey("parsing is successful", t, func() {
		err := yaml.Unmarshal([]byte(testHubYaml), &config)
		So(err, ShouldBeNil)
		So(config.Version, ShouldEqual, 1)

		Convey("motors reference their calibration by name", func() {
			motor := config.Motors["drive_left"]
			So(motor.Model, ShouldEqual, "gearmotor_m")
			So(motor.Profile, ShouldEqual, "precise")
		})

		Convey("model coefficients are read", func() {
			model := config.Models["gearmotor_m"]
			So(model.DAngleDSpeed, ShouldEqual, 171600)
			So(model.DSpeedDTorque, ShouldEqual, -30000)
			So(model.TorqueFriction, ShouldEqual, 15000)
		})

		Convey("profile tuning is read", func() {
			profile := config.Profiles["precise"]
			So(profile.StallTime, ShouldEqual, 200)
			So(profile.FeedbackGainThreshold, ShouldEqual, 25000)
		})
	})
}

func TestCalibrationValidation(t *testing.T) {
	Convey("a zero divisor is rejected at build time", t, func() {
		mc := testHubConfig().Models["gearmotor_m"]
		mc.DSpeedDVoltage = 0

		_, err := mc.Build()
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "d_speed_d_voltage")
	})

	Convey("a valid model builds the shared table", t, func() {
		model, err := testHubConfig().Models["gearmotor_m"].Build()
		So(err, ShouldBeNil)
		So(model.DAngleDSpeed, ShouldEqual, 171600)
	})

	Convey("profile invariants are enforced", t, func() {
		pc := testHubConfig().Profiles["precise"]
		pc.FrictionSpeedCutoff = 0
		_, err := pc.Build()
		So(err, ShouldNotBeNil)

		pc = testHubConfig().Profiles["precise"]
		pc.FeedbackGainThreshold = -1
		_, err = pc.Build()
		So(err, ShouldNotBeNil)
	})
}
