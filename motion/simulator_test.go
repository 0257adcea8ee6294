package motion

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// Closed-loop scenarios: the estimator tracking a plant it only
// approximately models, which is the situation on real hardware.

func TestSimulatedTracking(t *testing.T) {
	Convey("the estimate tracks a freely spinning plant", t, func() {
		hub, err := NewObserverHub(testHubConfig())
		So(err, ShouldBeNil)

		plant := NewSimulatedMotor(SmallGearmotor)

		So(hub.Reset("drive_left", 0), ShouldBeNil)
		So(hub.SetVoltage("drive_left", 3000), ShouldBeNil)

		time := uint32(0)
		for i := 0; i < 400; i++ {
			time += 5
			plant.Step(5, 3000)
			So(hub.Tick("drive_left", time, plant.Angle()), ShouldBeNil)
		}

		state := hub.State()["drive_left"]
		So(state.Stalled, ShouldBeFalse)

		// The model deliberately mismatches the plant; the feedback keeps
		// the angle within a bounded lag and the speed within a few percent.
		angleError := plant.Angle().TotalMdeg() - state.Angle
		if angleError < 0 {
			angleError = -angleError
		}
		So(angleError, ShouldBeLessThan, 30000)

		speedError := plant.Speed() - int64(state.Speed)
		if speedError < 0 {
			speedError = -speedError
		}
		So(speedError*100, ShouldBeLessThan, plant.Speed()*5)

		Convey("jamming the plant raises a stall within the settle time", func() {
			plant.Jam(true)

			var stalledAt uint32
			for i := 0; i < 400; i++ {
				time += 5
				plant.Step(5, 3000)
				So(hub.Tick("drive_left", time, plant.Angle()), ShouldBeNil)

				if s := hub.State()["drive_left"]; s.Stalled && stalledAt == 0 {
					stalledAt = time
					So(s.StallDuration, ShouldBeGreaterThan, 200)
				}
			}

			So(stalledAt, ShouldNotEqual, 0)
			final := hub.State()["drive_left"]
			So(final.Stalled, ShouldBeTrue)
			So(final.StallDuration, ShouldBeGreaterThan, 1000)

			Convey("releasing the jam recovers without a reset", func() {
				plant.Jam(false)
				for i := 0; i < 400; i++ {
					time += 5
					plant.Step(5, 3000)
					hub.Tick("drive_left", time, plant.Angle())
				}
				So(hub.State()["drive_left"].Stalled, ShouldBeFalse)
			})
		})
	})

	// Exercised under the race detector: the driving loop steps the plant
	// while another goroutine jams and reads it, as the dev shell does.
	Convey("the plant survives concurrent stepping and jamming", t, func() {
		plant := NewSimulatedMotor(SmallGearmotor)

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				plant.Step(5, 3000)
				plant.Angle()
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				plant.Jam(true)
				plant.Speed()
				plant.Jam(false)
			}
		}()
		wg.Wait()

		plant.Jam(true)
		So(plant.Speed(), ShouldEqual, 0)
	})

	Convey("encoder noise does not upset the tracking", t, func() {
		hub, _ := NewObserverHub(testHubConfig())
		plant := NewSimulatedMotor(SmallGearmotor)
		plant.SetNoisy(true)

		hub.Reset("drive_left", 0)
		hub.SetVoltage("drive_left", 3000)

		time := uint32(0)
		for i := 0; i < 400; i++ {
			time += 5
			plant.Step(5, 3000)
			hub.Tick("drive_left", time, plant.Angle())
		}

		state := hub.State()["drive_left"]
		So(state.Stalled, ShouldBeFalse)
		So(state.Speed, ShouldBeGreaterThan, 200000)
		So(state.Speed, ShouldBeLessThan, 350000)
	})
}
