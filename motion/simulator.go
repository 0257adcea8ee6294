package motion

import (
	"math"
	"math/rand"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/openhubs/gomotorstate/motion/angle"
)

const SIM_SUBSTEPS = 10
const SIM_ENCODER_NOISE = 250 // mdeg peak, roughly one encoder count

const mdegPerRad = 180 / math.Pi * 1000

// PlantConfig is the continuous-time description of a simulated DC motor,
// in SI units. It is deliberately independent of the observer's calibrated
// model so the estimator can be exercised against an imperfect match, which
// is what it sees on real hardware.
type PlantConfig struct {
	Resistance float64 // ohm
	Inductance float64 // H
	Kt         float64 // Nm/A
	Ke         float64 // Vs/rad
	Inertia    float64 // kg m^2
	Damping    float64 // Nms/rad, viscous
	Friction   float64 // Nm, coulomb
}

// SmallGearmotor is a plant in the range of the hub motors this library is
// calibrated for: roughly 290 deg/s at 3V at the output shaft.
var SmallGearmotor = PlantConfig{
	Resistance: 5.0,
	Inductance: 0.005,
	Kt:         0.57,
	Ke:         0.57,
	Inertia:    0.004,
	Damping:    0.0002,
	Friction:   0.015,
}

// SimulatedMotor integrates x' = Ax + Bu for the state x = (angle, speed,
// current) and plays back the angle through a quantized, optionally noisy
// encoder. A jam flag freezes the mechanics while the electrics stay live,
// which is exactly the condition the stall detector has to recognize.
// Safe for concurrent use: the driving loop steps the plant while a shell
// or test goroutine jams it.
type SimulatedMotor struct {
	mu sync.Mutex

	a mgl64.Mat3
	b mgl64.Vec3
	x mgl64.Vec3 // rad, rad/s, A

	friction float64 // rad/s^2 equivalent deceleration
	jammed   bool
	noisy    bool
}

// NewSimulatedMotor builds the state-space matrices from the physical
// parameters. Mat3 literals are column major.
func NewSimulatedMotor(c PlantConfig) (m *SimulatedMotor) {
	m = new(SimulatedMotor)
	m.a = mgl64.Mat3{
		0, 0, 0,
		1, -c.Damping / c.Inertia, -c.Ke / c.Inductance,
		0, c.Kt / c.Inertia, -c.Resistance / c.Inductance,
	}
	m.b = mgl64.Vec3{0, 0, 1 / c.Inductance}
	m.friction = c.Friction / c.Inertia
	return
}

// SetNoisy toggles encoder quantization noise on the angle readout.
func (m *SimulatedMotor) SetNoisy(noisy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noisy = noisy
}

// Jam freezes or releases the mechanics, as if the output shaft hit a hard
// stop.
func (m *SimulatedMotor) Jam(jammed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jammed = jammed
	if jammed {
		m.x[1] = 0
	}
}

// Step advances the plant by one control period under the given drive
// voltage, substepping so the fast electrical pole integrates stably.
func (m *SimulatedMotor) Step(dtMillis uint32, millivolts int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := float64(dtMillis) / 1000 / SIM_SUBSTEPS
	volts := float64(millivolts) / 1000

	for i := 0; i < SIM_SUBSTEPS; i++ {
		xdot := m.a.Mul3x1(m.x).Add(m.b.Mul(volts))

		// Coulomb friction is not linear; fold it in after the matrix part.
		switch {
		case m.x[1] > 0:
			xdot[1] -= m.friction
		case m.x[1] < 0:
			xdot[1] += m.friction
		}

		if m.jammed {
			xdot[0] = 0
			xdot[1] = 0
			m.x[1] = 0
		}

		m.x = m.x.Add(xdot.Mul(h))
	}
}

// Angle returns the encoder's view of the shaft position.
func (m *SimulatedMotor) Angle() angle.Angle {
	m.mu.Lock()
	defer m.mu.Unlock()
	mdeg := int64(math.Round(m.x[0] * mdegPerRad))
	if m.noisy {
		mdeg += int64(rand.Intn(SIM_ENCODER_NOISE*2) - SIM_ENCODER_NOISE)
	}
	return angle.FromMdeg(mdeg)
}

// Speed returns the true shaft speed in mdeg/s, for test assertions against
// the estimate.
func (m *SimulatedMotor) Speed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(math.Round(m.x[1] * mdegPerRad))
}
