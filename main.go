package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/asdine/storm"
	"github.com/caarlos0/env"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"gopkg.in/yaml.v2"

	"github.com/openhubs/gomotorstate/motion"
	"github.com/openhubs/gomotorstate/motion/angle"
	"github.com/openhubs/gomotorstate/motion/calibration"
)

const SIM_TICK = 5 * time.Millisecond

type EnvConfig struct {
	JWT_ISSUER string `env:"HUB_UUID" envDefault:"DEV"`
	JWT_SECRET string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	DEBUG      bool   `env:"DEBUG" envDefault:"0"`
	SRCDIR     string `env:"SRCDIR" envDefault:"."`
	DB_FILE    string `env:"DB_FILE" envDefault:"./tmp/hub.db"`
	CAL_FILE   string `env:"CAL_FILE" envDefault:"./tmp/calibration.db"`
	DB         *storm.DB
	Hub        motion.Hub
	Plants     map[string]*motion.SimulatedMotor
	Simulated  bool
}

var (
	ENV *EnvConfig
)

func init() {
	// Load main config
	ENV = new(EnvConfig)
	env.Parse(ENV)

	// setup database
	dbFile, _ := filepath.Abs(ENV.DB_FILE)
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.Mkdir(dir, 0755)
	}

	db, err := openDb(dbFile)
	if err != nil {
		panic(err)
	}
	ENV.DB = db

	return
}

func main() {
	// process flags
	simulated := flag.Bool("sim", false, "Drive the hub from simulated motors instead of hardware")
	port := flag.String("port", "0.0.0.0:8080", "Specify the ip:port to listen on")
	flag.Parse()

	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	defer ENV.DB.Close() // close database when finished

	// Load the motor calibration config
	filename, err := filepath.Abs(ENV.SRCDIR + "/hub_config.yaml")
	if err != nil {
		panic(err)
	}
	yamlFile, err := ioutil.ReadFile(filename)
	if err != nil {
		panic(fmt.Sprintf("Unable to read yaml file: %v", err))
	}

	var config motion.HubConfig
	err = yaml.Unmarshal(yamlFile, &config)
	if err != nil {
		panic(fmt.Sprintf("Unable to unmarshal yaml: %v", err))
	}

	hub, err := motion.NewObserverHub(config)
	if err != nil {
		panic(fmt.Sprintf("Unable to initialize hub: %v", err))
	}

	// Stored calibration takes precedence over the shipped yaml: a record
	// named after a motor's model replaces that motor's tables.
	calFile, _ := filepath.Abs(ENV.CAL_FILE)
	calStore, err := calibration.Open(calFile)
	if err != nil {
		panic(fmt.Sprintf("Unable to open calibration store: %v", err))
	}
	defer calStore.Close()

	for motorName, mConf := range config.Motors {
		model, settings, err := calStore.Load(mConf.Model)
		switch {
		case err == calibration.ERR_NOT_FOUND:
			// no record, the yaml calibration stands
		case err != nil:
			panic(fmt.Sprintf("Unable to load calibration '%s': %v", mConf.Model, err))
		default:
			log.Printf("motor '%s': using stored calibration '%s'", motorName, mConf.Model)
			hub.AddMotor(motorName, model, settings)
		}
	}

	ENV.Hub = &lockedHub{hub: hub}

	ENV.Simulated = *simulated
	if ENV.Simulated {
		println("Creating simulated motors")
		ENV.Plants = make(map[string]*motion.SimulatedMotor, len(hub.Motors))
		for name := range hub.Motors {
			plant := motion.NewSimulatedMotor(motion.SmallGearmotor)
			plant.SetNoisy(true)
			ENV.Plants[name] = plant
		}
		go runSimulator(ENV.Hub, ENV.Plants)
	}

	//---
	// Create a local shell
	//---
	{
		motorNames := func([]string) []string {
			keys := make([]string, 0, len(hub.Motors))
			for k := range hub.Motors {
				keys = append(keys, k)
			}
			return keys
		}

		shell := ishell.New()
		shell.Println("Motor hub development shell")
		shell.ShowPrompt(true)
		shell.AddCmd(&ishell.Cmd{
			Name: "createsuperuser",
			Help: "createsuperuser <email> <password>",
			Func: func(c *ishell.Context) {
				// disable the '>>>' for cleaner same line input.
				c.ShowPrompt(false)
				defer c.ShowPrompt(true) // yes, revert when done.

				// get email
				var email string
				if len(c.Args) >= 1 {
					email = c.Args[0]
				} else {
					c.Print("Email: ")
					email = c.ReadLine()
				}

				// get password
				var password string
				if len(c.Args) >= 2 {
					password = c.Args[1]
				} else {
					c.Print("Password: ")
					password = c.ReadPassword()
				}

				// create operator
				op := &Operator{
					Email: email,
					Name:  email,
					Admin: true,
				}
				if err := op.SetPassword([]byte(password)); err != nil {
					c.Err(err)
					return
				}
				if err := ENV.DB.Save(op); err != nil {
					c.Err(err)
					return
				}

				c.Println("Superuser created")
			},
		})

		// Add motor specific commands
		shell.AddCmd(&ishell.Cmd{
			Name:      "reset",
			Completer: motorNames,
			Help:      "reset <motor> <angle_mdeg>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 2 {
					c.Err(fmt.Errorf("usage: reset <motor> <angle_mdeg>"))
					return
				}
				name := c.Args[0]
				mdeg, err := strconv.ParseInt(c.Args[1], 10, 64)
				if err != nil {
					c.Err(err)
					return
				}
				c.Printf("Resetting motor %s to %d mdeg\n", name, mdeg)
				if err := ENV.Hub.Reset(name, mdeg); err != nil {
					c.Err(err)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "volt",
			Completer: motorNames,
			Help:      "volt <motor> <millivolts>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 2 {
					c.Err(fmt.Errorf("usage: volt <motor> <millivolts>"))
					return
				}
				name := c.Args[0]
				mv, err := strconv.Atoi(c.Args[1])
				if err != nil {
					c.Err(err)
					return
				}
				c.Printf("Driving motor %s at %d mV\n", name, mv)
				if err := ENV.Hub.SetVoltage(name, int32(mv)); err != nil {
					c.Err(err)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "coast",
			Completer: motorNames,
			Help:      "coast <motor>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 {
					c.Err(fmt.Errorf("usage: coast <motor>"))
					return
				}
				name := c.Args[0]
				c.Printf("Coasting motor %s\n", name)
				if err := ENV.Hub.Coast(name); err != nil {
					c.Err(err)
				}
			},
		})

		// manual clock for stepping the hub by hand in hardware mode
		var manualClock uint32
		step := func(c *ishell.Context, name string, ticks int, mdeg int64) {
			if ENV.Simulated {
				c.Err(fmt.Errorf("the simulator is driving the hub"))
				return
			}
			for i := 0; i < ticks; i++ {
				manualClock += uint32(SIM_TICK / time.Millisecond)
				if err := ENV.Hub.Tick(name, manualClock, angle.FromMdeg(mdeg)); err != nil {
					c.Err(err)
					return
				}
			}
		}

		shell.AddCmd(&ishell.Cmd{
			Name:      "tick",
			Completer: motorNames,
			Help:      "tick <motor> <angle_mdeg> (advance one period with this measurement)",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 2 {
					c.Err(fmt.Errorf("usage: tick <motor> <angle_mdeg>"))
					return
				}
				name := c.Args[0]
				mdeg, err := strconv.ParseInt(c.Args[1], 10, 64)
				if err != nil {
					c.Err(err)
					return
				}
				step(c, name, 1, mdeg)
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "run",
			Completer: motorNames,
			Help:      "run <motor> <ticks> <angle_mdeg> (hold a measurement for several periods)",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 3 {
					c.Err(fmt.Errorf("usage: run <motor> <ticks> <angle_mdeg>"))
					return
				}
				name := c.Args[0]
				ticks, err := strconv.Atoi(c.Args[1])
				if err != nil {
					c.Err(err)
					return
				}
				mdeg, err := strconv.ParseInt(c.Args[2], 10, 64)
				if err != nil {
					c.Err(err)
					return
				}
				step(c, name, ticks, mdeg)
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "state",
			Help: "Print the current estimate of every motor",
			Func: func(c *ishell.Context) {
				for name, m := range ENV.Hub.State() {
					c.Printf("%s: angle=%d mdeg speed=%d mdeg/s voltage=%d mV stalled=%v\n",
						name, m.Angle, m.Speed, m.Voltage, m.Stalled)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "stalled",
			Completer: motorNames,
			Help:      "stalled <motor>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 {
					c.Err(fmt.Errorf("usage: stalled <motor>"))
					return
				}
				name := c.Args[0]
				m, ok := ENV.Hub.State()[name]
				if !ok {
					c.Err(fmt.Errorf("unable to find motor '%s'", name))
					return
				}
				c.Printf("stalled=%v duration=%dms\n", m.Stalled, m.StallDuration)
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "jam",
			Completer: motorNames,
			Help:      "jam <motor> <true|false> (simulator only)",
			Func: func(c *ishell.Context) {
				if !ENV.Simulated {
					c.Err(fmt.Errorf("no simulated motors in hardware mode"))
					return
				}
				if len(c.Args) != 2 {
					c.Err(fmt.Errorf("usage: jam <motor> <true|false>"))
					return
				}
				name := c.Args[0]
				jammed, err := strconv.ParseBool(c.Args[1])
				if err != nil {
					c.Err(err)
					return
				}
				plant, ok := ENV.Plants[name]
				if !ok {
					c.Err(fmt.Errorf("unable to find motor '%s'", name))
					return
				}
				plant.Jam(jammed)
				c.Printf("motor %s jammed=%v\n", name, jammed)
			},
		})

		{
			// Calibration specific commands
			calCmd := &ishell.Cmd{
				Name: "cal",
				Help: "inspect and persist calibration records",
			}

			calCmd.AddCmd(&ishell.Cmd{
				Name: "list",
				Help: "List the stored calibration records",
				Func: func(c *ishell.Context) {
					names, err := calStore.Names()
					if err != nil {
						c.Err(err)
						return
					}
					for _, name := range names {
						c.Println(name)
					}
				},
			})

			calCmd.AddCmd(&ishell.Cmd{
				Name:      "save",
				Completer: motorNames,
				Help:      "cal save <motor> (persist its yaml calibration under the model name)",
				Func: func(c *ishell.Context) {
					if len(c.Args) != 1 {
						c.Err(fmt.Errorf("usage: cal save <motor>"))
						return
					}
					mConf, ok := config.Motors[c.Args[0]]
					if !ok {
						c.Err(fmt.Errorf("unable to find motor '%s'", c.Args[0]))
						return
					}

					model, err := config.Models[mConf.Model].Build()
					if err != nil {
						c.Err(err)
						return
					}
					settings, err := config.Profiles[mConf.Profile].Build()
					if err != nil {
						c.Err(err)
						return
					}

					rec := &calibration.Record{
						Name:     mConf.Model,
						Model:    *model,
						Settings: *settings,
					}
					if err := calStore.Save(rec); err != nil {
						c.Err(err)
						return
					}
					c.Printf("calibration '%s' saved\n", mConf.Model)
				},
			})

			shell.AddCmd(calCmd)
		}

		// Start an instance of the shell so it can be controlled from the CLI
		go shell.Start()
	}

	//---
	// Build the API routes
	//---
	r.Route("/api", func(r chi.Router) {
		// login
		r.Post("/login", Login)

		r.Route("/", func(r chi.Router) {
			// Seek, verify and validate tokens
			r.Use(RequireAuth)

			r.Get("/refresh_token", TokenRefresh)
			r.Get("/state", HubStateHandler)

			r.Route("/motors/{motor}", func(r chi.Router) {
				r.Get("/stalled", MotorStalledHandler)
				r.Post("/reset", MotorResetHandler)
				r.Post("/voltage", MotorVoltageHandler)
				r.Post("/coast", MotorCoastHandler)
			})
		})
	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if !ENV.DEBUG {
			r.Use(RequireAuth)
		} else {
			fmt.Println("Running in debug mode. Authentication disabled.")
		}

		r.Get("/state", StateStreamHandler)
	})

	fmt.Println("Listening on port", *port)
	if err := http.ListenAndServe(*port, r); err != nil {
		log.Fatal(err)
	}
}

func openDb(dbFile string) (db *storm.DB, err error) {
	db, err = storm.Open(dbFile)
	if err != nil {
		return
	}

	// call inits for each type
	if err := db.Init(&Operator{}); err != nil {
		return nil, err
	}

	return
}

// lockedHub serializes hub access between the simulator loop, the shell
// and the API handlers. The motion package itself assumes a single
// caller per observer.
type lockedHub struct {
	mu  sync.Mutex
	hub *motion.ObserverHub
}

func (l *lockedHub) Reset(motor string, mdeg int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hub.Reset(motor, mdeg)
}

func (l *lockedHub) SetVoltage(motor string, millivolts int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hub.SetVoltage(motor, millivolts)
}

func (l *lockedHub) Coast(motor string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hub.Coast(motor)
}

func (l *lockedHub) Tick(motor string, time uint32, measured angle.Angle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hub.Tick(motor, time, measured)
}

func (l *lockedHub) State() motion.HubState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hub.State()
}

// runSimulator closes the loop between the simulated plants and the hub,
// feeding each commanded voltage back into its plant and each noisy
// encoder reading into the observer.
func runSimulator(hub motion.Hub, plants map[string]*motion.SimulatedMotor) {
	ticker := time.NewTicker(SIM_TICK)
	defer ticker.Stop()

	dt := uint32(SIM_TICK / time.Millisecond)
	var now uint32

	for range ticker.C {
		now += dt
		state := hub.State()
		for name, plant := range plants {
			plant.Step(dt, state[name].Voltage)
			if err := hub.Tick(name, now, plant.Angle()); err != nil {
				log.Printf("simulator: %v", err)
			}
		}
	}
}
