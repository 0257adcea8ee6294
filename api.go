package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"github.com/openhubs/gomotorstate/motion"
)

const STATE_INTERVAL = time.Second / 10

//---
// Payloads
//---

type StatePayload struct {
	Motors motion.HubState `json:"motors"`
}

type ResetPayload struct {
	Angle int64 `json:"angle"` // mdeg
}

func (p *ResetPayload) Bind(r *http.Request) error {
	return nil
}

type VoltagePayload struct {
	Millivolts int32 `json:"millivolts"`
}

type StalledPayload struct {
	Stalled  bool   `json:"stalled"`
	Duration uint32 `json:"duration"` // ms
}

func (p *VoltagePayload) Bind(r *http.Request) error {
	return nil
}

//---
// Error responses
//---

type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

func ErrNotFound(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusNotFound,
		StatusText:     "Resource not found.",
		ErrorText:      err.Error(),
	}
}

func ErrUnauthorized(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusUnauthorized,
		StatusText:     "Unauthorized.",
		ErrorText:      err.Error(),
	}
}

func ErrPermissionDenied(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusForbidden,
		StatusText:     "Permission denied.",
		ErrorText:      err.Error(),
	}
}

func ErrRender(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusInternalServerError,
		StatusText:     "Error rendering response.",
		ErrorText:      err.Error(),
	}
}

//---
// Views
//---

// HubState returns the current estimate of every motor.
func HubStateHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, StatePayload{ENV.Hub.State()})
}

// MotorReset re-homes one motor's observer on a measured angle.
func MotorResetHandler(w http.ResponseWriter, r *http.Request) {
	data := &ResetPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := ENV.Hub.Reset(chi.URLParam(r, "motor"), data.Angle); err != nil {
		render.Render(w, r, ErrNotFound(err))
		return
	}

	render.JSON(w, r, StatePayload{ENV.Hub.State()})
}

// MotorVoltage records a drive voltage command for one motor.
func MotorVoltageHandler(w http.ResponseWriter, r *http.Request) {
	data := &VoltagePayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := ENV.Hub.SetVoltage(chi.URLParam(r, "motor"), data.Millivolts); err != nil {
		render.Render(w, r, ErrNotFound(err))
		return
	}

	render.JSON(w, r, StatePayload{ENV.Hub.State()})
}

// MotorCoast releases one motor's drive.
func MotorCoastHandler(w http.ResponseWriter, r *http.Request) {
	if err := ENV.Hub.Coast(chi.URLParam(r, "motor")); err != nil {
		render.Render(w, r, ErrNotFound(err))
		return
	}

	render.JSON(w, r, StatePayload{ENV.Hub.State()})
}

// MotorStalled reports whether one motor is stalled and for how long.
func MotorStalledHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "motor")
	m, ok := ENV.Hub.State()[name]
	if !ok {
		render.Render(w, r, ErrNotFound(fmt.Errorf("unable to find motor '%s'", name)))
		return
	}

	render.JSON(w, r, StalledPayload{m.Stalled, m.StallDuration})
}

//---
// Websocket state stream
//---

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StateStreamHandler pushes the hub state to the client at a fixed rate
// until the connection drops.
func StateStreamHandler(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Print("upgrade:", err)
		return
	}
	defer c.Close()

	ticker := time.NewTicker(STATE_INTERVAL)
	defer ticker.Stop()

	for range ticker.C {
		if err := c.WriteJSON(StatePayload{ENV.Hub.State()}); err != nil {
			log.Println("write:", err)
			return
		}
	}
}
