package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamesrupertball/tempest-weather-airport/internal/ingest"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest/stream"
)

const serviceName = "tempest-ingest"

// StreamState reports the connection manager's lifecycle state.
type StreamState interface {
	State() stream.State
}

// DispatchStats reports what the dispatcher has processed.
type DispatchStats interface {
	Stats() ingest.Stats
	DataReceived() bool
}

// PollHistory reports the most recent polling cycle.
type PollHistory interface {
	LastRun() (ingest.PollResult, bool)
}

// Sources feeds the status endpoint. Nil members are omitted from the response.
type Sources struct {
	Mode       string
	DeviceID   int64
	Stream     StreamState
	Dispatcher DispatchStats
	Poller     PollHistory
}

// NewApp builds the fiber app with the shared error handler and middleware.
func NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	app.Use(recover.New())
	return app
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, src Sources) {
	started := time.Now().UTC()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		resp := statusResponse{
			Mode:      src.Mode,
			DeviceID:  src.DeviceID,
			StartedAt: started,
		}
		if src.Stream != nil {
			resp.Stream = &streamStatus{State: src.Stream.State().String()}
		}
		if src.Dispatcher != nil {
			stats := src.Dispatcher.Stats()
			resp.Dispatch = &dispatchStatus{Stats: stats, DataReceived: src.Dispatcher.DataReceived()}
		}
		if src.Poller != nil {
			if last, ok := src.Poller.LastRun(); ok {
				resp.LastPoll = &last
			}
		}
		return c.JSON(resp)
	})
}

type statusResponse struct {
	Mode      string             `json:"mode"`
	DeviceID  int64              `json:"device_id"`
	StartedAt time.Time          `json:"started_at"`
	Stream    *streamStatus      `json:"stream,omitempty"`
	Dispatch  *dispatchStatus    `json:"dispatch,omitempty"`
	LastPoll  *ingest.PollResult `json:"last_poll,omitempty"`
}

type streamStatus struct {
	State string `json:"state"`
}

type dispatchStatus struct {
	ingest.Stats
	DataReceived bool `json:"data_received"`
}
