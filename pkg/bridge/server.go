package bridge

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-cascade/internal/log"
	"github.com/teslashibe/go-cascade/pkg/asset"
	"github.com/teslashibe/go-cascade/pkg/cascade"
	"github.com/teslashibe/go-cascade/pkg/hub"
)

// Detector runs a classifier on an image reference. *cascade.Invoker
// implements it.
type Detector interface {
	Detect(ctx context.Context, classifier string, image asset.Reference) ([]cascade.Detection, error)
}

// Server is the bridge HTTP/WebSocket server.
type Server struct {
	app      *fiber.App
	detector Detector
	events   *hub.Hub
	backend  string
	logger   *slog.Logger
	access   bool
	slots    chan struct{} // Bounds detections running at once

	requests atomic.Int64
	failures atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithEvents publishes detection events on h under /ws/events. The caller
// runs the hub and feeds it, normally through hub.Observer.
func WithEvents(h *hub.Hub) Option {
	return func(s *Server) { s.events = h }
}

// WithBackendName sets the backend name reported by /api/health.
func WithBackendName(name string) Option {
	return func(s *Server) { s.backend = name }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// DefaultMaxInFlight bounds concurrent detections when WithMaxInFlight is
// not used.
const DefaultMaxInFlight = 8

// WithMaxInFlight caps the detections the server runs at once, across HTTP
// and every websocket stream. Values below 1 use DefaultMaxInFlight.
func WithMaxInFlight(n int) Option {
	return func(s *Server) {
		if n < 1 {
			n = DefaultMaxInFlight
		}
		s.slots = make(chan struct{}, n)
	}
}

// WithAccessLog enables fiber's per-request access log.
func WithAccessLog(enabled bool) Option {
	return func(s *Server) { s.access = enabled }
}

// NewServer creates a bridge server around det.
func NewServer(det Detector, opts ...Option) *Server {
	s := &Server{detector: det}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Component("bridge")
	}
	if s.slots == nil {
		s.slots = make(chan struct{}, DefaultMaxInFlight)
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-cascade bridge",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	if s.access {
		app.Use(logger.New())
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/stats", s.handleStats)
	api.Post("/detect", s.handleDetect)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/detect", websocket.New(s.handleDetectWS))
	if s.events != nil {
		app.Get("/ws/events", websocket.New(s.handleEventsWS))
	}

	s.app = app
	return s
}

// App returns the underlying fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("bridge listening", "addr", addr, "backend", s.backend)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// Stats returns request counters.
func (s *Server) Stats() Stats {
	st := Stats{
		Requests: s.requests.Load(),
		Failures: s.failures.Load(),
	}
	if s.events != nil {
		st.Subscribers = s.events.ClientCount()
		st.DroppedEvent = s.events.Dropped()
	}
	return st
}

// acquire takes a detection slot, waiting until one frees up or ctx ends.
func (s *Server) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) release() {
	<-s.slots
}

// detect runs one request and builds the reply. status is the HTTP status
// to use for it.
func (s *Server) detect(ctx context.Context, id string, req DetectRequest) (reply any, status int) {
	s.requests.Add(1)

	if err := req.Validate(); err != nil {
		s.failures.Add(1)
		return ErrorResponse{ID: req.ID, RequestID: id, Error: err.Error(), Kind: KindBadRequest}, fiber.StatusBadRequest
	}

	dets, err := s.detector.Detect(ctx, req.Classifier, req.Image)
	if err != nil {
		return s.failed(id, req, err)
	}
	return DetectResponse{ID: req.ID, RequestID: id, Objects: dets}, fiber.StatusOK
}

// detectFailed counts a request that ended before reaching the detector.
func (s *Server) detectFailed(id string, req DetectRequest, err error) (reply any, status int) {
	s.requests.Add(1)
	return s.failed(id, req, err)
}

func (s *Server) failed(id string, req DetectRequest, err error) (reply any, status int) {
	s.failures.Add(1)
	kind, status := Classify(err)
	s.logger.Debug("detect request failed", "request_id", id, "kind", kind, "error", err)
	return ErrorResponse{ID: req.ID, RequestID: id, Error: err.Error(), Kind: kind}, status
}
