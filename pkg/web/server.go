// Package web serves the inspection dashboard: live view, inference overlay,
// log panes and bridge controls over HTTP and websockets.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-inspect/pkg/bridge"
	"github.com/teslashibe/go-inspect/pkg/frame"
	"github.com/teslashibe/go-inspect/pkg/hub"
)

// Config configures the dashboard server.
type Config struct {
	Addr      string       // Listen address, e.g. ":8080"
	StaticDir string       // Directory holding index.html
	Metrics   http.Handler // Served at /metrics when set
	Logger    *slog.Logger
}

// Server is the dashboard. It is a presentation sink: the camera loop and
// the bridge readers call into it, and the hubs own the websocket writes.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	logs     *ring // Diagnostics: info, stdout, stderr, error
	statuses *ring // Status pane

	// logMu orders ring appends against /ws/logs joins.
	logMu sync.Mutex

	liveHub    *hub.Hub
	overlayHub *hub.Hub
	logHub     *hub.Hub
	statusHub  *hub.Hub
	hubsOnce   sync.Once

	lastMu      sync.RWMutex
	lastOverlay *OverlayInfo

	// OnBridgeAction runs "start", "stop" or "restart".
	OnBridgeAction func(action string) error

	// OnStatus returns the application state for /api/status.
	OnStatus func() any

	// OnGetSettings returns the runtime settings.
	OnGetSettings func() any

	// OnUpdateSettings applies a partial settings update and returns the result.
	OnUpdateSettings func(updates map[string]any) (any, error)
}

// OverlayInfo describes the most recent overlay.
type OverlayInfo struct {
	Seq       uint64  `json:"seq"`
	Status    string  `json:"status"`
	Score     float64 `json:"score"`
	RequestID string  `json:"request_id,omitempty"`
	Format    string  `json:"format"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Time      string  `json:"time"`
}

// NewServer creates the dashboard server. Routes are registered here; call
// Start or Serve to begin listening.
func NewServer(cfg Config) *Server {
	if cfg.StaticDir == "" {
		cfg.StaticDir = "./web"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "web")

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		logs:       newRing(),
		statuses:   newRing(),
		liveHub:    hub.New("live", hub.WithLogger(logger)),
		overlayHub: hub.New("overlay", hub.WithReplay(), hub.WithLogger(logger)),
		logHub:     hub.New("logs", hub.WithLogger(logger)),
		statusHub:  hub.New("status", hub.WithReplay(), hub.WithLogger(logger)),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Inspection Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/statuses", s.handleGetStatuses)
	api.Post("/bridge/:action", s.handleBridgeAction)
	api.Get("/settings", s.handleGetSettings)
	api.Patch("/settings", s.handleUpdateSettings)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/live", websocket.New(s.serveHub(s.liveHub)))
	app.Get("/ws/overlay", websocket.New(s.serveHub(s.overlayHub)))
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	// Static files last so they never shadow the API
	app.Static("/", cfg.StaticDir)

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) startHubs(ctx context.Context) {
	s.hubsOnce.Do(func() {
		go s.liveHub.Run(ctx)
		go s.overlayHub.Run(ctx)
		go s.logHub.Run(ctx)
		go s.statusHub.Run(ctx)
	})
}

// Start listens on the configured address. It blocks until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the dashboard on ln. It blocks until Shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.startHubs(ctx)
	s.logger.Info("dashboard listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// StartAsync starts the web server in a goroutine.
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		if err := s.Start(ctx); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// Shutdown stops accepting connections and closes open ones.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(3 * time.Second)
}

// ShowLiveFrame implements present.Sink. Frames are only encoded while
// someone is watching.
func (s *Server) ShowLiveFrame(f *frame.Frame) {
	if f == nil || s.liveHub.ClientCount() == 0 {
		return
	}
	data, err := f.JPEG()
	if err != nil {
		s.logger.Debug("live frame encode failed", "seq", f.Seq, "error", err)
		return
	}
	s.liveHub.BroadcastBinary(data)
}

// ShowOverlay implements present.Sink.
func (s *Server) ShowOverlay(o bridge.Overlay) {
	info := &OverlayInfo{
		Seq:       o.Seq,
		Status:    o.Status,
		Score:     o.Score,
		RequestID: o.RequestID,
		Format:    o.Format,
		Time:      time.Now().Format(time.RFC3339Nano),
	}
	if o.Image != nil {
		info.Width = o.Image.Bounds().Dx()
		info.Height = o.Image.Bounds().Dy()
	}

	s.lastMu.Lock()
	s.lastOverlay = info
	s.lastMu.Unlock()

	s.overlayHub.BroadcastBinary(o.Data)
}

// LastOverlay returns metadata of the newest overlay, or nil.
func (s *Server) LastOverlay() *OverlayInfo {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastOverlay
}

// Log implements present.Sink. Status lines go to the status pane, the rest
// to the diagnostic log.
func (s *Server) Log(tag bridge.Tag, msg string) {
	entry := newEntry(tag, msg)
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if tag == bridge.TagStatus {
		s.statuses.add(entry)
	} else {
		s.logs.add(entry)
	}
	s.logHub.BroadcastJSON(entry)
}

// PublishState pushes an application state snapshot to /ws/status.
func (s *Server) PublishState(v any) {
	if err := s.statusHub.BroadcastJSON(v); err != nil {
		s.logger.Warn("encode state", "error", err)
	}
}

// Viewers returns connected client counts per stream.
func (s *Server) Viewers() map[string]int {
	return map[string]int{
		"live":    s.liveHub.ClientCount(),
		"overlay": s.overlayHub.ClientCount(),
		"logs":    s.logHub.ClientCount(),
		"status":  s.statusHub.ClientCount(),
	}
}
