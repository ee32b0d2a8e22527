package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-inspect/pkg/bridge"
	"github.com/teslashibe/go-inspect/pkg/hub"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	App         any            `json:"app,omitempty"`
	LastOverlay *OverlayInfo   `json:"last_overlay,omitempty"`
	Viewers     map[string]int `json:"viewers"`
}

// handleStatus returns the application state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		LastOverlay: s.LastOverlay(),
		Viewers:     s.Viewers(),
	}
	if s.OnStatus != nil {
		resp.App = s.OnStatus()
	}
	return c.JSON(resp)
}

// handleGetLogs returns the diagnostic log pane
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.logs.snapshot())
}

// handleGetStatuses returns the status pane
func (s *Server) handleGetStatuses(c *fiber.Ctx) error {
	return c.JSON(s.statuses.snapshot())
}

// handleBridgeAction starts, stops or restarts the inference process
func (s *Server) handleBridgeAction(c *fiber.Ctx) error {
	action := c.Params("action")
	switch action {
	case "start", "stop", "restart":
	default:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown action " + action,
		})
	}

	if s.OnBridgeAction == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "bridge control not configured",
		})
	}

	s.Log(bridge.TagInfo, "dashboard: "+action+" inference process")
	if err := s.OnBridgeAction(action); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, bridge.ErrAlreadyRunning) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{"action": action, "ok": true})
}

// handleGetSettings returns the runtime settings
func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	if s.OnGetSettings == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "settings not configured",
		})
	}
	return c.JSON(s.OnGetSettings())
}

// handleUpdateSettings applies a partial settings update
func (s *Server) handleUpdateSettings(c *fiber.Ctx) error {
	if s.OnUpdateSettings == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "settings not configured",
		})
	}

	var updates map[string]any
	if err := c.BodyParser(&updates); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid body: " + err.Error(),
		})
	}

	result, err := s.OnUpdateSettings(updates)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(result)
}

// serveHub attaches a websocket to h until it disconnects
func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		client := hub.NewClient(h, c)
		if client == nil {
			return
		}
		client.Run()
	}
}

// handleLogsWS sends both panes' backlog, then live entries. The client
// joins the hub under logMu, so every entry lands in exactly one of the two.
func (s *Server) handleLogsWS(c *websocket.Conn) {
	s.logMu.Lock()
	backlog := append(s.statuses.snapshot(), s.logs.snapshot()...)
	client := hub.NewClient(s.logHub, c)
	s.logMu.Unlock()
	if client == nil {
		return
	}

	// Live entries queue on the client until Run starts its writer.
	for _, entry := range backlog {
		if err := c.WriteJSON(entry); err != nil {
			break
		}
	}
	client.Run()
}
