package web

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/teslashibe/go-bonbon/pkg/hub"
)

// handleHealth reports liveness and hub counters
func (s *Server) handleHealth(c *fiber.Ctx) error {
	sent, dropped := s.hub.Stats()
	return c.JSON(fiber.Map{
		"status":    "ok",
		"hub":       s.hub.IsRunning(),
		"operators": s.hub.ClientCount(),
		"sent":      sent,
		"dropped":   dropped,
	})
}

// handleStatus returns the robot status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	var st Status
	if s.OnStatus != nil {
		st = s.OnStatus()
	}
	st.Operators = s.hub.ClientCount()
	return c.JSON(st)
}

// handleAnimations lists the animations that can be started
func (s *Server) handleAnimations(c *fiber.Ctx) error {
	if s.OnAnimations == nil {
		return c.JSON([]string{})
	}

	names, err := s.OnAnimations()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(names)
}

// handleGetLogs returns recent operator log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.Logs())
}

// handleOperatorWS serves one operator until it disconnects
func (s *Server) handleOperatorWS(c *websocket.Conn) {
	client := hub.NewClient(s.hub, c)
	s.logger.Debug("operator session started", "client", client.ID(), "remote", c.RemoteAddr().String())
	client.Run()
}
