// Package web serves the operator: the websocket control link, a few JSON
// status endpoints and the static operator page.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-bonbon/internal/log"
	"github.com/teslashibe/go-bonbon/pkg/hub"
	"github.com/teslashibe/go-bonbon/pkg/protocol"
)

const maxLogEntries = 500

// Config holds server settings.
type Config struct {
	Port   int
	Static string // Operator page directory; empty disables it
	Debug  bool   // Log every request
}

// Status is the operator's view of the robot.
type Status struct {
	State     string     `json:"state"`
	Connected bool       `json:"connected"`
	Address   string     `json:"address"`
	Vision    bool       `json:"vision"`
	Servos    []*float64 `json:"servos"`
	Animating int        `json:"animating"`
	Operators int        `json:"operators"`
}

// LogEntry is one operator-visible log line.
type LogEntry struct {
	Time    string               `json:"time"`
	Type    protocol.MessageType `json:"type"` // log or animation-log
	Message string               `json:"message"`
}

// Server is the operator server.
type Server struct {
	app    *fiber.App
	cfg    Config
	hub    *hub.Hub
	logger *slog.Logger

	logs   []LogEntry
	logsMu sync.RWMutex

	// OnStatus reports the current status for /api/status.
	OnStatus func() Status

	// OnAnimations lists the animation names for /api/animations.
	OnAnimations func() ([]string, error)
}

// NewServer creates the operator server around h. Commands arriving on the
// websocket go to the handler registered with h.OnMessage.
func NewServer(cfg Config, h *hub.Hub) *Server {
	s := &Server{
		cfg:    cfg,
		hub:    h,
		logger: log.Component("web"),
		logs:   make([]LogEntry, 0, maxLogEntries),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Bon-Bon Operator",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/animations", s.handleAnimations)
	api.Get("/logs", s.handleGetLogs)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleOperatorWS))

	if cfg.Static != "" {
		app.Static("/", cfg.Static)
	}

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured port until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on operator port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub and the HTTP server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("operator server listening", "address", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.hub.Run(ctx) })
	g.Go(func() error { return s.app.Listener(ln) })
	g.Go(func() error {
		<-ctx.Done()
		return s.app.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Report records operator log lines and forwards everything to the hub.
func (s *Server) Report(msgType protocol.MessageType, data interface{}) {
	if msgType == protocol.TypeLog || msgType == protocol.TypeAnimationLog {
		s.addLog(msgType, data)
	}
	s.hub.Report(msgType, data)
}

func (s *Server) addLog(msgType protocol.MessageType, data interface{}) {
	msg, ok := data.(string)
	if !ok {
		msg = fmt.Sprint(data)
	}
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    msgType,
		Message: msg,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogEntries {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()
}

// Logs returns a copy of the recent log entries.
func (s *Server) Logs() []LogEntry {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}
