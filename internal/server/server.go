// Package server exposes the room registry and session lifecycle over
// HTTP and websockets.
package server

import (
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maelsh/dueli-broadcast/internal/config"
	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/registry"
	"github.com/maelsh/dueli-broadcast/internal/session"
	"github.com/maelsh/dueli-broadcast/internal/sockets"
	"github.com/maelsh/dueli-broadcast/internal/utils"
)

// Server mounts the signalling surface on a fiber app:
//
//   - POST /api/rooms                      create room
//   - POST /api/rooms/:id/join             join (idempotent per role)
//   - GET  /api/rooms/:id/status           presence poll
//   - POST /api/rooms/:id/leave            leave
//   - POST /api/rooms/:id/signals          append to the signaling log
//   - GET  /api/rooms/:id/signals          poll the log by cursor
//   - GET  /ws/rooms/:id/signals           push new log entries
//   - POST /api/competitions/:id/live      go live (creator only)
//   - POST /api/competitions/:id/end       end session (either side)
//   - GET  /metrics                        prometheus
type Server struct {
	app       *fiber.App
	cfg       config.ServerConfig
	registry  *registry.Registry
	lifecycle *session.Lifecycle

	signalSockets *sockets.SocketPool
	staleSweeper  *utils.Interval
}

func NewServer(cfg config.ServerConfig, app *fiber.App, reg *registry.Registry, lc *session.Lifecycle) *Server {
	s := &Server{
		app:           app,
		cfg:           cfg,
		registry:      reg,
		lifecycle:     lc,
		signalSockets: sockets.NewSocketPool(),
	}
	s.staleSweeper = utils.Every(time.Minute, func() {
		reg.CleanupStale(cfg.RoomIdleTimeout)
	})
	return s
}

// Close stops the sweeper and drops all push subscribers. Safe to call
// more than once.
func (s *Server) Close() {
	s.staleSweeper.Stop()
	s.signalSockets.Close()
}

func (s *Server) SetupRoutes() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.setupRoomApi()
	s.setupSessionApi()
	s.setupSignalSockets()

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// sendError maps domain sentinels onto HTTP status codes.
func sendError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoomAlreadyExists):
		status = fiber.StatusConflict
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrCompetitionNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrInvalidRole):
		status = fiber.StatusForbidden
	case errors.Is(err, domain.ErrRoomClosed), errors.Is(err, domain.ErrSessionEnded):
		status = fiber.StatusGone
	case errors.Is(err, domain.ErrDuplicateAnswer), errors.Is(err, domain.ErrNoPendingOffer),
		errors.Is(err, domain.ErrOpponentMissing):
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(map[string]string{"error": err.Error()})
}
