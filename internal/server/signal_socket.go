package server

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/maelsh/dueli-broadcast/internal/api"
	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/metrics"
)

// SignalPushInterval is the cadence at which new signaling log entries
// are pushed to websocket subscribers.
const SignalPushInterval = 250 * time.Millisecond

// setupSignalSockets serves the push variant of the signaling log. The
// poll endpoint stays authoritative; this is the same cursor read on a
// server-side timer.
func (s *Server) setupSignalSockets() {
	s.app.Get("/ws/rooms/:id/signals", websocket.New(func(c *websocket.Conn) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in signal socket handler", "panic", r)
			}
		}()

		roomID := c.Params("id")
		role := domain.Role(c.Query("role"))
		since, _ := strconv.ParseUint(c.Query("since", "0"), 10, 64)

		if !role.IsParticipant() {
			_ = c.WriteJSON(api.ErrorResponse{Error: domain.ErrPermissionDenied.Error()})
			return
		}

		socketID := s.signalSockets.AddSocket(c)
		defer s.signalSockets.RemoveSocket(socketID)
		metrics.SignalSubscribers.Inc()
		defer metrics.SignalSubscribers.Dec()

		socket := s.signalSockets.GetSocket(socketID)
		done := make(chan struct{})

		// Reader only detects disconnect; subscribers never write.
		go func() {
			defer close(done)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(SignalPushInterval)
		defer ticker.Stop()

		cursor := since
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			msgs, err := s.registry.PullSignals(roomID, role, cursor)
			if err != nil {
				_ = socket.WriteJSON(api.ErrorResponse{Error: err.Error()})
				return
			}
			for _, msg := range msgs {
				if err := socket.WriteJSON(api.ToSignalMessage(msg)); err != nil {
					return
				}
				if msg.Seq > cursor {
					cursor = msg.Seq
				}
			}
		}
	}))
}
