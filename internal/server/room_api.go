package server

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/maelsh/dueli-broadcast/internal/api"
	"github.com/maelsh/dueli-broadcast/internal/domain"
)

func (s *Server) setupRoomApi() {
	s.app.Post("/api/rooms", func(c *fiber.Ctx) error {
		var req api.CreateRoomRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "bad request"})
		}
		room, err := s.registry.CreateRoom(req.CompetitionID, req.UserID)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(api.ToRoomStatusResponse(room.ID, room.Status()))
	})

	s.app.Post("/api/rooms/:id/join", func(c *fiber.Ctx) error {
		var req api.JoinRoomRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "bad request"})
		}
		roomID := c.Params("id")
		status, err := s.registry.JoinRoom(roomID, req.UserID, domain.Role(req.Role))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(api.ToRoomStatusResponse(roomID, status))
	})

	s.app.Get("/api/rooms/:id/status", func(c *fiber.Ctx) error {
		roomID := c.Params("id")
		status, err := s.registry.GetStatus(roomID)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(api.ToRoomStatusResponse(roomID, status))
	})

	s.app.Post("/api/rooms/:id/leave", func(c *fiber.Ctx) error {
		var req api.LeaveRoomRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "bad request"})
		}
		roomID := c.Params("id")
		if err := s.registry.LeaveRoom(roomID, req.UserID, domain.Role(req.Role)); err != nil {
			return sendError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	s.app.Post("/api/rooms/:id/signals", func(c *fiber.Ctx) error {
		var req api.PostSignalRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "bad request"})
		}
		msg, err := s.registry.PostSignal(c.Params("id"), api.FromPostSignalRequest(req))
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(api.ToSignalMessage(msg))
	})

	s.app.Get("/api/rooms/:id/signals", func(c *fiber.Ctx) error {
		roomID := c.Params("id")
		role := domain.Role(c.Query("role"))
		since, err := strconv.ParseUint(c.Query("since", "0"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "bad since cursor"})
		}
		msgs, pullErr := s.registry.PullSignals(roomID, role, since)
		if pullErr != nil {
			return sendError(c, pullErr)
		}
		return c.JSON(api.PullSignalsResponse{
			RoomID:  roomID,
			Signals: api.ToSignalMessages(msgs),
		})
	})
}
