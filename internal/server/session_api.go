package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/maelsh/dueli-broadcast/internal/api"
)

func (s *Server) setupSessionApi() {
	s.app.Post("/api/competitions/:id/live", func(c *fiber.Ctx) error {
		var req api.GoLiveRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "bad request"})
		}
		competitionID := c.Params("id")
		url, err := s.lifecycle.GoLive(competitionID, req.ActorID)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(api.GoLiveResponse{
			CompetitionID:   competitionID,
			DistributionURL: url,
		})
	})

	s.app.Post("/api/competitions/:id/end", func(c *fiber.Ctx) error {
		var req api.EndSessionRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(api.ErrorResponse{Error: "bad request"})
		}
		competitionID := c.Params("id")
		vodURL, alreadyEnded, err := s.lifecycle.EndSession(competitionID, req.ActorID)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(api.EndSessionResponse{
			CompetitionID:    competitionID,
			RecordedAssetURL: vodURL,
			AlreadyEnded:     alreadyEnded,
		})
	})
}
