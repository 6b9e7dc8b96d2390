package handlers

import (
	"github.com/gofiber/fiber/v2"

	"travel-missions/middleware"
	"travel-missions/services"
)

type createChallengeReq struct {
	Title  string `json:"title" validate:"required,max=120"`
	IsSolo bool   `json:"is_solo"`
	CityID *uint  `json:"city_id"`
}

type joinChallengeReq struct {
	InviteCode string `json:"invite_code" validate:"required"`
}

type generateMissionsReq struct {
	CityID   uint `json:"city_id" validate:"required"`
	Quantity int  `json:"quantity"`
}

// SetupChallengeRoutes registers the group challenge endpoints.
func SetupChallengeRoutes(router fiber.Router, challenges *services.ChallengeService) {
	router.Post("/challenges", func(c *fiber.Ctx) error {
		var req createChallengeReq
		if err := bind(c, &req); err != nil {
			return err
		}
		ch, err := challenges.CreateChallenge(c.UserContext(), middleware.UserID(c), req.Title, req.IsSolo, req.CityID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(ch)
	})

	router.Get("/challenges", func(c *fiber.Ctx) error {
		list, err := challenges.ListUserChallenges(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"challenges": list})
	})

	router.Post("/challenges/join", func(c *fiber.Ctx) error {
		var req joinChallengeReq
		if err := bind(c, &req); err != nil {
			return err
		}
		ch, err := challenges.JoinChallenge(c.UserContext(), middleware.UserID(c), req.InviteCode)
		if err != nil {
			return err
		}
		return c.JSON(ch)
	})

	router.Get("/challenges/:id", func(c *fiber.Ctx) error {
		ch, err := challenges.GetChallenge(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(ch)
	})

	router.Post("/challenges/:id/leave", func(c *fiber.Ctx) error {
		if err := challenges.LeaveChallenge(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	router.Post("/challenges/:id/missions/generate", func(c *fiber.Ctx) error {
		var req generateMissionsReq
		if err := bind(c, &req); err != nil {
			return err
		}
		missions, err := challenges.GenerateMissionsForChallenge(c.UserContext(), middleware.UserID(c), c.Params("id"), req.CityID, req.Quantity)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"missions": missions})
	})

	router.Get("/challenges/:id/missions", func(c *fiber.Ctx) error {
		board, err := challenges.GetMissionsWithStatus(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(board)
	})

	router.Post("/challenges/:id/missions/:mission_id/claim", func(c *fiber.Ctx) error {
		view, err := challenges.ClaimMission(c.UserContext(), c.Params("id"), c.Params("mission_id"), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	router.Post("/challenges/:id/missions/:mission_id/release", func(c *fiber.Ctx) error {
		view, err := challenges.ReleaseMission(c.UserContext(), c.Params("id"), c.Params("mission_id"), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	router.Post("/challenges/:id/missions/:mission_id/complete", func(c *fiber.Ctx) error {
		var payload services.CompletionPayload
		if err := c.BodyParser(&payload); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON")
		}
		res, err := challenges.CompleteMission(c.UserContext(), c.Params("id"), c.Params("mission_id"), middleware.UserID(c), payload)
		if err != nil {
			return err
		}
		return c.JSON(res)
	})
}
