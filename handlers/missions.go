package handlers

import (
	"github.com/gofiber/fiber/v2"

	"travel-missions/middleware"
	"travel-missions/models"
	"travel-missions/services"
)

type requestMissionReq struct {
	CityID     uint   `json:"city_id" validate:"required"`
	Difficulty string `json:"difficulty" validate:"required"`
}

type transitionReq struct {
	Status string `json:"status" validate:"required"`
	services.CompletionPayload
}

// SetupMissionRoutes registers the individual mission endpoints on a router
// already guarded by UserContextMiddleware.
func SetupMissionRoutes(router fiber.Router, missions *services.MissionService, lifecycle *services.LifecycleService) {
	router.Post("/missions/request", func(c *fiber.Ctx) error {
		var req requestMissionReq
		if err := bind(c, &req); err != nil {
			return err
		}
		view, err := missions.RequestMission(c.UserContext(), middleware.UserID(c), req.CityID, req.Difficulty)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(view)
	})

	router.Get("/missions", func(c *fiber.Ctx) error {
		list, err := missions.ListUserMissions(c.UserContext(), middleware.UserID(c), c.Query("status"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"missions": list})
	})

	router.Get("/missions/:id", func(c *fiber.Ctx) error {
		view, err := missions.GetMission(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	router.Post("/missions/:id/complete", func(c *fiber.Ctx) error {
		var payload services.CompletionPayload
		if err := c.BodyParser(&payload); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON")
		}
		return transition(c, lifecycle, models.AssignmentCompleted, payload)
	})

	router.Post("/missions/:id/discard", func(c *fiber.Ctx) error {
		return transition(c, lifecycle, models.AssignmentDiscarded, services.CompletionPayload{})
	})

	router.Patch("/missions/:id/status", func(c *fiber.Ctx) error {
		var req transitionReq
		if err := bind(c, &req); err != nil {
			return err
		}
		return transition(c, lifecycle, models.AssignmentStatus(req.Status), req.CompletionPayload)
	})
}

func transition(c *fiber.Ctx, lifecycle *services.LifecycleService, target models.AssignmentStatus, payload services.CompletionPayload) error {
	res, err := lifecycle.Transition(c.UserContext(), middleware.UserID(c), c.Params("id"), target, payload)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
