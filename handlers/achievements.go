package handlers

import (
	"github.com/gofiber/fiber/v2"

	"travel-missions/middleware"
	"travel-missions/services"
)

// SetupProgressionRoutes registers achievements and the progress summary.
func SetupProgressionRoutes(router fiber.Router, achievements *services.AchievementService, progress *services.ProgressService) {
	router.Get("/achievements", func(c *fiber.Ctx) error {
		list, err := achievements.ListAchievements(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"achievements": list})
	})

	router.Post("/achievements/evaluate", func(c *fiber.Ctx) error {
		res, err := achievements.Evaluate(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(res)
	})

	router.Get("/user/progress", func(c *fiber.Ctx) error {
		p, err := progress.GetProgress(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(p)
	})
}
