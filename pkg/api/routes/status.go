package routes

import (
	"github.com/busboard/busboard/pkg/resilience"
	"github.com/gofiber/fiber/v2"
)

// StatusRouter exposes the resilience internals for diagnostics. Not part of
// the normal data path.
func StatusRouter(router fiber.Router) {
	router.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"breakers": resilience.BreakerStatuses(),
			"throttle": resilience.GlobalThrottle().Status(),
		})
	})

	router.Post("/reset", func(c *fiber.Ctx) error {
		resilience.ResetBreakers()

		return c.JSON(fiber.Map{
			"breakers": resilience.BreakerStatuses(),
		})
	})
}
