package routes

import (
	"github.com/busboard/busboard/pkg/orchestrator"
	"github.com/gofiber/fiber/v2"
)

func BoardsRouter(router fiber.Router, session *orchestrator.Session) {
	router.Get("/", func(c *fiber.Ctx) error {
		items, err := session.Update(c.Context())
		if err != nil {
			c.SendStatus(fiber.StatusBadGateway)
			return c.JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return renderBasic(c, items)
	})

	router.Post("/refresh", func(c *fiber.Ctx) error {
		items, err := session.Refresh(c.Context())
		if err != nil {
			c.SendStatus(fiber.StatusBadGateway)
			return c.JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return renderBasic(c, items)
	})

	router.Post("/expand", func(c *fiber.Ctx) error {
		items, found, err := session.ExpandSearch(c.Context())
		if err != nil {
			c.SendStatus(fiber.StatusBadGateway)
			return c.JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		response := fiber.Map{
			"found":            found,
			"radiusMeters":     session.RadiusMeters(),
			"maxRadiusReached": session.MaxRadiusReached(),
		}

		if found {
			reduced, renderErr := reduceBasic(items)
			if renderErr != nil {
				c.SendStatus(fiber.StatusInternalServerError)
				return c.JSON(fiber.Map{
					"error": "Could not marshal response",
				})
			}
			response["items"] = reduced
		}

		return c.JSON(response)
	})
}
