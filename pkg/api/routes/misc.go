package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
)

func APIVersion(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version": "v1.0",
	})
}

func reduceBasic(data interface{}) (interface{}, error) {
	return sheriff.Marshal(&sheriff.Options{
		Groups: []string{"basic"},
	}, data)
}

// renderBasic marshals the response through the "basic" field group so
// internal-only fields never leak out of the API.
func renderBasic(c *fiber.Ctx, data interface{}) error {
	reduced, err := reduceBasic(data)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Could not marshal response",
		})
	}

	return c.JSON(reduced)
}
