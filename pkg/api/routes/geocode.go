package routes

import (
	"errors"
	"strconv"

	"github.com/busboard/busboard/pkg/geocode"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/gofiber/fiber/v2"
)

func GeocodeRouter(router fiber.Router, client *geocode.Client) {
	router.Get("/", func(c *fiber.Ctx) error {
		postcode := c.Query("postcode")
		if postcode == "" {
			c.SendStatus(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{
				"error": "Parameter postcode is required",
			})
		}

		result, err := client.Geocode(c.Context(), postcode)
		if err != nil {
			return renderGeocodeError(c, err)
		}

		return c.JSON(fiber.Map{
			"postcode":  result.NormalizedText,
			"latitude":  result.Coordinates.Latitude,
			"longitude": result.Coordinates.Longitude,
		})
	})

	router.Get("/reverse", func(c *fiber.Ctx) error {
		latitude, latErr := strconv.ParseFloat(c.Query("lat"), 64)
		longitude, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
		if latErr != nil || lonErr != nil {
			c.SendStatus(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{
				"error": "Parameters lat and lon should be numbers",
			})
		}

		location := transport.Location{Latitude: latitude, Longitude: longitude}
		if !location.Valid() {
			c.SendStatus(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{
				"error": "Coordinates out of range",
			})
		}

		postcode, err := client.ReverseGeocode(c.Context(), location)
		if err != nil {
			return renderGeocodeError(c, err)
		}

		return c.JSON(fiber.Map{
			"postcode": postcode,
		})
	})
}

func renderGeocodeError(c *fiber.Ctx, err error) error {
	var notFound *geocode.NotFoundError
	if errors.As(err, &notFound) {
		c.SendStatus(fiber.StatusNotFound)
	} else {
		c.SendStatus(fiber.StatusBadGateway)
	}

	return c.JSON(fiber.Map{
		"error": err.Error(),
	})
}
