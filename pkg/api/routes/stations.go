package routes

import (
	"github.com/busboard/busboard/pkg/rail"
	"github.com/gofiber/fiber/v2"
)

func StationsRouter(router fiber.Router, trains *rail.Service) {
	router.Get("/", func(c *fiber.Ctx) error {
		return renderBasic(c, trains.Stations())
	})

	router.Get("/departures", func(c *fiber.Ctx) error {
		return renderBasic(c, trains.GetDeparturesForAllStations(c.Context()))
	})

	router.Post("/departures/refresh", func(c *fiber.Ctx) error {
		return renderBasic(c, trains.RefreshDeparturesForAllStations(c.Context()))
	})
}
