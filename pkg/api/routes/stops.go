package routes

import (
	"errors"
	"strconv"

	"github.com/busboard/busboard/pkg/busstops"
	"github.com/busboard/busboard/pkg/geocode"
	"github.com/busboard/busboard/pkg/stopdata"
	"github.com/busboard/busboard/pkg/transforms"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/gofiber/fiber/v2"
)

type StopsDependencies struct {
	Buses     *busstops.Service
	Catalogue *stopdata.Catalogue
	Geocoder  *geocode.Client
	Rules     *transforms.Engine

	DefaultRadiusMeters float64
}

func StopsRouter(router fiber.Router, deps StopsDependencies) {
	router.Get("/nearby", deps.nearbyStops)
	router.Get("/:identifier", deps.getStop)
	router.Get("/:identifier/departures", deps.getStopDepartures)
}

// nearbyStops finds stops around either a lat/lon pair or a postcode.
func (deps StopsDependencies) nearbyStops(c *fiber.Ctx) error {
	location, err := deps.resolveLocation(c)
	if err != nil {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	radius := deps.DefaultRadiusMeters
	if radiusQuery := c.Query("radius"); radiusQuery != "" {
		radius, err = strconv.ParseFloat(radiusQuery, 64)
		if err != nil {
			c.SendStatus(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{
				"error": "Parameter radius should be a number",
			})
		}
	}

	nearby, err := deps.Buses.FindNearest(location, radius, 0)
	if err != nil {
		var notFound *busstops.NoStopsFoundError
		if errors.As(err, &notFound) {
			c.SendStatus(fiber.StatusNotFound)
		} else {
			c.SendStatus(fiber.StatusInternalServerError)
		}

		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return renderBasic(c, nearby)
}

func (deps StopsDependencies) resolveLocation(c *fiber.Ctx) (transport.Location, error) {
	if postcode := c.Query("postcode"); postcode != "" {
		result, err := deps.Geocoder.Geocode(c.Context(), postcode)
		if err != nil {
			return transport.Location{}, err
		}

		return result.Coordinates, nil
	}

	latitude, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	longitude, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
	if latErr != nil || lonErr != nil {
		return transport.Location{}, errors.New("provide either a postcode or a lat/lon pair")
	}

	location := transport.Location{Latitude: latitude, Longitude: longitude}
	if !location.Valid() {
		return transport.Location{}, errors.New("coordinates out of range")
	}

	return location, nil
}

func (deps StopsDependencies) getStop(c *fiber.Ctx) error {
	stop, ok := deps.Catalogue.Get(c.Params("identifier"))
	if !ok {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "Could not find Stop matching Stop Identifier",
		})
	}

	return renderBasic(c, stop)
}

func (deps StopsDependencies) getStopDepartures(c *fiber.Ctx) error {
	stop, ok := deps.Catalogue.Get(c.Params("identifier"))
	if !ok {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "Could not find Stop matching Stop Identifier",
		})
	}

	board := deps.Buses.GetDeparturesForStop(c.Context(), stop)
	if deps.Rules != nil {
		deps.Rules.ApplyBoard(board)
	}

	return renderBasic(c, board)
}
