package routes

import (
	"github.com/busboard/busboard/pkg/favourites"
	"github.com/busboard/busboard/pkg/stopdata"
	"github.com/gofiber/fiber/v2"
)

type FavouritesDependencies struct {
	Store     *favourites.Store
	Catalogue *stopdata.Catalogue
}

func FavouritesRouter(router fiber.Router, deps FavouritesDependencies) {
	router.Get("/", deps.listFavourites)
	router.Post("/:identifier", deps.addFavourite)
	router.Delete("/:identifier", deps.removeFavourite)
}

func (deps FavouritesDependencies) listFavourites(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"favourites": deps.Store.List(c.Context()),
	})
}

func (deps FavouritesDependencies) addFavourite(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	if _, ok := deps.Catalogue.Get(identifier); !ok {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "Could not find Stop matching Stop Identifier",
		})
	}

	if err := deps.Store.Add(c.Context(), identifier); err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Could not save favourite",
		})
	}

	return c.JSON(fiber.Map{
		"favourites": deps.Store.List(c.Context()),
	})
}

func (deps FavouritesDependencies) removeFavourite(c *fiber.Ctx) error {
	if err := deps.Store.Remove(c.Context(), c.Params("identifier")); err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Could not remove favourite",
		})
	}

	return c.JSON(fiber.Map{
		"favourites": deps.Store.List(c.Context()),
	})
}
