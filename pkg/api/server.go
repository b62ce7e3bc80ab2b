package api

import (
	"github.com/busboard/busboard/pkg/api/routes"
	"github.com/busboard/busboard/pkg/app"
	"github.com/gofiber/fiber/v2"
)

func SetupServer(listen string, application *app.App) error {
	webApp := fiber.New()
	webApp.Use(NewLogger())

	group := webApp.Group("/core")

	group.Get("version", routes.APIVersion)

	routes.BoardsRouter(group.Group("/boards"), application.Session)

	routes.StopsRouter(group.Group("/stops"), routes.StopsDependencies{
		Buses:               application.Buses,
		Catalogue:           application.Catalogue,
		Geocoder:            application.Geocoder,
		Rules:               application.Rules,
		DefaultRadiusMeters: application.Config.Search.InitialRadiusMeters,
	})

	routes.StationsRouter(group.Group("/stations"), application.Trains)

	routes.GeocodeRouter(group.Group("/geocode"), application.Geocoder)

	routes.FavouritesRouter(group.Group("/favourites"), routes.FavouritesDependencies{
		Store:     application.Favourites,
		Catalogue: application.Catalogue,
	})

	routes.StatusRouter(group.Group("/status"))

	return webApp.Listen(listen)
}
