// Package app wires the whole stack together from configuration. Both the
// API server and the one-shot board command build the same App.
package app

import (
	"github.com/busboard/busboard/pkg/busstops"
	"github.com/busboard/busboard/pkg/cache"
	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/departures"
	"github.com/busboard/busboard/pkg/eta"
	"github.com/busboard/busboard/pkg/favourites"
	"github.com/busboard/busboard/pkg/geocode"
	"github.com/busboard/busboard/pkg/orchestrator"
	"github.com/busboard/busboard/pkg/rail"
	"github.com/busboard/busboard/pkg/redis_client"
	"github.com/busboard/busboard/pkg/resilience"
	"github.com/busboard/busboard/pkg/siri"
	"github.com/busboard/busboard/pkg/stopdata"
	"github.com/busboard/busboard/pkg/timetable"
	"github.com/busboard/busboard/pkg/transforms"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/rs/zerolog/log"
)

type App struct {
	Config config.Config

	Catalogue  *stopdata.Catalogue
	Buses      *busstops.Service
	Trains     *rail.Service
	Favourites *favourites.Store
	Geocoder   *geocode.Client
	Rules      *transforms.Engine
	Session    *orchestrator.Session
}

// Build connects shared infrastructure and assembles every service. The
// session starts at the configured town centre.
func Build(cfg config.Config) (*App, error) {
	if err := redis_client.Connect(cfg.Redis); err != nil {
		// The cache and favourites fail open, the board still works
		// without a store.
		log.Warn().Err(err).Msg("Redis is unreachable, continuing without a store")
	}

	resilience.SetupThrottle(resilience.ThrottleOptions{
		MaxConcurrent:       cfg.Resilience.MaxConcurrent,
		EnableDeduplication: cfg.Resilience.EnableDeduplication,
	})
	for endpoint, settings := range cfg.Resilience.Endpoints {
		resilience.ConfigureBreaker(endpoint, resilience.BreakerSettings{
			FailureThreshold: settings.FailureThreshold,
			SuccessThreshold: settings.SuccessThreshold,
			ResetTimeout:     settings.ResetTimeout,
		})
	}

	catalogue, err := stopdata.Load()
	if err != nil {
		return nil, err
	}

	rules, err := transforms.Setup(cfg.DisplayRules)
	if err != nil {
		return nil, err
	}

	boardCache := cache.Setup(cfg.Cache.DepartureTTL)

	calculator := eta.NewCalculator(
		timetable.NewService(cfg.Feeds.Timetable, cfg.Cache.TimetableTTL),
		siri.NewClient(cfg.Feeds.VehiclePositions),
	)

	chain := departures.NewChain(
		departures.NewOperatorFeedSource(cfg.Feeds.OperatorFeed),
		departures.NewLocalSource(calculator),
	)

	buses := busstops.NewService(catalogue, chain, boardCache, cfg.Search)
	trains := rail.NewService(rail.NewGateway(cfg.Feeds.RailGateway), boardCache, cfg.Town, cfg.Search.MaxResults)
	favouriteStore := favourites.Setup()

	centre := transport.Location{
		Latitude:  cfg.Town.CentreLatitude,
		Longitude: cfg.Town.CentreLongitude,
	}

	return &App{
		Config:     cfg,
		Catalogue:  catalogue,
		Buses:      buses,
		Trains:     trains,
		Favourites: favouriteStore,
		Geocoder:   geocode.NewClient(cfg.Feeds.Geocoder),
		Rules:      rules,
		Session:    orchestrator.NewSession(buses, trains, favouriteStore, rules, cfg.Search, centre),
	}, nil
}
