package rail

import (
	"context"
	"time"

	"github.com/busboard/busboard/pkg/cache"
	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

type DepartureFetcher interface {
	FetchDepartures(ctx context.Context, crs string, limit int) ([]transport.TrainDeparture, error)
}

// StationResult is one station's outcome in a fan-out. Error carries the
// user facing message when the fetch failed, the board is present either way.
type StationResult struct {
	Board *transport.StationBoard `json:"board" groups:"basic"`
	Error string                  `json:"error,omitempty" groups:"basic"`
}

// Service serves station boards for the fixed station set, cache-first with
// write-through, mirroring the bus side.
type Service struct {
	gateway  DepartureFetcher
	cache    *cache.BoardCache
	stations []transport.Station
	limit    int

	now func() time.Time
}

func NewService(gateway DepartureFetcher, boardCache *cache.BoardCache, cfg config.TownConfig, limit int) *Service {
	var stations []transport.Station
	for _, station := range cfg.Stations {
		stations = append(stations, transport.Station{
			Name: station.Name,
			CRS:  station.CRS,
			Location: transport.Location{
				Latitude:  station.Latitude,
				Longitude: station.Longitude,
			},
		})
	}

	return &Service{
		gateway:  gateway,
		cache:    boardCache,
		stations: stations,
		limit:    limit,
		now:      time.Now,
	}
}

func (s *Service) Stations() []transport.Station {
	return s.stations
}

// GetDeparturesForStation never fails. Cache hit wins, a fetch failure
// yields an empty board with the error attached.
func (s *Service) GetDeparturesForStation(ctx context.Context, station transport.Station) StationResult {
	if board, ok := s.cache.GetStationBoard(ctx, station.CRS); ok {
		return StationResult{Board: board}
	}

	return s.fetchFresh(ctx, station)
}

func (s *Service) fetchFresh(ctx context.Context, station transport.Station) StationResult {
	departures, err := s.gateway.FetchDepartures(ctx, station.CRS, s.limit)
	if err != nil {
		log.Warn().Err(err).Str("station", station.CRS).Msg("Rail departure fetch failed")

		return StationResult{
			Board: &transport.StationBoard{
				Station:     station,
				Departures:  []transport.TrainDeparture{},
				LastUpdated: s.now(),
			},
			Error: err.Error(),
		}
	}

	board := &transport.StationBoard{
		Station:     station,
		Departures:  departures,
		LastUpdated: s.now(),
	}

	s.cache.SetStationBoard(ctx, board)

	return StationResult{Board: board}
}

// GetDeparturesForAllStations fans out one fetch per station. Each station
// succeeds or fails on its own, a broken gateway response for one never
// hides the other.
func (s *Service) GetDeparturesForAllStations(ctx context.Context) []StationResult {
	return s.allStations(ctx, false)
}

// RefreshDeparturesForAllStations bypasses the cache for every station.
func (s *Service) RefreshDeparturesForAllStations(ctx context.Context) []StationResult {
	return s.allStations(ctx, true)
}

func (s *Service) allStations(ctx context.Context, skipCache bool) []StationResult {
	p := pool.NewWithResults[StationResult]()

	for _, station := range s.stations {
		station := station

		p.Go(func() StationResult {
			if !skipCache {
				return s.GetDeparturesForStation(ctx, station)
			}

			return s.fetchFresh(ctx, station)
		})
	}

	return p.Wait()
}
