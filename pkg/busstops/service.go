// Package busstops is the bus side of the board: stop discovery around a
// location, direction pairing, cache-first departure boards and progressive
// radius expansion.
package busstops

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/busboard/busboard/pkg/cache"
	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/stopdata"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/busboard/busboard/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/exp/slices"
)

// Up to this many stops per direction group are surfaced.
const stopsPerDirection = 2

// NoStopsFoundError is the user facing "nothing near you" condition. Not
// retried, the dataset will not change mid session.
type NoStopsFoundError struct {
	RadiusMeters float64
}

func (e *NoStopsFoundError) Error() string {
	return fmt.Sprintf("no bus stops found within %.0fm", e.RadiusMeters)
}

func (e *NoStopsFoundError) Permanent() bool { return true }

type DepartureProvider interface {
	DeparturesForStop(ctx context.Context, stop transport.Stop, limit int) ([]transport.Departure, error)
}

// StopFailure records one stop whose fetch failed inside a fan-out.
type StopFailure struct {
	Stop    transport.Stop `json:"stop" groups:"basic"`
	Message string         `json:"message" groups:"basic"`
}

// DirectionBoards is the result of a both-directions fetch. Success is true
// as long as at least one stop produced a board.
type DirectionBoards struct {
	Success         bool                        `json:"success" groups:"basic"`
	Boards          []*transport.DepartureBoard `json:"boards" groups:"basic"`
	PartialFailures []StopFailure               `json:"partialFailures,omitempty" groups:"basic"`
}

type Service struct {
	catalogue *stopdata.Catalogue
	boards    DepartureProvider
	cache     *cache.BoardCache
	search    config.SearchConfig

	now func() time.Time
}

func NewService(catalogue *stopdata.Catalogue, boards DepartureProvider, boardCache *cache.BoardCache, search config.SearchConfig) *Service {
	return &Service{
		catalogue: catalogue,
		boards:    boards,
		cache:     boardCache,
		search:    search,
		now:       time.Now,
	}
}

// FindNearest returns the stops within radiusMeters of the location, nearest
// first, capped at maxResults.
func (s *Service) FindNearest(location transport.Location, radiusMeters float64, maxResults int) ([]transport.NearbyStop, error) {
	var nearby []transport.NearbyStop

	for _, stop := range s.catalogue.All() {
		distance := location.DistanceTo(stop.Location)
		if distance > radiusMeters {
			continue
		}

		nearby = append(nearby, transport.NearbyStop{
			Stop:           stop,
			DistanceMeters: distance,
		})
	}

	if len(nearby) == 0 {
		return nil, &NoStopsFoundError{RadiusMeters: radiusMeters}
	}

	sort.Slice(nearby, func(i, j int) bool {
		return nearby[i].DistanceMeters < nearby[j].DistanceMeters
	})

	if maxResults > 0 && len(nearby) > maxResults {
		nearby = nearby[:maxResults]
	}

	return nearby, nil
}

// SelectDirectionPair picks up to two stops for each direction of the
// corridor. The nearest stop's bearing defines the primary direction, the
// geometric opposite the other. A nearest stop without a bearing groups with
// the other unbearinged stops, and anything differently bearinged serves as
// the opposite side.
func (s *Service) SelectDirectionPair(nearby []transport.NearbyStop) []transport.NearbyStop {
	if len(nearby) == 0 {
		return nil
	}

	primaryBearing := nearby[0].Bearing
	oppositeBearing := transport.OppositeBearing(primaryBearing)

	var primary, opposite, other []transport.NearbyStop
	for _, stop := range nearby {
		switch {
		case stop.Bearing == primaryBearing:
			primary = append(primary, stop)
		case oppositeBearing != "" && stop.Bearing == oppositeBearing:
			opposite = append(opposite, stop)
		default:
			other = append(other, stop)
		}
	}

	// No labelled opposite exists, fall back to any differently bearinged
	// stops so both sides of the road still get a column.
	if len(opposite) == 0 {
		opposite = other
	}

	if len(primary) > stopsPerDirection {
		primary = primary[:stopsPerDirection]
	}
	if len(opposite) > stopsPerDirection {
		opposite = opposite[:stopsPerDirection]
	}

	return append(primary, opposite...)
}

// GetDeparturesForStop never fails. Cache hit wins, otherwise a fresh fetch
// is written through. A fetch failure yields an empty board so one broken
// stop never takes down the whole display.
func (s *Service) GetDeparturesForStop(ctx context.Context, stop transport.Stop) *transport.DepartureBoard {
	if board, ok := s.cache.GetBoard(ctx, stop.ATCOCode); ok {
		return board
	}

	board, err := s.fetchFresh(ctx, stop)
	if err != nil {
		log.Warn().Err(err).Str("stop", stop.ATCOCode).Msg("Departure fetch failed, returning empty board")

		return &transport.DepartureBoard{
			Stop:        stop,
			Departures:  []transport.Departure{},
			LastUpdated: s.now(),
		}
	}

	return board
}

func (s *Service) fetchFresh(ctx context.Context, stop transport.Stop) (*transport.DepartureBoard, error) {
	departures, err := s.boards.DeparturesForStop(ctx, stop, s.search.MaxResults)
	if err != nil {
		return nil, err
	}

	board := &transport.DepartureBoard{
		Stop:        stop,
		Departures:  departures,
		LastUpdated: s.now(),
	}

	s.cache.SetBoard(ctx, board)

	return board, nil
}

// GetBothDirections discovers the direction pair around the location and
// fetches their boards in parallel, serving from cache where possible.
func (s *Service) GetBothDirections(ctx context.Context, location transport.Location) (DirectionBoards, error) {
	return s.bothDirections(ctx, location, false)
}

// RefreshBothDirections bypasses the cache so every board is freshly fetched.
func (s *Service) RefreshBothDirections(ctx context.Context, location transport.Location) (DirectionBoards, error) {
	return s.bothDirections(ctx, location, true)
}

func (s *Service) bothDirections(ctx context.Context, location transport.Location, skipCache bool) (DirectionBoards, error) {
	nearby, err := s.FindNearest(location, s.search.InitialRadiusMeters, s.search.MaxResults)
	if err != nil {
		return DirectionBoards{}, err
	}

	selected := s.SelectDirectionPair(nearby)

	return s.FetchBoards(ctx, selected, skipCache)
}

type stopOutcome struct {
	board   *transport.DepartureBoard
	failure *StopFailure
}

// FetchBoards fans out one fetch per stop. As long as one stop succeeds the
// result is a success with the failed stops attached, only a total wipeout
// becomes an error.
func (s *Service) FetchBoards(ctx context.Context, stops []transport.NearbyStop, skipCache bool) (DirectionBoards, error) {
	p := pool.NewWithResults[stopOutcome]()

	for _, nearbyStop := range stops {
		stop := nearbyStop.Stop

		p.Go(func() stopOutcome {
			if !skipCache {
				if board, ok := s.cache.GetBoard(ctx, stop.ATCOCode); ok {
					return stopOutcome{board: board}
				}
			}

			board, err := s.fetchFresh(ctx, stop)
			if err != nil {
				return stopOutcome{failure: &StopFailure{Stop: stop, Message: err.Error()}}
			}

			return stopOutcome{board: board}
		})
	}

	outcomes := p.Wait()

	result := DirectionBoards{}
	for _, outcome := range outcomes {
		if outcome.failure != nil {
			result.PartialFailures = append(result.PartialFailures, *outcome.failure)
			continue
		}

		result.Boards = append(result.Boards, outcome.board)
	}

	if len(result.Boards) == 0 {
		return DirectionBoards{}, fmt.Errorf("all %d stop fetches failed", len(stops))
	}

	result.Success = true

	return result, nil
}

// GetExpandedStops widens the search radius in fixed steps until stops not
// already on screen appear, or the ceiling is hit. Returns the new stops and
// the radius actually used.
func (s *Service) GetExpandedStops(location transport.Location, excludeIDs []string, currentRadius float64) ([]transport.NearbyStop, float64) {
	// A non-positive increment would never advance the radius. Config
	// validation rejects it, this keeps a hand-built service from spinning.
	if s.search.RadiusIncrementMeters <= 0 {
		return nil, currentRadius
	}

	radius := currentRadius
	for radius < s.search.MaxRadiusMeters {
		radius += s.search.RadiusIncrementMeters
		if radius > s.search.MaxRadiusMeters {
			radius = s.search.MaxRadiusMeters
		}

		nearby, err := s.FindNearest(location, radius, 0)
		if err != nil {
			continue
		}

		var fresh []transport.NearbyStop
		for _, stop := range nearby {
			if !slices.Contains(excludeIDs, stop.ATCOCode) {
				fresh = append(fresh, stop)
			}
		}

		if len(fresh) > 0 {
			return fresh, radius
		}
	}

	return nil, s.search.MaxRadiusMeters
}

// MergeFavourites unions the favourite stops into the nearby set. Favourites
// are always included no matter how far away they are, duplicates keep their
// nearby entry.
func (s *Service) MergeFavourites(location transport.Location, nearby []transport.NearbyStop, favouriteIDs []string) []transport.NearbyStop {
	merged := nearby

	present := map[string]bool{}
	for _, stop := range nearby {
		present[stop.ATCOCode] = true
	}

	for _, id := range util.RemoveDuplicateStrings(favouriteIDs, nil) {
		if present[id] {
			continue
		}

		stop, ok := s.catalogue.Get(id)
		if !ok {
			log.Debug().Str("atco", id).Msg("Favourite stop missing from dataset, dropping")
			continue
		}

		merged = append(merged, transport.NearbyStop{
			Stop:           stop,
			DistanceMeters: location.DistanceTo(stop.Location),
		})
	}

	return merged
}
