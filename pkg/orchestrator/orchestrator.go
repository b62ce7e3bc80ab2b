// Package orchestrator runs the refresh cycle: discover stops around the
// user, fetch bus and rail boards in parallel, fold in favourites and hand a
// single sorted display list to the renderer.
package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/busboard/busboard/pkg/busstops"
	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/rail"
	"github.com/busboard/busboard/pkg/transforms"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// DisplayItem is one row of the rendered board, either a bus stop or a
// station. A failed fetch still produces an item, with the error attached,
// so the renderer can show a placeholder in place.
type DisplayItem struct {
	BusBoard     *transport.DepartureBoard `json:"busBoard,omitempty" groups:"basic"`
	StationBoard *transport.StationBoard   `json:"stationBoard,omitempty" groups:"basic"`

	DistanceMeters float64 `json:"distanceMeters" groups:"basic"`
	IsFavourite    bool    `json:"isFavourite" groups:"basic"`
	Error          string  `json:"error,omitempty" groups:"basic"`
}

type FavouriteSource interface {
	List(ctx context.Context) []string
}

// Session holds the state of one user's board between refresh cycles.
type Session struct {
	buses      *busstops.Service
	trains     *rail.Service
	favourites FavouriteSource
	rules      *transforms.Engine
	search     config.SearchConfig

	mu               sync.Mutex
	location         transport.Location
	radius           float64
	maxRadiusReached bool
	shownStopIDs     []string
	display          []DisplayItem
}

func NewSession(buses *busstops.Service, trains *rail.Service, favourites FavouriteSource, rules *transforms.Engine, search config.SearchConfig, location transport.Location) *Session {
	return &Session{
		buses:      buses,
		trains:     trains,
		favourites: favourites,
		rules:      rules,
		search:     search,
		location:   location,
		radius:     search.InitialRadiusMeters,
	}
}

// SetLocation moves the session and resets the progressive search.
func (s *Session) SetLocation(location transport.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.location = location
	s.radius = s.search.InitialRadiusMeters
	s.maxRadiusReached = false
	s.shownStopIDs = nil
}

// Update runs a refresh cycle, serving boards from cache where they are
// still warm.
func (s *Session) Update(ctx context.Context) ([]DisplayItem, error) {
	return s.cycle(ctx, false)
}

// Refresh runs a cycle with every board fetched fresh.
func (s *Session) Refresh(ctx context.Context) ([]DisplayItem, error) {
	return s.cycle(ctx, true)
}

func (s *Session) cycle(ctx context.Context, skipCache bool) ([]DisplayItem, error) {
	s.mu.Lock()
	location := s.location
	radius := s.radius
	s.mu.Unlock()

	favouriteIDs := s.favourites.List(ctx)
	favouriteSet := map[string]bool{}
	for _, id := range favouriteIDs {
		favouriteSet[id] = true
	}

	var (
		busItems   []DisplayItem
		busStopIDs []string
		busErr     error

		railItems []DisplayItem
	)

	p := pool.New()
	p.Go(func() {
		busItems, busStopIDs, busErr = s.busCycle(ctx, location, radius, favouriteIDs, favouriteSet, skipCache)
	})
	p.Go(func() {
		railItems = s.railCycle(ctx, location, skipCache)
	})
	p.Wait()

	if busErr != nil {
		if len(railItems) == 0 {
			return nil, busErr
		}

		// Trains alone still make a board.
		log.Warn().Err(busErr).Msg("Bus side of the refresh failed")
	}

	items := append(busItems, railItems...)
	sortDisplay(items, s.search.NearbyPriorityMeters)

	s.mu.Lock()
	s.shownStopIDs = busStopIDs
	s.display = items
	s.mu.Unlock()

	return items, nil
}

func (s *Session) busCycle(ctx context.Context, location transport.Location, radius float64, favouriteIDs []string, favouriteSet map[string]bool, skipCache bool) ([]DisplayItem, []string, error) {
	nearby, err := s.buses.FindNearest(location, radius, s.search.MaxResults)
	if err != nil {
		// Favourites are still worth showing even with nothing nearby.
		nearby = nil
	}

	selected := s.buses.SelectDirectionPair(nearby)
	merged := s.buses.MergeFavourites(location, selected, favouriteIDs)
	if len(merged) == 0 {
		return nil, nil, err
	}

	result, err := s.buses.FetchBoards(ctx, merged, skipCache)
	if err != nil {
		return nil, nil, err
	}

	distances := map[string]float64{}
	var stopIDs []string
	for _, stop := range merged {
		distances[stop.ATCOCode] = stop.DistanceMeters
		stopIDs = append(stopIDs, stop.ATCOCode)
	}

	var items []DisplayItem
	for _, board := range result.Boards {
		s.rules.ApplyBoard(board)

		items = append(items, DisplayItem{
			BusBoard:       board,
			DistanceMeters: distances[board.Stop.ATCOCode],
			IsFavourite:    favouriteSet[board.Stop.ATCOCode],
		})
	}

	for _, failure := range result.PartialFailures {
		items = append(items, DisplayItem{
			BusBoard: &transport.DepartureBoard{
				Stop:       failure.Stop,
				Departures: []transport.Departure{},
			},
			DistanceMeters: distances[failure.Stop.ATCOCode],
			IsFavourite:    favouriteSet[failure.Stop.ATCOCode],
			Error:          failure.Message,
		})
	}

	return items, stopIDs, nil
}

func (s *Session) railCycle(ctx context.Context, location transport.Location, skipCache bool) []DisplayItem {
	var results []rail.StationResult
	if skipCache {
		results = s.trains.RefreshDeparturesForAllStations(ctx)
	} else {
		results = s.trains.GetDeparturesForAllStations(ctx)
	}

	var items []DisplayItem
	for _, result := range results {
		items = append(items, DisplayItem{
			StationBoard:   result.Board,
			DistanceMeters: location.DistanceTo(result.Board.Station.Location),
			Error:          result.Error,
		})
	}

	return items
}

// ExpandSearch widens the radius until unseen stops appear, fetches their
// boards and appends them to the display. Reports whether anything new was
// found.
func (s *Session) ExpandSearch(ctx context.Context) ([]DisplayItem, bool, error) {
	s.mu.Lock()
	location := s.location
	radius := s.radius
	shown := append([]string{}, s.shownStopIDs...)
	s.mu.Unlock()

	fresh, actualRadius := s.buses.GetExpandedStops(location, shown, radius)

	s.mu.Lock()
	s.radius = actualRadius
	s.maxRadiusReached = actualRadius >= s.search.MaxRadiusMeters
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil, false, nil
	}

	result, err := s.buses.FetchBoards(ctx, fresh, false)
	if err != nil {
		return nil, false, err
	}

	var items []DisplayItem
	for _, board := range result.Boards {
		s.rules.ApplyBoard(board)

		items = append(items, DisplayItem{
			BusBoard:       board,
			DistanceMeters: location.DistanceTo(board.Stop.Location),
		})
	}

	s.mu.Lock()
	for _, stop := range fresh {
		s.shownStopIDs = append(s.shownStopIDs, stop.ATCOCode)
	}
	s.display = append(s.display, items...)
	s.mu.Unlock()

	return items, true, nil
}

func (s *Session) MaxRadiusReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxRadiusReached
}

func (s *Session) RadiusMeters() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.radius
}

func (s *Session) Display() []DisplayItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]DisplayItem{}, s.display...)
}

// sortDisplay orders items by distance, with favourites boosted. Anything
// inside the nearby priority radius sorts purely on distance, a favourite
// only outranks non-favourites further out than that.
func sortDisplay(items []DisplayItem, nearbyPriorityMeters float64) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]

		aNear := a.DistanceMeters <= nearbyPriorityMeters
		bNear := b.DistanceMeters <= nearbyPriorityMeters

		if aNear != bNear {
			return aNear
		}

		if !aNear && a.IsFavourite != b.IsFavourite {
			return a.IsFavourite
		}

		return a.DistanceMeters < b.DistanceMeters
	})
}
