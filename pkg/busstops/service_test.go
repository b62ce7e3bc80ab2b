package busstops

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/busboard/busboard/pkg/cache"
	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/stopdata"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// townCentre matches the default configuration.
var townCentre = transport.Location{Latitude: 51.7361, Longitude: 0.4690}

// Four stops on the same corridor, two per direction, all inside 1000m of the
// centre. A fifth sits roughly 1.6km out.
func testStops() []transport.Stop {
	return []transport.Stop{
		{ATCOCode: "1500IM52", Name: "Bus Station", Bearing: "N", Location: transport.Location{Latitude: 51.7370, Longitude: 0.4690}},
		{ATCOCode: "1500IM53", Name: "High Street", Bearing: "N", Location: transport.Location{Latitude: 51.7385, Longitude: 0.4692}},
		{ATCOCode: "1500IM54", Name: "Bus Station", Bearing: "S", Location: transport.Location{Latitude: 51.7368, Longitude: 0.4688}},
		{ATCOCode: "1500IM55", Name: "High Street", Bearing: "S", Location: transport.Location{Latitude: 51.7383, Longitude: 0.4694}},
		{ATCOCode: "1500IM99", Name: "Retail Park", Bearing: "E", Location: transport.Location{Latitude: 51.7500, Longitude: 0.4690}},
	}
}

type memStore struct {
	mu      sync.Mutex
	entries map[string]string
	failing bool
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]string{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return "", errors.New("store offline")
	}

	value, ok := m.entries[key]
	if !ok {
		return "", errors.New("value not found")
	}

	return value, nil
}

func (m *memStore) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return errors.New("store offline")
	}
	m.entries[key] = value

	return nil
}

func (m *memStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = map[string]string{}

	return nil
}

type fakeProvider struct {
	mu      sync.Mutex
	rows    []transport.Departure
	failFor map[string]bool
	calls   map[string]int
}

func newFakeProvider(rows []transport.Departure) *fakeProvider {
	return &fakeProvider{
		rows:    rows,
		failFor: map[string]bool{},
		calls:   map[string]int{},
	}
}

func (f *fakeProvider) DeparturesForStop(_ context.Context, stop transport.Stop, _ int) ([]transport.Departure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[stop.ATCOCode]++
	if f.failFor[stop.ATCOCode] {
		return nil, errors.New("feed unreachable")
	}

	return f.rows, nil
}

func newTestService(provider *fakeProvider) *Service {
	return NewService(
		stopdata.NewCatalogue(testStops()),
		provider,
		cache.NewWithStore(newMemStore()),
		config.SearchConfig{
			InitialRadiusMeters:   1000,
			RadiusIncrementMeters: 250,
			MaxRadiusMeters:       2000,
			NearbyPriorityMeters:  300,
			MaxResults:            10,
		},
	)
}

func TestFindNearestSortedWithinRadius(t *testing.T) {
	service := newTestService(newFakeProvider(nil))

	nearby, err := service.FindNearest(townCentre, 1000, 10)
	require.NoError(t, err)
	require.Len(t, nearby, 4, "the retail park stop is outside the radius")

	for i, stop := range nearby {
		assert.LessOrEqual(t, stop.DistanceMeters, 1000.0)
		if i > 0 {
			assert.GreaterOrEqual(t, stop.DistanceMeters, nearby[i-1].DistanceMeters)
		}
	}
}

func TestFindNearestNoneInRadius(t *testing.T) {
	service := newTestService(newFakeProvider(nil))

	_, err := service.FindNearest(transport.Location{Latitude: 50.0, Longitude: -5.0}, 1000, 10)

	var notFound *NoStopsFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, notFound.Permanent())
}

func TestSelectDirectionPairGroupsOpposites(t *testing.T) {
	service := newTestService(newFakeProvider(nil))

	nearby, err := service.FindNearest(townCentre, 1000, 10)
	require.NoError(t, err)

	selected := service.SelectDirectionPair(nearby)
	require.Len(t, selected, 4)

	bearings := map[string]int{}
	for _, stop := range selected {
		bearings[stop.Bearing]++
	}
	assert.Equal(t, 2, bearings["N"])
	assert.Equal(t, 2, bearings["S"])
}

func TestSelectDirectionPairCapsEachGroup(t *testing.T) {
	service := newTestService(newFakeProvider(nil))

	nearby := []transport.NearbyStop{
		{Stop: transport.Stop{ATCOCode: "a", Bearing: "N"}, DistanceMeters: 10},
		{Stop: transport.Stop{ATCOCode: "b", Bearing: "N"}, DistanceMeters: 20},
		{Stop: transport.Stop{ATCOCode: "c", Bearing: "N"}, DistanceMeters: 30},
		{Stop: transport.Stop{ATCOCode: "d", Bearing: "S"}, DistanceMeters: 40},
	}

	selected := service.SelectDirectionPair(nearby)
	require.Len(t, selected, 3)
	assert.Equal(t, "a", selected[0].ATCOCode)
	assert.Equal(t, "b", selected[1].ATCOCode)
	assert.Equal(t, "d", selected[2].ATCOCode)
}

func TestSelectDirectionPairFallsBackWithoutLabelledOpposite(t *testing.T) {
	service := newTestService(newFakeProvider(nil))

	nearby := []transport.NearbyStop{
		{Stop: transport.Stop{ATCOCode: "a", Bearing: "N"}, DistanceMeters: 10},
		{Stop: transport.Stop{ATCOCode: "b", Bearing: "E"}, DistanceMeters: 20},
	}

	selected := service.SelectDirectionPair(nearby)
	require.Len(t, selected, 2)
	assert.Equal(t, "b", selected[1].ATCOCode, "a differently bearinged stop stands in for the opposite side")
}

func TestSelectDirectionPairWithUnbearingedNearest(t *testing.T) {
	service := newTestService(newFakeProvider(nil))

	nearby := []transport.NearbyStop{
		{Stop: transport.Stop{ATCOCode: "a", Bearing: ""}, DistanceMeters: 10},
		{Stop: transport.Stop{ATCOCode: "b", Bearing: ""}, DistanceMeters: 20},
		{Stop: transport.Stop{ATCOCode: "c", Bearing: "N"}, DistanceMeters: 30},
	}

	selected := service.SelectDirectionPair(nearby)
	require.Len(t, selected, 3)
	assert.Equal(t, "", selected[0].Bearing)
	assert.Equal(t, "", selected[1].Bearing)
	assert.Equal(t, "N", selected[2].Bearing)
}

func TestGetDeparturesForStopWritesThrough(t *testing.T) {
	provider := newFakeProvider([]transport.Departure{{Line: "42", MinutesUntil: 5}})
	service := newTestService(provider)
	stop := testStops()[0]

	board := service.GetDeparturesForStop(context.Background(), stop)
	require.Len(t, board.Departures, 1)
	assert.False(t, board.IsStale)

	// Second read comes from the cache, marked stale, without a new fetch.
	board = service.GetDeparturesForStop(context.Background(), stop)
	assert.True(t, board.IsStale)
	assert.Equal(t, 1, provider.calls[stop.ATCOCode])
}

func TestGetDeparturesForStopNeverFails(t *testing.T) {
	provider := newFakeProvider(nil)
	provider.failFor["1500IM52"] = true
	service := newTestService(provider)

	board := service.GetDeparturesForStop(context.Background(), testStops()[0])
	require.NotNil(t, board)
	assert.Empty(t, board.Departures)
}

func TestGetBothDirectionsPartialSuccess(t *testing.T) {
	provider := newFakeProvider([]transport.Departure{{Line: "42", MinutesUntil: 3}})
	provider.failFor["1500IM53"] = true
	service := newTestService(provider)

	result, err := service.GetBothDirections(context.Background(), townCentre)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Len(t, result.Boards, 3)
	require.Len(t, result.PartialFailures, 1)
	assert.Equal(t, "1500IM53", result.PartialFailures[0].Stop.ATCOCode)
}

func TestGetBothDirectionsTotalFailure(t *testing.T) {
	provider := newFakeProvider(nil)
	for _, stop := range testStops() {
		provider.failFor[stop.ATCOCode] = true
	}
	service := newTestService(provider)

	_, err := service.GetBothDirections(context.Background(), townCentre)
	assert.Error(t, err)
}

func TestRefreshBothDirectionsBypassesCache(t *testing.T) {
	provider := newFakeProvider([]transport.Departure{{Line: "42"}})
	service := newTestService(provider)

	_, err := service.GetBothDirections(context.Background(), townCentre)
	require.NoError(t, err)

	_, err = service.RefreshBothDirections(context.Background(), townCentre)
	require.NoError(t, err)

	// Each of the four selected stops was fetched twice.
	for _, stop := range testStops()[:4] {
		assert.Equal(t, 2, provider.calls[stop.ATCOCode], stop.ATCOCode)
	}
}

func TestGetExpandedStopsFindsNewStops(t *testing.T) {
	service := newTestService(newFakeProvider(nil))

	exclude := []string{"1500IM52", "1500IM53", "1500IM54", "1500IM55"}

	fresh, radius := service.GetExpandedStops(townCentre, exclude, 1000)
	require.Len(t, fresh, 1)
	assert.Equal(t, "1500IM99", fresh[0].ATCOCode)
	assert.Greater(t, radius, 1000.0)
	assert.LessOrEqual(t, radius, 2000.0)
}

func TestGetExpandedStopsHitsCeiling(t *testing.T) {
	service := newTestService(newFakeProvider(nil))

	var exclude []string
	for _, stop := range testStops() {
		exclude = append(exclude, stop.ATCOCode)
	}

	fresh, radius := service.GetExpandedStops(townCentre, exclude, 1000)
	assert.Empty(t, fresh)
	assert.Equal(t, 2000.0, radius)
}

// An increment that cannot advance the radius must return instead of looping.
func TestGetExpandedStopsTerminatesWithBrokenIncrement(t *testing.T) {
	service := NewService(
		stopdata.NewCatalogue(testStops()),
		newFakeProvider(nil),
		cache.NewWithStore(newMemStore()),
		config.SearchConfig{
			InitialRadiusMeters:   500,
			RadiusIncrementMeters: 0,
			MaxRadiusMeters:       2000,
			MaxResults:            10,
		},
	)

	fresh, radius := service.GetExpandedStops(townCentre, []string{"1500IM52", "1500IM53", "1500IM54", "1500IM55"}, 500)
	assert.Empty(t, fresh)
	assert.Equal(t, 500.0, radius)
}

func TestMergeFavouritesUnionsAndDedupes(t *testing.T) {
	service := newTestService(newFakeProvider(nil))

	nearby, err := service.FindNearest(townCentre, 1000, 10)
	require.NoError(t, err)

	merged := service.MergeFavourites(townCentre, nearby, []string{"1500IM99", "1500IM99", "1500IM52", "missing"})
	require.Len(t, merged, 5, "the distant favourite joins, the nearby one keeps its entry")

	last := merged[len(merged)-1]
	assert.Equal(t, "1500IM99", last.ATCOCode)
	assert.Greater(t, last.DistanceMeters, 1000.0)
}
