package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/busboard/busboard/pkg/busstops"
	"github.com/busboard/busboard/pkg/cache"
	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/rail"
	"github.com/busboard/busboard/pkg/stopdata"
	"github.com/busboard/busboard/pkg/transforms"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var townCentre = transport.Location{Latitude: 51.7361, Longitude: 0.4690}

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
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]string{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.entries[key]
	if !ok {
		return "", errors.New("value not found")
	}

	return value, nil
}

func (m *memStore) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

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
}

func (f *fakeProvider) DeparturesForStop(_ context.Context, stop transport.Stop, _ int) ([]transport.Departure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFor[stop.ATCOCode] {
		return nil, errors.New("feed unreachable")
	}

	return f.rows, nil
}

type fakeFetcher struct {
	failFor map[string]bool
}

func (f *fakeFetcher) FetchDepartures(_ context.Context, crs string, _ int) ([]transport.TrainDeparture, error) {
	if f.failFor[crs] {
		return nil, errors.New("gateway timeout")
	}

	return []transport.TrainDeparture{{Destination: "London Liverpool Street", MinutesUntil: 10}}, nil
}

type fakeFavourites struct {
	ids []string
}

func (f *fakeFavourites) List(_ context.Context) []string {
	return f.ids
}

func searchConfig() config.SearchConfig {
	return config.SearchConfig{
		InitialRadiusMeters:   1000,
		RadiusIncrementMeters: 250,
		MaxRadiusMeters:       2000,
		NearbyPriorityMeters:  300,
		MaxResults:            10,
	}
}

func townConfig() config.TownConfig {
	return config.TownConfig{
		Name: "Chelmsford",
		Stations: []config.StationConfig{
			{Name: "Chelmsford", CRS: "CHM", Latitude: 51.7363, Longitude: 0.4685},
			{Name: "Ingatestone", CRS: "INT", Latitude: 51.6693, Longitude: 0.3845},
		},
	}
}

func newTestSession(t *testing.T, provider *fakeProvider, fetcher *fakeFetcher, favourites *fakeFavourites) *Session {
	t.Helper()

	buses := busstops.NewService(
		stopdata.NewCatalogue(testStops()),
		provider,
		cache.NewWithStore(newMemStore()),
		searchConfig(),
	)
	trains := rail.NewService(fetcher, cache.NewWithStore(newMemStore()), townConfig(), 10)

	rules, err := transforms.Setup(nil)
	require.NoError(t, err)

	return NewSession(buses, trains, favourites, rules, searchConfig(), townCentre)
}

func TestUpdateMergesBusAndRail(t *testing.T) {
	provider := &fakeProvider{
		rows:    []transport.Departure{{Line: "42", MinutesUntil: 5}},
		failFor: map[string]bool{},
	}
	session := newTestSession(t, provider, &fakeFetcher{}, &fakeFavourites{})

	items, err := session.Update(context.Background())
	require.NoError(t, err)

	// Four direction-paired stops plus two stations.
	require.Len(t, items, 6)

	buses, trains := 0, 0
	for _, item := range items {
		if item.BusBoard != nil {
			buses++
		}
		if item.StationBoard != nil {
			trains++
		}
	}
	assert.Equal(t, 4, buses)
	assert.Equal(t, 2, trains)
}

func TestUpdateKeepsFailedStopAsPlaceholder(t *testing.T) {
	provider := &fakeProvider{
		rows:    []transport.Departure{{Line: "42", MinutesUntil: 5}},
		failFor: map[string]bool{"1500IM53": true},
	}
	session := newTestSession(t, provider, &fakeFetcher{}, &fakeFavourites{})

	items, err := session.Update(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 6)

	var placeholder *DisplayItem
	for i, item := range items {
		if item.BusBoard != nil && item.BusBoard.Stop.ATCOCode == "1500IM53" {
			placeholder = &items[i]
		}
	}

	require.NotNil(t, placeholder)
	assert.NotEmpty(t, placeholder.Error)
	assert.Empty(t, placeholder.BusBoard.Departures)
}

func TestUpdateSurvivesTotalBusFailureWithRail(t *testing.T) {
	provider := &fakeProvider{failFor: map[string]bool{}}
	for _, stop := range testStops() {
		provider.failFor[stop.ATCOCode] = true
	}
	session := newTestSession(t, provider, &fakeFetcher{}, &fakeFavourites{})

	items, err := session.Update(context.Background())
	require.NoError(t, err)

	for _, item := range items {
		assert.NotNil(t, item.StationBoard)
	}
}

func TestUpdateIncludesDistantFavourite(t *testing.T) {
	provider := &fakeProvider{
		rows:    []transport.Departure{{Line: "42"}},
		failFor: map[string]bool{},
	}
	session := newTestSession(t, provider, &fakeFetcher{}, &fakeFavourites{ids: []string{"1500IM99"}})

	items, err := session.Update(context.Background())
	require.NoError(t, err)

	var favourite *DisplayItem
	for i, item := range items {
		if item.BusBoard != nil && item.BusBoard.Stop.ATCOCode == "1500IM99" {
			favourite = &items[i]
		}
	}

	require.NotNil(t, favourite, "favourites are fetched no matter the distance")
	assert.True(t, favourite.IsFavourite)
}

func TestExpandSearch(t *testing.T) {
	provider := &fakeProvider{
		rows:    []transport.Departure{{Line: "42"}},
		failFor: map[string]bool{},
	}
	session := newTestSession(t, provider, &fakeFetcher{}, &fakeFavourites{})

	_, err := session.Update(context.Background())
	require.NoError(t, err)

	items, found, err := session.ExpandSearch(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, items, 1)
	assert.Equal(t, "1500IM99", items[0].BusBoard.Stop.ATCOCode)
	assert.False(t, session.MaxRadiusReached())

	// Nothing left to find, the next expansion walks to the ceiling.
	_, found, err = session.ExpandSearch(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, session.MaxRadiusReached())
	assert.Equal(t, 2000.0, session.RadiusMeters())
}

func TestSortDisplayNearbyPriority(t *testing.T) {
	items := []DisplayItem{
		{DistanceMeters: 1500, IsFavourite: true},
		{DistanceMeters: 150},
		{DistanceMeters: 800},
	}

	sortDisplay(items, 300)

	// The close non-favourite wins, then the favourite boost applies.
	assert.Equal(t, 150.0, items[0].DistanceMeters)
	assert.Equal(t, 1500.0, items[1].DistanceMeters)
	assert.Equal(t, 800.0, items[2].DistanceMeters)
}

func TestSortDisplayByDistanceWithinPriorityRadius(t *testing.T) {
	items := []DisplayItem{
		{DistanceMeters: 250, IsFavourite: true},
		{DistanceMeters: 100},
	}

	sortDisplay(items, 300)

	assert.Equal(t, 100.0, items[0].DistanceMeters)
	assert.Equal(t, 250.0, items[1].DistanceMeters)
}
