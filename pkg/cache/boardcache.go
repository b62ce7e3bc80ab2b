// Package cache is the short lived departure board cache. Reads are
// fail-open: any store problem is a cache miss, never an error for the
// caller.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/busboard/busboard/pkg/redis_client"
	"github.com/busboard/busboard/pkg/transport"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/rs/zerolog/log"
)

const (
	stopKeyPrefix    = "busboard:departures:stop:"
	stationKeyPrefix = "busboard:departures:station:"
)

// StringStore is the minimal keyed store the board cache needs. The
// production implementation sits on gocache over redis.
type StringStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Clear(ctx context.Context) error
}

type gocacheStore struct {
	cache *cache.Cache[string]
	ttl   time.Duration
}

func (s *gocacheStore) Get(ctx context.Context, key string) (string, error) {
	return s.cache.Get(ctx, key)
}

func (s *gocacheStore) Set(ctx context.Context, key string, value string) error {
	return s.cache.Set(ctx, key, value, store.WithExpiration(s.ttl))
}

func (s *gocacheStore) Clear(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

// BoardCache stores bus and train departure boards with one shared TTL.
type BoardCache struct {
	store StringStore
}

// Setup builds the production cache on the shared redis client.
func Setup(departureTTL time.Duration) *BoardCache {
	redisStore := redisstore.NewRedis(redis_client.Client)

	return &BoardCache{
		store: &gocacheStore{
			cache: cache.New[string](redisStore),
			ttl:   departureTTL,
		},
	}
}

// NewWithStore builds a cache over any StringStore. Used by tests.
func NewWithStore(s StringStore) *BoardCache {
	return &BoardCache{store: s}
}

// GetBoard returns the cached board for a stop, marked stale. A miss or any
// store error returns (nil, false).
func (c *BoardCache) GetBoard(ctx context.Context, stopID string) (*transport.DepartureBoard, bool) {
	value, err := c.store.Get(ctx, stopKeyPrefix+stopID)
	if err != nil {
		return nil, false
	}

	var board transport.DepartureBoard
	if err := json.Unmarshal([]byte(value), &board); err != nil {
		log.Debug().Err(err).Str("stop", stopID).Msg("Discarding unreadable cached board")
		return nil, false
	}

	board.IsStale = true

	return &board, true
}

// SetBoard writes through a freshly fetched board. Write failures are logged
// and swallowed - re-fetching later is harmless.
func (c *BoardCache) SetBoard(ctx context.Context, board *transport.DepartureBoard) {
	data, err := json.Marshal(board)
	if err != nil {
		return
	}

	if err := c.store.Set(ctx, stopKeyPrefix+board.Stop.ATCOCode, string(data)); err != nil {
		log.Debug().Err(err).Str("stop", board.Stop.ATCOCode).Msg("Failed to cache board")
	}
}

func (c *BoardCache) GetStationBoard(ctx context.Context, crs string) (*transport.StationBoard, bool) {
	value, err := c.store.Get(ctx, stationKeyPrefix+crs)
	if err != nil {
		return nil, false
	}

	var board transport.StationBoard
	if err := json.Unmarshal([]byte(value), &board); err != nil {
		return nil, false
	}

	board.IsStale = true

	return &board, true
}

func (c *BoardCache) SetStationBoard(ctx context.Context, board *transport.StationBoard) {
	data, err := json.Marshal(board)
	if err != nil {
		return
	}

	if err := c.store.Set(ctx, stationKeyPrefix+board.Station.CRS, string(data)); err != nil {
		log.Debug().Err(err).Str("station", board.Station.CRS).Msg("Failed to cache station board")
	}
}

func (c *BoardCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}
