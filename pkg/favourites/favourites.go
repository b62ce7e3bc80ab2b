// Package favourites persists the user's favourite stops in a redis sorted
// set scored by when they were added, so the list keeps a stable order.
// Reads fail open: a dead redis means no favourites, never an error in the
// data path.
package favourites

import (
	"context"
	"time"

	"github.com/busboard/busboard/pkg/redis_client"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const setKey = "busboard:favourites:stops"

type sortedSetClient interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZScore(ctx context.Context, key string, member string) *redis.FloatCmd
	ZRange(ctx context.Context, key string, start int64, stop int64) *redis.StringSliceCmd
}

type Store struct {
	client sortedSetClient

	now func() time.Time
}

// Setup builds the store on the shared redis client.
func Setup() *Store {
	return &Store{
		client: redis_client.Client,
		now:    time.Now,
	}
}

func NewWithClient(client sortedSetClient) *Store {
	return &Store{
		client: client,
		now:    time.Now,
	}
}

func (s *Store) Add(ctx context.Context, stopID string) error {
	return s.client.ZAdd(ctx, setKey, redis.Z{
		Score:  float64(s.now().Unix()),
		Member: stopID,
	}).Err()
}

func (s *Store) Remove(ctx context.Context, stopID string) error {
	return s.client.ZRem(ctx, setKey, stopID).Err()
}

// Toggle flips membership and reports the new state.
func (s *Store) Toggle(ctx context.Context, stopID string) (bool, error) {
	if s.IsFavourite(ctx, stopID) {
		return false, s.Remove(ctx, stopID)
	}

	return true, s.Add(ctx, stopID)
}

// IsFavourite reports membership. Any store failure reads as "not a
// favourite".
func (s *Store) IsFavourite(ctx context.Context, stopID string) bool {
	err := s.client.ZScore(ctx, setKey, stopID).Err()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		log.Debug().Err(err).Msg("Favourite membership check failed")
		return false
	}

	return true
}

// List returns favourite stop identifiers oldest first. A store failure
// yields an empty list.
func (s *Store) List(ctx context.Context) []string {
	ids, err := s.client.ZRange(ctx, setKey, 0, -1).Result()
	if err != nil {
		log.Debug().Err(err).Msg("Favourite list read failed")
		return nil
	}

	return ids
}
