package redis_client

import (
	"context"

	"github.com/busboard/busboard/pkg/config"
	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

// Connect sets up the shared redis client. An unreachable redis is reported
// as an error but callers treat the store as an always-miss cache rather
// than failing startup.
func Connect(cfg config.RedisConfig) error {
	Client = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	return Client.Ping(context.Background()).Err()
}
