package db

import (
	"backend-virelia/internal/config"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns nil when no address is configured; callers treat a
// nil client as "run without the presence cache and cross-node fan-out".
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
