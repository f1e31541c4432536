package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/adrd-care-assistant/internal/config"
	"github.com/wolfman30/adrd-care-assistant/internal/conversation"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// Persistence is the session store and per-conversation lock the engine runs
// on, plus the probe /health reports for them.
type Persistence struct {
	Store  conversation.SessionStore
	Locker conversation.Locker
	Kind   string
	Check  func(ctx context.Context) error
}

// BuildPersistence picks Redis when SESSION_STORE=redis and the server
// answers, and falls back to process memory otherwise.
func BuildPersistence(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) Persistence {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg != nil && cfg.SessionStore == "redis" {
		if redisClient != nil {
			logger.Info("using redis session store", "ttl", cfg.SessionTTL)
			return Persistence{
				Store:  conversation.NewRedisSessionStore(redisClient, cfg.SessionTTL),
				Locker: conversation.NewRedisLocker(redisClient, logger),
				Kind:   "redis",
				Check:  func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			}
		}
		logger.Warn("redis session store requested but redis is unavailable; falling back to memory")
	}
	return Persistence{
		Store:  conversation.NewMemorySessionStore(),
		Locker: conversation.NewMemoryLocker(),
		Kind:   "memory",
		Check:  func(context.Context) error { return nil },
	}
}
