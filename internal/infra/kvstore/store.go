package kvstore

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"

	"csrf-guard/internal/infra/logging"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewStore creates the fiber.Storage backing the kv token store and the
// session store. It falls back to in-memory storage if Redis init fails.
func NewStore(cfg RedisConfig) fiber.Storage {
	var store fiber.Storage = memoryStorage.New()

	if strings.TrimSpace(cfg.Addr) == "" {
		logging.Info("Redis addr empty, using memory for token storage")
		return store
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("Redis storage init panicked, falling back to memory", "error", r)
			}
		}()
		store = redisStorage.New(redisStorage.Config{
			Addrs:    []string{cfg.Addr},
			Password: cfg.Password,
			Database: cfg.DB,
		})
		logging.Info("Using redis for token storage", "addr", cfg.Addr, "db", cfg.DB)
	}()

	return store
}
