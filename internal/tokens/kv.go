package tokens

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"csrf-guard/internal/infra/logging"
)

// KV persists the ordered pair list under a single key of a fiber.Storage
// backend (gofiber/storage memory, redis, ...).
type KV struct {
	mu      sync.Mutex
	storage fiber.Storage
	key     string
	ttl     time.Duration
}

// NewKV returns a store writing to key in storage. A ttl of 0 keeps the
// list until it is overwritten.
func NewKV(storage fiber.Storage, key string, ttl time.Duration) *KV {
	return &KV{storage: storage, key: key, ttl: ttl}
}

func (s *KV) load() (pairList, error) {
	raw, err := s.storage.Get(s.key)
	if err != nil {
		return nil, err
	}
	l, err := decodePairList(raw)
	if err != nil {
		logging.Warn("Discarding undecodable token list", "key", s.key, "error", err)
		return nil, nil
	}
	return l, nil
}

func (s *KV) save(l pairList) error {
	if len(l) == 0 {
		return s.storage.Delete(s.key)
	}
	raw, err := l.encode()
	if err != nil {
		return err
	}
	return s.storage.Set(s.key, raw, s.ttl)
}

func (s *KV) Set(_ context.Context, name, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.load()
	if err != nil {
		return err
	}
	return s.save(l.set(name, secret))
}

func (s *KV) Get(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.load()
	if err != nil {
		return "", false, err
	}
	secret, ok := l.get(name)
	return secret, ok, nil
}

func (s *KV) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.load()
	if err != nil {
		return err
	}
	l, removed := l.remove(name)
	if !removed {
		return nil
	}
	return s.save(l)
}

func (s *KV) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.load()
	if err != nil {
		return 0, err
	}
	return len(l), nil
}

func (s *KV) LastPair(context.Context) (Pair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.load()
	if err != nil {
		return Pair{}, false, err
	}
	p, ok := l.last()
	return p, ok, nil
}

func (s *KV) Trim(_ context.Context, limit int) error {
	if limit <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.load()
	if err != nil {
		return err
	}
	l, trimmed := l.trim(limit)
	if !trimmed {
		return nil
	}
	return s.save(l)
}
