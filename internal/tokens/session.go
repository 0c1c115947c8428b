package tokens

import (
	"context"
	"fmt"

	"csrf-guard/internal/domain"
	"csrf-guard/internal/infra/logging"
)

// Values is the session-like bag the Session store writes into.
// *session.Session from gofiber/fiber/v2/middleware/session satisfies it.
type Values interface {
	Get(key string) interface{}
	Set(key string, val interface{})
	Delete(key string)
}

// Session keeps the ordered pair list JSON-encoded under one session key,
// so tokens live exactly as long as the client session does. Saving the
// session is left to the caller.
type Session struct {
	values Values
	key    string
}

// NewSession binds a store to values under key. It reserves the key in the
// session right away, so an empty list is visible after construction.
func NewSession(values Values, key string) (*Session, error) {
	if values == nil {
		return nil, fmt.Errorf("%w: session not found", domain.ErrStorage)
	}
	s := &Session{values: values, key: key}
	if values.Get(key) == nil {
		values.Set(key, "[]")
	}
	return s, nil
}

func (s *Session) load() pairList {
	var raw []byte
	switch v := s.values.Get(s.key).(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		return nil
	default:
		logging.Warn("Discarding unexpected session token value", "key", s.key, "type", fmt.Sprintf("%T", v))
		return nil
	}
	l, err := decodePairList(raw)
	if err != nil {
		logging.Warn("Discarding undecodable session token list", "key", s.key, "error", err)
		return nil
	}
	return l
}

func (s *Session) save(l pairList) error {
	if l == nil {
		l = pairList{}
	}
	raw, err := l.encode()
	if err != nil {
		return err
	}
	s.values.Set(s.key, string(raw))
	return nil
}

func (s *Session) Set(_ context.Context, name, secret string) error {
	return s.save(s.load().set(name, secret))
}

func (s *Session) Get(_ context.Context, name string) (string, bool, error) {
	secret, ok := s.load().get(name)
	return secret, ok, nil
}

func (s *Session) Remove(_ context.Context, name string) error {
	l, removed := s.load().remove(name)
	if !removed {
		return nil
	}
	return s.save(l)
}

func (s *Session) Count(context.Context) (int, error) {
	return len(s.load()), nil
}

func (s *Session) LastPair(context.Context) (Pair, bool, error) {
	p, ok := s.load().last()
	return p, ok, nil
}

func (s *Session) Trim(_ context.Context, limit int) error {
	l, trimmed := s.load().trim(limit)
	if !trimmed {
		return nil
	}
	return s.save(l)
}
