package kvstore

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_EmptyAddrUsesMemory(t *testing.T) {
	store := NewStore(RedisConfig{Addr: "  "})
	_, ok := store.(*memoryStorage.Storage)
	assert.True(t, ok)
}

func TestNewStore_UnreachableRedisFallsBackToMemory(t *testing.T) {
	// redis storage pings on init and panics when nothing listens.
	store := NewStore(RedisConfig{Addr: "127.0.0.1:1"})
	_, ok := store.(*memoryStorage.Storage)
	assert.True(t, ok)
}

func TestNewStore_Redis(t *testing.T) {
	srv := miniredis.RunT(t)

	store := NewStore(RedisConfig{Addr: srv.Addr()})
	_, ok := store.(*redisStorage.Storage)
	require.True(t, ok)

	require.NoError(t, store.Set("csrf", []byte("[]"), time.Minute))
	got, err := store.Get("csrf")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))
	assert.True(t, srv.Exists("csrf"))
}
