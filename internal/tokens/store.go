// Package tokens persists issued CSRF token pairs (name -> unmasked secret).
//
// Every backend keeps insertion order so that oldest-first eviction and
// last-pair lookup are well defined, whatever the underlying storage.
package tokens

import "context"

// Pair is one issued anti-forgery credential.
type Pair struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// Store is an ordered name -> secret collection.
//
// Overwriting an existing name keeps its original insertion position.
type Store interface {
	// Set inserts or overwrites the secret stored under name.
	Set(ctx context.Context, name, secret string) error
	// Get returns the secret for name; ok is false when name is not stored.
	Get(ctx context.Context, name string) (secret string, ok bool, err error)
	// Remove deletes name. Removing an absent name is a no-op.
	Remove(ctx context.Context, name string) error
	// Count returns the number of stored pairs.
	Count(ctx context.Context) (int, error)
	// LastPair returns the most recently inserted pair.
	LastPair(ctx context.Context) (Pair, bool, error)
	// Trim removes the oldest pairs until at most limit remain.
	// A limit <= 0 means unlimited and never removes anything.
	Trim(ctx context.Context, limit int) error
}
