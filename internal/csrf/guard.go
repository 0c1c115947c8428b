// Package csrf issues, stores and validates anti-forgery tokens for
// state-changing requests.
//
// A Guard sits in front of the next handler. Mutating requests (POST, PUT,
// DELETE, PATCH) must carry {prefix}_name and a masked {prefix}_value in their
// parsed body matching a previously issued pair; every request that passes
// leaves with the active pair attached as the {prefix}_name / {prefix}_value
// attributes.
package csrf

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"csrf-guard/internal/domain"
	"csrf-guard/internal/infra/logging"
	"csrf-guard/internal/tokens"
)

const (
	DefaultPrefix       = "csrf"
	DefaultStorageLimit = 200
	MinStrength         = 16

	failureBody = "Failed CSRF check!"
)

// Options configures a Guard. Start from DefaultOptions: a zero StorageLimit
// means unlimited.
type Options struct {
	ResponseFactory ResponseFactory
	Prefix          string
	Storage         tokens.Store
	FailureHandler  FailureHandler
	// StorageLimit caps the number of stored pairs; 0 disables eviction.
	StorageLimit int
	// Strength is the secret length in bytes. 0 selects MinStrength.
	Strength            int
	PersistentTokenMode bool
	// RejectSafeMethodTokens fails non-mutating requests whose body carries
	// a token name, since such tokens leak through URLs and logs.
	RejectSafeMethodTokens bool
	Recorder               Recorder
}

// DefaultOptions returns the stock configuration without storage.
func DefaultOptions() Options {
	return Options{
		Prefix:       DefaultPrefix,
		StorageLimit: DefaultStorageLimit,
		Strength:     MinStrength,
	}
}

// Guard is immutable after New apart from the current pair it last handed out.
type Guard struct {
	prefix     string
	storage    tokens.Store
	factory    ResponseFactory
	failure    FailureHandler
	limit      int
	strength   int
	persistent bool
	rejectSafe bool
	recorder   Recorder

	mu     sync.RWMutex
	pair   tokens.Pair
	masked string
}

// New validates opts and builds a Guard. No token pair is minted until the
// first Process or GenerateToken call.
func New(opts Options) (*Guard, error) {
	strength := opts.Strength
	if strength == 0 {
		strength = MinStrength
	}
	if strength < MinStrength {
		return nil, fmt.Errorf("%w: minimum strength is %d", domain.ErrConfig, MinStrength)
	}
	if opts.StorageLimit < 0 {
		return nil, fmt.Errorf("%w: storage limit must be >= 0", domain.ErrConfig)
	}
	if opts.ResponseFactory == nil && opts.FailureHandler == nil {
		return nil, fmt.Errorf("%w: a response factory or failure handler is required", domain.ErrConfig)
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("%w: no token storage configured and no session available", domain.ErrStorage)
	}

	g := &Guard{
		prefix:     NormalizePrefix(opts.Prefix),
		storage:    opts.Storage,
		factory:    opts.ResponseFactory,
		failure:    opts.FailureHandler,
		limit:      opts.StorageLimit,
		strength:   strength,
		persistent: opts.PersistentTokenMode,
		rejectSafe: opts.RejectSafeMethodTokens,
		recorder:   opts.Recorder,
	}
	if g.failure == nil {
		g.failure = g.defaultFailure
	}
	if g.recorder == nil {
		g.recorder = nopRecorder{}
	}
	return g, nil
}

// NormalizePrefix strips trailing underscores and falls back to DefaultPrefix.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "_")
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}

func (g *Guard) Prefix() string            { return g.prefix }
func (g *Guard) TokenNameKey() string      { return g.prefix + "_name" }
func (g *Guard) TokenValueKey() string     { return g.prefix + "_value" }
func (g *Guard) PersistentTokenMode() bool { return g.persistent }
func (g *Guard) StorageLimit() int         { return g.limit }
func (g *Guard) Strength() int             { return g.strength }

// TokenName returns the name of the pair last issued or reused, or "".
func (g *Guard) TokenName() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pair.Name
}

// TokenValue returns the masked value last attached for the current pair, or "".
func (g *Guard) TokenValue() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.masked
}

func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	}
	return false
}

// Process validates req when its method mutates state, then attaches the
// active pair and hands the request to next. A failed check returns the
// failure handler's response without calling next.
func (g *Guard) Process(req Request, next Handler) (Response, error) {
	ctx := req.Context()
	body := req.ParsedBody()
	name, hasName := body[g.TokenNameKey()]
	value, hasValue := body[g.TokenValueKey()]

	if isMutating(req.Method()) {
		if !hasName || !hasValue || name == "" || value == "" {
			return g.reject(ctx, req, next, name, ResultMissing)
		}
		valid, err := g.ValidateToken(ctx, name, value)
		if err != nil {
			return nil, storageErr(err)
		}
		if !valid {
			return g.reject(ctx, req, next, name, ResultInvalid)
		}
		g.recorder.RecordValidation(ResultValid)
	} else if g.rejectSafe && hasName {
		return g.reject(ctx, req, next, name, ResultUnsafeToken)
	}

	pair, err := g.activePair(ctx)
	if err != nil {
		return nil, storageErr(err)
	}
	req, err = g.attach(req, pair)
	if err != nil {
		return nil, err
	}
	return next.Handle(req)
}

// ValidateToken reports whether value unmasks to the secret stored under
// name. Outside persistent mode name is consumed whatever the outcome.
func (g *Guard) ValidateToken(ctx context.Context, name, value string) (bool, error) {
	secret, ok, err := g.storage.Get(ctx, name)
	if err != nil {
		return false, err
	}
	valid := false
	if ok {
		if unmasked, decoded := UnmaskToken(value); decoded {
			valid = subtle.ConstantTimeCompare([]byte(unmasked), []byte(secret)) == 1
		}
	}
	if !g.persistent {
		if err := g.storage.Remove(ctx, name); err != nil {
			return false, err
		}
	}
	return valid, nil
}

// GenerateToken mints a fresh pair, stores it (evicting the oldest entries
// beyond the storage limit) and makes it the current pair.
func (g *Guard) GenerateToken(ctx context.Context) (tokens.Pair, error) {
	name, err := newTokenName(g.prefix)
	if err != nil {
		return tokens.Pair{}, err
	}
	secret, err := newSecret(g.strength)
	if err != nil {
		return tokens.Pair{}, err
	}
	pair := tokens.Pair{Name: name, Secret: secret}
	if err := g.save(ctx, pair); err != nil {
		return tokens.Pair{}, err
	}
	masked, err := MaskToken(secret)
	if err != nil {
		return tokens.Pair{}, err
	}
	g.setCurrent(pair, masked)
	return pair, nil
}

func (g *Guard) save(ctx context.Context, pair tokens.Pair) error {
	if err := g.storage.Set(ctx, pair.Name, pair.Secret); err != nil {
		return err
	}
	if g.limit > 0 {
		return g.storage.Trim(ctx, g.limit)
	}
	return nil
}

// activePair reuses the last stored pair in persistent mode, otherwise mints one.
func (g *Guard) activePair(ctx context.Context) (tokens.Pair, error) {
	if g.persistent {
		pair, ok, err := g.storage.LastPair(ctx)
		if err != nil {
			return tokens.Pair{}, err
		}
		if ok {
			g.recorder.RecordIssued(true)
			return pair, nil
		}
	}
	pair, err := g.GenerateToken(ctx)
	if err != nil {
		return tokens.Pair{}, err
	}
	g.recorder.RecordIssued(false)
	return pair, nil
}

// attach masks the secret anew on every call.
func (g *Guard) attach(req Request, pair tokens.Pair) (Request, error) {
	masked, err := MaskToken(pair.Secret)
	if err != nil {
		return nil, err
	}
	g.setCurrent(pair, masked)
	return req.
		WithAttribute(g.TokenNameKey(), pair.Name).
		WithAttribute(g.TokenValueKey(), masked), nil
}

func (g *Guard) setCurrent(pair tokens.Pair, masked string) {
	g.mu.Lock()
	g.pair = pair
	g.masked = masked
	g.mu.Unlock()
}

func (g *Guard) reject(ctx context.Context, req Request, next Handler, name, result string) (Response, error) {
	logging.Warn("CSRF reject", "reason", result, "method", req.Method(), "token_name", logging.Redact(name))
	g.recorder.RecordValidation(result)

	// Any failure against the persistent pair may mean it leaked: drop the
	// submitted name and rotate so later requests get a replacement.
	if g.persistent {
		if name != "" {
			if err := g.storage.Remove(ctx, name); err != nil {
				return nil, storageErr(err)
			}
		}
		if _, err := g.GenerateToken(ctx); err != nil {
			return nil, storageErr(err)
		}
		g.recorder.RecordIssued(false)
	}
	return g.failure(req, next)
}

func storageErr(err error) error {
	return fmt.Errorf("csrf: token storage: %w", err)
}

func (g *Guard) defaultFailure(Request, Handler) (Response, error) {
	return g.factory.CreateResponse().
		WithStatus(http.StatusBadRequest).
		WithHeader("Content-Type", "text/plain").
		WithBody(failureBody), nil
}
