package csrf

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csrf-guard/internal/domain"
	"csrf-guard/internal/tokens"
)

type fakeRequest struct {
	method string
	body   map[string]string
	attrs  map[string]string
}

func newRequest(method string, body map[string]string) *fakeRequest {
	return &fakeRequest{method: method, body: body, attrs: map[string]string{}}
}

func (r *fakeRequest) Context() context.Context      { return context.Background() }
func (r *fakeRequest) Method() string                { return r.method }
func (r *fakeRequest) ParsedBody() map[string]string { return r.body }

func (r *fakeRequest) WithAttribute(name, value string) Request {
	attrs := make(map[string]string, len(r.attrs)+1)
	for k, v := range r.attrs {
		attrs[k] = v
	}
	attrs[name] = value
	return &fakeRequest{method: r.method, body: r.body, attrs: attrs}
}

type fakeResponse struct {
	status  int
	headers map[string]string
	body    string
}

func (r *fakeResponse) WithStatus(code int) Response {
	r.status = code
	return r
}

func (r *fakeResponse) WithHeader(name, value string) Response {
	r.headers[name] = value
	return r
}

func (r *fakeResponse) WithBody(body string) Response {
	r.body = body
	return r
}

type fakeFactory struct{}

func (fakeFactory) CreateResponse() Response {
	return &fakeResponse{status: http.StatusOK, headers: map[string]string{}}
}

// recordingHandler captures the request it was handed.
type recordingHandler struct {
	calls int
	last  *fakeRequest
}

func (h *recordingHandler) Handle(req Request) (Response, error) {
	h.calls++
	h.last = req.(*fakeRequest)
	return &fakeResponse{status: http.StatusCreated, headers: map[string]string{}}, nil
}

func newGuard(t *testing.T, store tokens.Store, mutate func(*Options)) *Guard {
	t.Helper()
	opts := DefaultOptions()
	opts.ResponseFactory = fakeFactory{}
	opts.Storage = store
	if mutate != nil {
		mutate(&opts)
	}
	g, err := New(opts)
	require.NoError(t, err)
	return g
}

func mask(t *testing.T, secret string) string {
	t.Helper()
	m, err := MaskToken(secret)
	require.NoError(t, err)
	return m
}

func count(t *testing.T, s tokens.Store) int {
	t.Helper()
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestNew_StrengthLowerThan16(t *testing.T) {
	_, err := New(Options{ResponseFactory: fakeFactory{}, Storage: tokens.NewMemory(), Strength: 15})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
	assert.Contains(t, err.Error(), "minimum strength is 16")
}

func TestNew_MissingStorage(t *testing.T) {
	_, err := New(Options{ResponseFactory: fakeFactory{}, Prefix: "test"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorage))
}

func TestNew_NegativeStorageLimit(t *testing.T) {
	_, err := New(Options{ResponseFactory: fakeFactory{}, Storage: tokens.NewMemory(), StorageLimit: -1})
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestNew_RequiresResponseFactoryOrFailureHandler(t *testing.T) {
	_, err := New(Options{Storage: tokens.NewMemory()})
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = New(Options{
		Storage:        tokens.NewMemory(),
		FailureHandler: func(Request, Handler) (Response, error) { return nil, nil },
	})
	assert.NoError(t, err)
}

func TestNew_DefaultsAndKeys(t *testing.T) {
	store := tokens.NewMemory()
	g := newGuard(t, store, func(o *Options) { o.Prefix = "test__" })

	assert.Equal(t, "test", g.Prefix())
	assert.Equal(t, "test_name", g.TokenNameKey())
	assert.Equal(t, "test_value", g.TokenValueKey())
	assert.Equal(t, 200, g.StorageLimit())
	assert.Equal(t, 16, g.Strength())
	assert.False(t, g.PersistentTokenMode())
	assert.Empty(t, g.TokenName())
	assert.Empty(t, g.TokenValue())
	assert.Equal(t, 0, count(t, store), "construction mints nothing")
}

func TestMaskToken_RoundTripAndNonDeterministic(t *testing.T) {
	for _, secret := range []string{"value", "0123456789abcdef0123456789abcdef", "ü€"} {
		m1 := mask(t, secret)
		m2 := mask(t, secret)
		assert.NotEqual(t, m1, m2)

		got, ok := UnmaskToken(m1)
		assert.True(t, ok)
		assert.Equal(t, secret, got)
		got, ok = UnmaskToken(m2)
		assert.True(t, ok)
		assert.Equal(t, secret, got)
	}
}

func TestUnmaskToken_Malformed(t *testing.T) {
	_, ok := UnmaskToken("MY_BAD_BASE64???")
	assert.False(t, ok, "bad base64 alphabet")

	m := mask(t, "value")
	_, ok = UnmaskToken(m[:len(m)-6])
	assert.False(t, ok, "truncated payload")

	_, ok = UnmaskToken("YWJj") // "abc": odd length cannot split into pad and ciphertext
	assert.False(t, ok)

	_, ok = UnmaskToken("")
	assert.False(t, ok)
}

func TestValidateToken(t *testing.T) {
	ctx := context.Background()
	store := tokens.NewMemory(tokens.Pair{Name: "test_name", Secret: "value"})
	g := newGuard(t, store, func(o *Options) { o.Prefix = "test"; o.PersistentTokenMode = true })

	m1 := mask(t, "value")
	ok, err := g.ValidateToken(ctx, "test_name", m1)
	require.NoError(t, err)
	assert.True(t, ok)

	m2 := mask(t, "value")
	ok, err = g.ValidateToken(ctx, "test_name", m2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, m1, m2)
}

func TestValidateToken_Rejects(t *testing.T) {
	ctx := context.Background()
	secret := "0123456789abcdef"
	store := tokens.NewMemory(tokens.Pair{Name: "test_name", Secret: secret})
	g := newGuard(t, store, func(o *Options) { o.Prefix = "test"; o.PersistentTokenMode = true })

	ok, err := g.ValidateToken(ctx, "unknown", mask(t, secret))
	require.NoError(t, err)
	assert.False(t, ok, "absent name")

	ok, err = g.ValidateToken(ctx, "test_name", "MY_BAD_BASE64???")
	require.NoError(t, err)
	assert.False(t, ok, "undecodable value")

	lastByte := secret[:len(secret)-1] + "g"
	ok, err = g.ValidateToken(ctx, "test_name", mask(t, lastByte))
	require.NoError(t, err)
	assert.False(t, ok, "final byte differs")

	ok, err = g.ValidateToken(ctx, "test_name", mask(t, secret+"0"))
	require.NoError(t, err)
	assert.False(t, ok, "longer secret")
}

func TestValidateToken_ConsumesNameOutsidePersistentMode(t *testing.T) {
	ctx := context.Background()
	store := tokens.NewMemory(
		tokens.Pair{Name: "test_ok", Secret: "value"},
		tokens.Pair{Name: "test_bad", Secret: "value"},
	)
	g := newGuard(t, store, func(o *Options) { o.Prefix = "test" })

	ok, err := g.ValidateToken(ctx, "test_ok", mask(t, "value"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.ValidateToken(ctx, "test_bad", mask(t, "other"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 0, count(t, store))
}

func TestGenerateToken_Shape(t *testing.T) {
	store := tokens.NewMemory()
	g := newGuard(t, store, func(o *Options) { o.Strength = 32 })

	pair, err := g.GenerateToken(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(pair.Name, "csrf_"))
	assert.Len(t, pair.Secret, 64, "32 random bytes hex encoded")
	assert.Equal(t, pair.Name, g.TokenName())
	unmasked, ok := UnmaskToken(g.TokenValue())
	assert.True(t, ok)
	assert.Equal(t, pair.Secret, unmasked)
	assert.Equal(t, 1, count(t, store))
}

func TestGenerateToken_EnforcesStorageLimit(t *testing.T) {
	ctx := context.Background()
	store := tokens.NewMemory()
	g := newGuard(t, store, func(o *Options) { o.StorageLimit = 2 })

	var names []string
	for i := 0; i < 5; i++ {
		p, err := g.GenerateToken(ctx)
		require.NoError(t, err)
		names = append(names, p.Name)
	}

	pairs := store.Pairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, names[3], pairs[0].Name)
	assert.Equal(t, names[4], pairs[1].Name)
}

func TestGenerateToken_UnlimitedStorage(t *testing.T) {
	ctx := context.Background()
	store := tokens.NewMemory()
	g := newGuard(t, store, func(o *Options) { o.StorageLimit = 0 })

	for i := 0; i < 250; i++ {
		_, err := g.GenerateToken(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 250, count(t, store))
}

func TestProcess_GetThenPost(t *testing.T) {
	store := tokens.NewMemory()
	g := newGuard(t, store, nil)
	next := &recordingHandler{}

	resp, err := g.Process(newRequest(http.MethodGet, map[string]string{}), next)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.(*fakeResponse).status)
	require.Equal(t, 1, next.calls)

	name := next.last.attrs["csrf_name"]
	value := next.last.attrs["csrf_value"]
	require.NotEmpty(t, name)
	require.NotEmpty(t, value)
	assert.Equal(t, 1, count(t, store))

	resp, err = g.Process(newRequest(http.MethodPost, map[string]string{
		"csrf_name":  name,
		"csrf_value": value,
	}), next)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.(*fakeResponse).status)
	require.Equal(t, 2, next.calls)

	_, ok, err := store.Get(context.Background(), name)
	require.NoError(t, err)
	assert.False(t, ok, "validated name is removed")
	assert.NotEqual(t, name, next.last.attrs["csrf_name"], "a new pair is attached")
	assert.Equal(t, 1, count(t, store))
}

func TestProcess_UnknownTokenUsesDefaultFailure(t *testing.T) {
	g := newGuard(t, tokens.NewMemory(), nil)
	next := &recordingHandler{}

	resp, err := g.Process(newRequest(http.MethodPost, map[string]string{
		"csrf_name":  "x",
		"csrf_value": "y",
	}), next)
	require.NoError(t, err)

	r := resp.(*fakeResponse)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "text/plain", r.headers["Content-Type"])
	assert.Equal(t, "Failed CSRF check!", r.body)
	assert.Equal(t, 0, next.calls)
}

func TestProcess_MissingTokenCallsFailureHandler(t *testing.T) {
	store := tokens.NewMemory()
	called := 0
	var seen Request
	g := newGuard(t, store, func(o *Options) {
		o.Prefix = "test"
		o.FailureHandler = func(req Request, next Handler) (Response, error) {
			called++
			seen = req
			return &fakeResponse{status: http.StatusForbidden, headers: map[string]string{}}, nil
		}
	})
	next := &recordingHandler{}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		resp, err := g.Process(newRequest(method, nil), next)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.(*fakeResponse).status)
	}
	assert.Equal(t, 4, called)
	assert.Equal(t, 0, next.calls)
	assert.Empty(t, seen.(*fakeRequest).attrs, "no attributes on failure")
	assert.Equal(t, 0, count(t, store))
}

func TestProcess_NonPersistentRotatesEveryRequest(t *testing.T) {
	store := tokens.NewMemory()
	g := newGuard(t, store, nil)
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodGet, nil), next)
	require.NoError(t, err)
	name, value := g.TokenName(), g.TokenValue()
	assert.Equal(t, name, next.last.attrs["csrf_name"])
	assert.Equal(t, value, next.last.attrs["csrf_value"])

	_, err = g.Process(newRequest(http.MethodGet, nil), next)
	require.NoError(t, err)
	assert.NotEqual(t, name, g.TokenName())
	assert.NotEqual(t, value, g.TokenValue())
	assert.Equal(t, 2, count(t, store))
}

func TestProcess_PersistentReusesPair(t *testing.T) {
	store := tokens.NewMemory()
	g := newGuard(t, store, func(o *Options) { o.PersistentTokenMode = true })
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodGet, nil), next)
	require.NoError(t, err)
	name, value := g.TokenName(), g.TokenValue()
	secret, _ := UnmaskToken(value)

	_, err = g.Process(newRequest(http.MethodPost, map[string]string{
		"csrf_name":  name,
		"csrf_value": value,
	}), next)
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)

	assert.Equal(t, name, g.TokenName())
	assert.Equal(t, name, next.last.attrs["csrf_name"])
	again, _ := UnmaskToken(g.TokenValue())
	assert.Equal(t, secret, again, "same secret")
	assert.NotEqual(t, value, g.TokenValue(), "masked anew on every attach")
	assert.Equal(t, 1, count(t, store))
}

func TestProcess_PersistentReusesSeededPair(t *testing.T) {
	store := tokens.NewMemory(tokens.Pair{Name: "test_name123", Secret: "test_value123"})
	g := newGuard(t, store, func(o *Options) { o.Prefix = "test"; o.PersistentTokenMode = true })
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodGet, nil), next)
	require.NoError(t, err)
	assert.Equal(t, "test_name123", next.last.attrs["test_name"])
	got, ok := UnmaskToken(next.last.attrs["test_value"])
	assert.True(t, ok)
	assert.Equal(t, "test_value123", got)
}

func TestProcess_PersistentRotatesAfterInvalidToken(t *testing.T) {
	store := tokens.NewMemory()
	g := newGuard(t, store, func(o *Options) { o.PersistentTokenMode = true })
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodGet, nil), next)
	require.NoError(t, err)
	name, value := g.TokenName(), g.TokenValue()

	resp, err := g.Process(newRequest(http.MethodPost, map[string]string{
		"csrf_name":  name,
		"csrf_value": mask(t, "wrong"),
	}), next)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.(*fakeResponse).status)
	assert.NotEqual(t, name, g.TokenName())
	assert.NotEqual(t, value, g.TokenValue())

	_, ok, err := store.Get(context.Background(), name)
	require.NoError(t, err)
	assert.False(t, ok, "compromised pair discarded")

	_, err = g.Process(newRequest(http.MethodGet, nil), next)
	require.NoError(t, err)
	assert.Equal(t, g.TokenName(), next.last.attrs["csrf_name"], "replacement is reused")
}

func TestProcess_TokenRemovedWhenPersistentModeIsOff(t *testing.T) {
	store := tokens.NewMemory(tokens.Pair{Name: "test_name", Secret: "test_value123"})
	g := newGuard(t, store, func(o *Options) { o.Prefix = "test" })
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodPost, map[string]string{
		"test_name":  "test_name",
		"test_value": mask(t, "test_value123"),
	}), next)
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)

	_, ok, err := store.Get(context.Background(), "test_name")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcess_SafeMethodSkipsValidation(t *testing.T) {
	store := tokens.NewMemory(tokens.Pair{Name: "test_name", Secret: "test_value123"})
	g := newGuard(t, store, func(o *Options) { o.Prefix = "test" })
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodGet, map[string]string{
		"test_name":  "test_name",
		"test_value": "test_value123",
	}), next)
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
}

func TestProcess_TokenInBodyOfGetIsRejectedWhenEnabled(t *testing.T) {
	store := tokens.NewMemory(tokens.Pair{Name: "test_name", Secret: "test_value123"})
	called := 0
	g := newGuard(t, store, func(o *Options) {
		o.Prefix = "test"
		o.RejectSafeMethodTokens = true
		o.FailureHandler = func(req Request, next Handler) (Response, error) {
			called++
			return nil, nil
		}
	})
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodGet, map[string]string{
		"test_name":  "test_name",
		"test_value": "test_value123",
	}), next)
	require.NoError(t, err)
	assert.Equal(t, 1, called)
	assert.Equal(t, 0, next.calls)
}

// failingStore fails every call, like an unreachable network backend.
type failingStore struct{ tokens.Store }

var errBackend = errors.New("backend down")

func (failingStore) Get(context.Context, string) (string, bool, error) { return "", false, errBackend }
func (failingStore) Set(context.Context, string, string) error         { return errBackend }

func TestProcess_PropagatesStorageErrors(t *testing.T) {
	g := newGuard(t, failingStore{}, nil)
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodGet, nil), next)
	assert.ErrorIs(t, err, errBackend)

	_, err = g.Process(newRequest(http.MethodPost, map[string]string{"csrf_name": "a", "csrf_value": "b"}), next)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, 0, next.calls)
}

type countingRecorder struct {
	results map[string]int
	issued  int
	reused  int
}

func (r *countingRecorder) RecordValidation(result string) { r.results[result]++ }
func (r *countingRecorder) RecordIssued(reused bool) {
	if reused {
		r.reused++
		return
	}
	r.issued++
}

func TestProcess_ReportsToRecorder(t *testing.T) {
	rec := &countingRecorder{results: map[string]int{}}
	g := newGuard(t, tokens.NewMemory(), func(o *Options) { o.PersistentTokenMode = true; o.Recorder = rec })
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodGet, nil), next)
	require.NoError(t, err)
	_, err = g.Process(newRequest(http.MethodPost, map[string]string{
		"csrf_name":  g.TokenName(),
		"csrf_value": g.TokenValue(),
	}), next)
	require.NoError(t, err)
	_, err = g.Process(newRequest(http.MethodPost, nil), next)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.results[ResultValid])
	assert.Equal(t, 1, rec.results[ResultMissing])
	assert.Equal(t, 2, rec.issued, "first pair plus the rotation after the missing token")
	assert.Equal(t, 1, rec.reused)
}

func TestProcess_PersistentRotatesAfterMissingToken(t *testing.T) {
	store := tokens.NewMemory()
	g := newGuard(t, store, func(o *Options) { o.PersistentTokenMode = true })
	next := &recordingHandler{}

	_, err := g.Process(newRequest(http.MethodGet, nil), next)
	require.NoError(t, err)
	name := g.TokenName()

	resp, err := g.Process(newRequest(http.MethodPost, nil), next)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.(*fakeResponse).status)
	assert.NotEqual(t, name, g.TokenName(), "a replacement pair is minted")

	last, ok, err := store.LastPair(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, g.TokenName(), last.Name)

	_, err = g.Process(newRequest(http.MethodGet, nil), next)
	require.NoError(t, err)
	assert.Equal(t, last.Name, next.last.attrs["csrf_name"], "later requests reuse the replacement")
}
