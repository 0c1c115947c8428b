package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"csrf-guard/internal/csrf"
	"csrf-guard/internal/domain"
	"csrf-guard/internal/infra/logging"
	"csrf-guard/internal/tokens"
)

// CSRFConfig configures the CSRF guard middleware. Exactly one of Store and
// Sessions is used; Store wins when both are set.
type CSRFConfig struct {
	// Next skips the middleware when it returns true.
	Next func(c *fiber.Ctx) bool

	// Guard carries the guard options. Storage, ResponseFactory and
	// FailureHandler are filled in by the middleware.
	Guard csrf.Options

	// Store is shared by every request.
	Store tokens.Store

	// Sessions scopes token storage to the caller's session.
	Sessions *session.Store

	// ErrorHandler replaces the default 400 response on a failed check.
	ErrorHandler fiber.Handler
}

// CSRF returns a fiber.Handler that validates mutating requests and exposes
// the active pair through c.Locals under the guard's name and value keys.
func CSRF(cfg CSRFConfig) (fiber.Handler, error) {
	if cfg.Store == nil && cfg.Sessions == nil {
		return nil, fmt.Errorf("%w: no token storage configured and no session available", domain.ErrStorage)
	}

	opts := cfg.Guard
	opts.ResponseFactory = replyFactory{}
	if cfg.ErrorHandler != nil {
		onFailure := cfg.ErrorHandler
		opts.FailureHandler = func(req csrf.Request, _ csrf.Handler) (csrf.Response, error) {
			return nil, onFailure(req.(*fiberRequest).c)
		}
	}

	if cfg.Store != nil {
		opts.Storage = cfg.Store
		guard, err := csrf.New(opts)
		if err != nil {
			return nil, err
		}
		return func(c *fiber.Ctx) error {
			if cfg.Next != nil && cfg.Next(c) {
				return c.Next()
			}
			return run(c, guard)
		}, nil
	}

	// Validate once up front; per-request guards only swap the storage.
	opts.Storage = tokens.NewMemory()
	check, err := csrf.New(opts)
	if err != nil {
		return nil, err
	}
	key := check.Prefix()

	return func(c *fiber.Ctx) error {
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}
		sess, err := cfg.Sessions.Get(c)
		if err != nil {
			return err
		}
		store, err := sessionTokens(sess, key)
		if err != nil {
			return err
		}
		reqOpts := opts
		reqOpts.Storage = store
		guard, err := csrf.New(reqOpts)
		if err != nil {
			return err
		}
		resp, err := guard.Process(&fiberRequest{c: c}, nextHandler(c))
		if err != nil {
			logging.Error("CSRF guard failed", "path", c.Path(), "error", err)
			return err
		}
		if err := sess.Save(); err != nil {
			return err
		}
		return writeReply(c, resp)
	}, nil
}

// sessionTokens binds the token list to sess. A nil *session.Session is not
// a nil Values, so it has to be rejected before the conversion.
func sessionTokens(sess *session.Session, key string) (*tokens.Session, error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: session not found", domain.ErrStorage)
	}
	return tokens.NewSession(sess, key)
}

func run(c *fiber.Ctx, guard *csrf.Guard) error {
	resp, err := guard.Process(&fiberRequest{c: c}, nextHandler(c))
	if err != nil {
		logging.Error("CSRF guard failed", "path", c.Path(), "error", err)
		return err
	}
	return writeReply(c, resp)
}

// nextHandler continues the fiber chain. Downstream handlers write their own
// response, so there is nothing to hand back.
func nextHandler(c *fiber.Ctx) csrf.Handler {
	return csrf.HandlerFunc(func(csrf.Request) (csrf.Response, error) {
		return nil, c.Next()
	})
}

func writeReply(c *fiber.Ctx, resp csrf.Response) error {
	r, ok := resp.(*reply)
	if !ok || r == nil {
		return nil
	}
	return r.write(c)
}

// fiberRequest adapts a fiber context to csrf.Request. Attributes land in
// c.Locals so any later handler can read them.
type fiberRequest struct {
	c      *fiber.Ctx
	body   map[string]string
	parsed bool
}

func (r *fiberRequest) Context() context.Context {
	return r.c.UserContext()
}

func (r *fiberRequest) Method() string {
	return r.c.Method()
}

func (r *fiberRequest) WithAttribute(name, value string) csrf.Request {
	r.c.Locals(name, value)
	return r
}

// ParsedBody decodes JSON objects, urlencoded and multipart forms. Only
// string values are kept; other content types yield nil.
func (r *fiberRequest) ParsedBody() map[string]string {
	if r.parsed {
		return r.body
	}
	r.parsed = true

	ctype := strings.ToLower(string(r.c.Request().Header.ContentType()))
	switch {
	case strings.HasPrefix(ctype, fiber.MIMEApplicationJSON):
		var raw map[string]any
		if err := r.c.BodyParser(&raw); err != nil {
			logging.Debug("Unparseable JSON body", "path", r.c.Path(), "error", err)
			return nil
		}
		r.body = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				r.body[k] = s
			}
		}
	case strings.HasPrefix(ctype, fiber.MIMEApplicationForm):
		r.body = make(map[string]string)
		r.c.Request().PostArgs().VisitAll(func(k, v []byte) {
			r.body[string(k)] = string(v)
		})
	case strings.HasPrefix(ctype, fiber.MIMEMultipartForm):
		form, err := r.c.MultipartForm()
		if err != nil {
			logging.Debug("Unparseable multipart body", "path", r.c.Path(), "error", err)
			return nil
		}
		r.body = make(map[string]string, len(form.Value))
		for k, vs := range form.Value {
			if len(vs) > 0 {
				r.body[k] = vs[0]
			}
		}
	}
	return r.body
}

// reply is a detached csrf.Response written to the context once the guard returns.
type reply struct {
	status  int
	headers [][2]string
	body    string
}

type replyFactory struct{}

func (replyFactory) CreateResponse() csrf.Response {
	return &reply{status: fiber.StatusOK}
}

func (r *reply) WithStatus(code int) csrf.Response {
	r.status = code
	return r
}

func (r *reply) WithHeader(name, value string) csrf.Response {
	r.headers = append(r.headers, [2]string{name, value})
	return r
}

func (r *reply) WithBody(body string) csrf.Response {
	r.body = body
	return r
}

func (r *reply) write(c *fiber.Ctx) error {
	c.Status(r.status)
	for _, h := range r.headers {
		c.Set(h[0], h[1])
	}
	return c.SendString(r.body)
}
