package csrf

import "context"

// Request is the inbound message as seen by the Guard.
type Request interface {
	Context() context.Context
	Method() string
	// ParsedBody returns the decoded request body, or nil when there is none.
	ParsedBody() map[string]string
	// WithAttribute returns the request carrying name=value for downstream handlers.
	WithAttribute(name, value string) Request
}

// Response is a builder-style outbound message.
type Response interface {
	WithStatus(code int) Response
	WithHeader(name, value string) Response
	WithBody(body string) Response
}

// ResponseFactory builds the default failure response.
type ResponseFactory interface {
	CreateResponse() Response
}

// Handler is the next step in the chain.
type Handler interface {
	Handle(req Request) (Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req Request) (Response, error)

func (f HandlerFunc) Handle(req Request) (Response, error) { return f(req) }

// FailureHandler produces the response for a request that failed validation.
type FailureHandler func(req Request, next Handler) (Response, error)

// Recorder receives guard outcomes, e.g. for metrics.
type Recorder interface {
	RecordValidation(result string)
	RecordIssued(reused bool)
}

// Validation results reported to the Recorder.
const (
	ResultValid       = "valid"
	ResultMissing     = "missing"
	ResultInvalid     = "invalid"
	ResultUnsafeToken = "token_in_safe_method"
)

type nopRecorder struct{}

func (nopRecorder) RecordValidation(string) {}
func (nopRecorder) RecordIssued(bool)       {}
