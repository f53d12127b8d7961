package elif

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/elifgo/elif/internal/errs"
	"github.com/elifgo/elif/internal/router"
)

// Reserved extension keys.
const (
	ExtRequestID    = "request_id"
	ExtScope        = "scope"
	ExtUser         = "user"
	ExtStartInstant = "start_instant"
	ExtTraceID      = "trace_id"
)

// Request is the framework view of one HTTP request. It is owned by the
// middleware currently handling it; Set and Get are safe for the rare
// case where a timed-out handler and the pipeline overlap.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is read lazily. The body limit layer replaces it with a reader
	// that fails once the configured size is exceeded.
	Body io.ReadCloser

	raw *http.Request
	ctx context.Context
	ext *extensions

	match    *router.Match
	matchErr error

	bodyBytes []byte
	bodyRead  bool

	body  any
	query any
}

type extensions struct {
	mu     sync.RWMutex
	values map[string]any

	// cancelled is the first cancellation observed for the request. Once
	// set it replaces whatever the pipeline returns.
	cancelled error
}

func newRequest(r *http.Request) *Request {
	return &Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header,
		Body:   r.Body,
		raw:    r,
		ctx:    r.Context(),
		ext:    &extensions{values: make(map[string]any)},
	}
}

// NewRequest wraps an *http.Request. Applications only need it to drive a
// pipeline by hand, e.g. in tests.
func NewRequest(r *http.Request) *Request {
	return newRequest(r)
}

func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r using ctx. Extensions are
// shared with the original.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// Raw returns the underlying *http.Request.
func (r *Request) Raw() *http.Request {
	return r.raw
}

func (r *Request) Set(key string, value any) {
	r.ext.mu.Lock()
	defer r.ext.mu.Unlock()
	r.ext.values[key] = value
}

func (r *Request) Get(key string) (any, bool) {
	r.ext.mu.RLock()
	defer r.ext.mu.RUnlock()
	v, ok := r.ext.values[key]
	return v, ok
}

// markCancelled records err as the request's cancellation. It reports
// whether this call was the first to do so.
func (r *Request) markCancelled(err error) bool {
	r.ext.mu.Lock()
	defer r.ext.mu.Unlock()
	if r.ext.cancelled != nil {
		return false
	}
	r.ext.cancelled = err
	return true
}

func (r *Request) cancellation() error {
	r.ext.mu.RLock()
	defer r.ext.mu.RUnlock()
	return r.ext.cancelled
}

func (r *Request) RequestID() string {
	v, _ := r.Get(ExtRequestID)
	id, _ := v.(string)
	return id
}

// Scope returns the request scope, or nil for reserved routes that never
// open one.
func (r *Request) Scope() *Scope {
	v, _ := r.Get(ExtScope)
	s, _ := v.(*Scope)
	return s
}

func (r *Request) User() any {
	v, _ := r.Get(ExtUser)
	return v
}

func (r *Request) Start() time.Time {
	v, _ := r.Get(ExtStartInstant)
	t, _ := v.(time.Time)
	return t
}

// Route returns the matched route pattern, or "" when nothing matched.
func (r *Request) Route() string {
	if r.match == nil {
		return ""
	}
	return r.match.Route.Pattern
}

func (r *Request) Param(name string) string {
	if r.match == nil {
		return ""
	}
	p, _ := r.match.Params.Get(name)
	return p.Raw
}

func (r *Request) ParamInt(name string) (int64, error) {
	if p, ok := r.param(name); ok {
		if v, ok := p.Value.(int64); ok {
			return v, nil
		}
		v, err := strconv.ParseInt(p.Raw, 10, 64)
		if err != nil {
			return 0, BadRequest("path parameter %q is not an integer", name)
		}
		return v, nil
	}
	return 0, BadRequest("missing path parameter %q", name)
}

func (r *Request) ParamUint(name string) (uint64, error) {
	if p, ok := r.param(name); ok {
		if v, ok := p.Value.(uint64); ok {
			return v, nil
		}
		v, err := strconv.ParseUint(p.Raw, 10, 64)
		if err != nil {
			return 0, BadRequest("path parameter %q is not an unsigned integer", name)
		}
		return v, nil
	}
	return 0, BadRequest("missing path parameter %q", name)
}

func (r *Request) ParamUUID(name string) (uuid.UUID, error) {
	if p, ok := r.param(name); ok {
		if v, ok := p.Value.(uuid.UUID); ok {
			return v, nil
		}
		v, err := uuid.Parse(p.Raw)
		if err != nil {
			return uuid.Nil, BadRequest("path parameter %q is not a uuid", name)
		}
		return v, nil
	}
	return uuid.Nil, BadRequest("missing path parameter %q", name)
}

func (r *Request) param(name string) (router.Param, bool) {
	if r.match == nil {
		return router.Param{}, false
	}
	return r.match.Params.Get(name)
}

// Bytes reads the whole body once and caches it.
func (r *Request) Bytes() ([]byte, error) {
	if r.bodyRead {
		return r.bodyBytes, nil
	}
	r.bodyRead = true

	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errs.Newf(ErrCodePayloadTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, errs.New(ErrCodeBadRequest, "cannot read request body", err)
	}
	r.bodyBytes = data
	return data, nil
}

// Body returns the payload decoded for a route declared with BodyAs[B].
func Body[B any](req *Request) B {
	v, _ := req.body.(B)
	return v
}

// Query returns the payload decoded for a route declared with QueryAs[Q].
func Query[Q any](req *Request) Q {
	v, _ := req.query.(Q)
	return v
}

var validate = newValidator()

// newValidator reports fields by their json (or query) name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

func decodeBody[B any](req *Request) (B, error) {
	var out B

	data, err := req.Bytes()
	if err != nil {
		return out, err
	}
	if len(data) == 0 {
		return out, BadRequest("request body is empty")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, errs.New(ErrCodeBadRequest, "request body is not valid JSON", err)
	}
	return out, validatePayload(out)
}

func decodeQuery[Q any](req *Request) (Q, error) {
	var out Q

	input := make(map[string]any, len(req.Query))
	for k, v := range req.Query {
		if len(v) == 1 {
			input[k] = v[0]
		} else {
			input[k] = v
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "query",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, errs.New(ErrCodeInternal, "cannot build query decoder", err)
	}
	if err := decoder.Decode(input); err != nil {
		return out, errs.New(ErrCodeBadRequest, "invalid query string", err)
	}
	return out, validatePayload(out)
}

// validatePayload runs struct validation tags. Non-struct payloads pass.
func validatePayload(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.New(ErrCodeValidation, "validation failed", err)
	}

	fields := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fields[i] = FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: fe.Error(),
		}
	}
	return ValidationFailed(fields...)
}
