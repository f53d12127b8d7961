package elif

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/munnerz/goautoneg"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/elifgo/elif/internal/errs"
	"github.com/elifgo/elif/internal/metrics"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// statusOf is the status a request will be answered with.
func statusOf(resp *Response, err error) int {
	if err != nil {
		code := CodeOf(err)
		if code == ErrCodeUnknown {
			return http.StatusInternalServerError
		}
		return code.Status()
	}
	if resp == nil {
		return http.StatusNoContent
	}
	return resp.Status
}

// RequestID adopts a uuid sent in X-Request-ID or keeps the one assigned
// when the request arrived, and echoes it on the response.
func RequestID() Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		if incoming := req.Header.Get(HeaderRequestID); incoming != "" {
			if id, err := uuid.Parse(incoming); err == nil {
				req.Set(ExtRequestID, id.String())
			}
		}

		resp, err := next(req)
		if resp != nil {
			resp.Header.Set(HeaderRequestID, req.RequestID())
		}
		return resp, err
	})
}

// Logging writes one line per request.
func Logging(logger *zap.Logger) Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		start := time.Now()
		resp, err := next(req)

		status := statusOf(resp, err)
		fields := []zap.Field{
			zap.String("request_id", req.RequestID()),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("route", req.Route()),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", append(fields, zap.Error(err))...)
		case err != nil:
			logger.Info("request rejected", append(fields, zap.String("code", CodeOf(err).String()))...)
		default:
			logger.Info("request", fields...)
		}
		return resp, err
	})
}

// Tracing opens a span per request. The trace id is taken from
// X-Trace-ID when present and returned in the same header.
func Tracing(logger *zap.Logger) Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		traceID := req.Header.Get(HeaderTraceID)
		if traceID == "" || len(traceID) > 128 {
			traceID = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		req.Set(ExtTraceID, traceID)
		spanID := uuid.NewString()[:8]

		start := time.Now()
		resp, err := next(req)

		logger.Debug("span",
			zap.String("trace_id", traceID),
			zap.String("span_id", spanID),
			zap.String("name", req.Method+" "+req.Route()),
			zap.Duration("duration", time.Since(start)),
			zap.Int("status", statusOf(resp, err)),
		)

		if resp != nil {
			resp.Header.Set(HeaderTraceID, traceID)
		}
		return resp, err
	})
}

// Timing reports handler time in Server-Timing and X-Response-Time.
func Timing() Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		start := time.Now()
		resp, err := next(req)
		if resp != nil {
			elapsed := time.Since(start)
			ms := float64(elapsed.Microseconds()) / 1000
			resp.Header.Add("Server-Timing", "app;dur="+strconv.FormatFloat(ms, 'f', 3, 64))
			resp.Header.Set("X-Response-Time", elapsed.String())
		}
		return resp, err
	})
}

func metricsLayer(m *metrics.Metrics) Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		done := m.RequestStarted()
		resp, err := next(req)
		done(req.Method, req.Route(), statusOf(resp, err))
		return resp, err
	})
}

// Shed rejects requests beyond rps (with burst) with 503 overloaded.
func Shed(rps float64, burst int) Middleware {
	return shedLayer(newLimiter(rps, burst), nil)
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func shedLayer(limiter *rate.Limiter, onShed func()) Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		if !limiter.Allow() {
			if onShed != nil {
				onShed()
			}
			return nil, errs.Newf(ErrCodeOverloaded, "server is overloaded")
		}
		return next(req)
	})
}

// BodyLimit caps the request body at limit bytes. A declared length over
// the limit fails at once; otherwise reading past the limit fails with
// payload_too_large.
func BodyLimit(limit int64) Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		if req.raw != nil && req.raw.ContentLength > limit {
			return nil, errs.Newf(ErrCodePayloadTooLarge, "request body exceeds %d bytes", limit)
		}
		if req.Body != nil && req.Body != http.NoBody {
			req.Body = http.MaxBytesReader(nil, req.Body, limit)
		}
		return next(req)
	})
}

// Timeout bounds the rest of the pipeline by d. When d elapses the
// request fails with 504 while the handler finishes in the background;
// the request scope stays open until it does.
func Timeout(d time.Duration) Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		ctx, cancel := context.WithTimeout(req.Context(), d)
		inner := req.WithContext(ctx)

		scope := req.Scope()
		retained := scope != nil && scope.inner.Retain()

		type result struct {
			resp *Response
			err  error
		}
		done := make(chan result, 1)

		go func() {
			defer cancel()
			defer func() {
				if retained {
					_ = scope.inner.Release(context.Background())
				}
			}()
			defer func() {
				if r := recover(); r != nil {
					done <- result{err: panicError(r)}
				}
			}()

			resp, err := next(inner)
			done <- result{resp: resp, err: err}
		}()

		select {
		case res := <-done:
			if res.err != nil {
				if p, ok := res.err.(*panicked); ok {
					panic(p.value)
				}
			}
			return res.resp, res.err
		case <-ctx.Done():
			err := cancellationError(ctx.Err())
			req.markCancelled(err)
			return nil, req.cancellation()
		}
	})
}

// panicked carries a panic out of the timeout goroutine so the boundary
// can recover it on the request goroutine.
type panicked struct {
	value any
}

func (p *panicked) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func panicError(v any) error {
	return &panicked{value: v}
}

var compressibleTypes = []string{
	"application/json",
	"application/javascript",
	"application/xml",
	"image/svg+xml",
}

// Compression gzips responses of at least minBytes when the client
// accepts gzip.
func Compression(minBytes int) Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		resp, err := next(req)
		if err != nil || resp == nil {
			return resp, err
		}

		resp.Header.Add("Vary", "Accept-Encoding")
		if len(resp.Body) < minBytes || resp.Header.Get("Content-Encoding") != "" {
			return resp, nil
		}
		if !compressible(resp.Header.Get("Content-Type")) || !acceptsGzip(req.Header.Get("Accept-Encoding")) {
			return resp, nil
		}

		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(resp.Body); err != nil {
			return nil, errs.New(ErrCodeInternal, "gzip failed", err)
		}
		if err := zw.Close(); err != nil {
			return nil, errs.New(ErrCodeInternal, "gzip failed", err)
		}

		resp.Body = buf.Bytes()
		resp.Header.Set("Content-Encoding", "gzip")
		return resp, nil
	})
}

func compressible(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	for _, t := range compressibleTypes {
		if mt == t {
			return true
		}
	}
	return false
}

// acceptsGzip reads an Accept-Encoding header. goautoneg only handles
// media ranges, so codings are split by hand.
func acceptsGzip(header string) bool {
	for part := range strings.SplitSeq(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding != "gzip" && coding != "*" {
			continue
		}
		q := strings.TrimSpace(params)
		if v, ok := strings.CutPrefix(q, "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f == 0 {
				return false
			}
		}
		return true
	}
	return false
}

// ETag tags successful GET and HEAD responses with a weak validator and
// answers matching If-None-Match requests with 304.
func ETag() Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		resp, err := next(req)
		if err != nil || resp == nil {
			return resp, err
		}
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			return resp, nil
		}
		if resp.Status != http.StatusOK || resp.Header.Get("ETag") != "" {
			return resp, nil
		}

		tag := `W/"` + strconv.FormatUint(xxhash.Sum64(resp.Body), 16) + `"`
		resp.Header.Set("ETag", tag)

		if etagMatches(req.Header.Get("If-None-Match"), tag) {
			notModified := NewResponse(http.StatusNotModified)
			for _, h := range []string{"ETag", "Vary", "Cache-Control", HeaderRequestID} {
				for _, v := range resp.Header.Values(h) {
					notModified.Header.Add(h, v)
				}
			}
			return notModified, nil
		}
		return resp, nil
	})
}

func etagMatches(header, tag string) bool {
	if header == "" {
		return false
	}
	weak := strings.TrimPrefix(tag, "W/")
	for candidate := range strings.SplitSeq(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == weak {
			return true
		}
	}
	return false
}

// Negotiation fails with 406 when the response's media type is not
// acceptable to the client. Requests without Accept are not checked.
func Negotiation() Middleware {
	return MiddlewareFunc(func(req *Request, next Next) (*Response, error) {
		resp, err := next(req)
		if err != nil || resp == nil || len(resp.Body) == 0 {
			return resp, err
		}

		accept := req.Header.Get("Accept")
		if accept == "" {
			return resp, nil
		}

		mt, _, perr := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if perr != nil {
			return resp, nil
		}
		if goautoneg.Negotiate(accept, []string{mt}) == "" {
			return nil, errs.Newf(ErrCodeNotAcceptable, "response is %s, which the Accept header does not allow", mt).
				WithDetails(map[string][]string{"available": {mt}})
		}
		return resp, nil
	})
}
