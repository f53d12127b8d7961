package elif

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/elifgo/elif/internal/errs"
)

// Next runs the rest of the pipeline. Each Next value may be called once.
type Next func(req *Request) (*Response, error)

// Middleware wraps the rest of the pipeline. It may return without calling
// next, or run code before and after it.
type Middleware interface {
	Handle(req *Request, next Next) (*Response, error)
}

type MiddlewareFunc func(req *Request, next Next) (*Response, error)

func (f MiddlewareFunc) Handle(req *Request, next Next) (*Response, error) {
	return f(req, next)
}

// Pipeline is an ordered middleware chain ending in a final handler.
// Layers run outermost first.
type Pipeline struct {
	layers []Middleware
	final  Next
	debug  bool
}

// NewPipeline builds a pipeline around final. In debug mode a second call
// to the same next panics; otherwise it fails with NEXT_CALLED_TWICE.
func NewPipeline(final Next, debug bool, layers ...Middleware) *Pipeline {
	return &Pipeline{
		layers: layers,
		final:  final,
		debug:  debug,
	}
}

func (p *Pipeline) Len() int {
	return len(p.layers)
}

func (p *Pipeline) Run(req *Request) (*Response, error) {
	return p.run(0, req)
}

func (p *Pipeline) run(i int, req *Request) (*Response, error) {
	if i == len(p.layers) {
		return p.final(req)
	}

	var called atomic.Bool
	next := func(r *Request) (*Response, error) {
		if !called.CompareAndSwap(false, true) {
			if p.debug {
				panic(fmt.Sprintf("elif: next called twice by middleware %d (%T)", i, p.layers[i]))
			}
			return nil, errs.Newf(ErrCodeNextCalledTwice, "next called twice by middleware %T", p.layers[i])
		}

		resp, err := p.run(i+1, r)
		if cerr := observeCancellation(r); cerr != nil {
			return nil, cerr
		}
		return resp, err
	}

	return p.layers[i].Handle(req, next)
}

// observeCancellation returns the request's cancellation error, recording
// one first if the request context has ended.
func observeCancellation(req *Request) error {
	if err := req.cancellation(); err != nil {
		return err
	}
	if err := req.Context().Err(); err != nil {
		req.markCancelled(cancellationError(err))
		return req.cancellation()
	}
	return nil
}

func cancellationError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New(ErrCodeTimeout, "request timed out", err)
	}
	return errs.New(ErrCodeCancelled, "request cancelled", err)
}
