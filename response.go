package elif

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/elifgo/elif/internal/errs"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	contentTypeText = "text/plain; charset=utf-8"
)

// Response is a fully buffered HTTP response. Middleware may rewrite any
// field after next returns.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// JSON encodes v as the response body.
func JSON(status int, v any) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errs.New(ErrCodeInternal, "cannot encode response", err)
	}
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", contentTypeJSON)
	resp.Body = data
	return resp, nil
}

func Text(status int, s string) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", contentTypeText)
	resp.Body = []byte(s)
	return resp
}

func NoContent() *Response {
	return NewResponse(http.StatusNoContent)
}

func (r *Response) WithHeader(key, value string) *Response {
	r.Header.Set(key, value)
	return r
}

// toResponse turns an action result into a response.
func toResponse(result any) (*Response, error) {
	switch v := result.(type) {
	case nil:
		return NoContent(), nil
	case *Response:
		if v.Header == nil {
			v.Header = make(http.Header)
		}
		if v.Status == 0 {
			v.Status = http.StatusOK
		}
		return v, nil
	case []byte:
		resp := NewResponse(http.StatusOK)
		resp.Header.Set("Content-Type", "application/octet-stream")
		resp.Body = v
		return resp, nil
	default:
		return JSON(http.StatusOK, v)
	}
}

type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id"`
}

// errorResponse renders err as the error envelope. Messages of server
// side failures are replaced by a generic one.
func errorResponse(err error, requestID string) *Response {
	var coded *errs.Error
	if !errors.As(err, &coded) {
		coded = errs.New(ErrCodeInternal, "internal server error", err)
	}

	code := coded.Code
	if code == ErrCodeUnknown {
		code = ErrCodeInternal
	}

	body := envelopeBody{
		Code:      code.Slug(),
		Message:   "internal server error",
		RequestID: requestID,
	}
	if code.ClientFacing() {
		body.Message = coded.Message
		body.Details = coded.Details
	}

	data, _ := json.Marshal(envelope{Error: body})

	resp := NewResponse(code.Status())
	resp.Header.Set("Content-Type", contentTypeJSON)
	resp.Body = data

	switch code {
	case ErrCodeMethodNotAllowed:
		if details, ok := coded.Details.(map[string][]string); ok {
			resp.Header.Set("Allow", strings.Join(details["allow"], ", "))
		}
	case ErrCodeOverloaded:
		resp.Header.Set("Retry-After", "1")
	}

	return resp
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	h := w.Header()
	for k, values := range resp.Header {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	if resp.Status != http.StatusNoContent && resp.Status != http.StatusNotModified {
		h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
