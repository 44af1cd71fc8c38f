// Package apperrors carries the structured error type surfaced by the HTTP
// layer and the CLI.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindNotFound             Kind = "not_found"
	KindExtractionFailed     Kind = "extraction_failed"
	KindGeneratorUnavailable Kind = "generator_unavailable"
	KindRateLimited          Kind = "rate_limited"
	KindInternal             Kind = "internal"
)

// HTTPStatus maps a kind onto the response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindExtractionFailed:
		return http.StatusUnprocessableEntity
	case KindGeneratorUnavailable:
		return http.StatusBadGateway
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

const stackDepth = 32

type AppError struct {
	Kind    Kind
	Message string
	Cause   error
	// Stack is captured at construction and only rendered in development.
	Stack string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Stack: captureStack(1)}
}

func Newf(kind Kind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Stack: captureStack(1)}
}

// Wrap returns nil for a nil err. An existing AppError keeps its kind when
// kind is empty.
func Wrap(err error, kind Kind, message string) *AppError {
	if err == nil {
		return nil
	}
	if kind == "" {
		kind = KindOf(err)
	}
	return &AppError{Kind: kind, Message: message, Cause: err, Stack: captureStack(1)}
}

// KindOf returns the kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Kind == kind
}

// Body is the JSON error envelope returned to clients.
type Body struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// ToBody renders err for a response. The stack is included only when dev is true.
func ToBody(err error, dev bool) Body {
	var ae *AppError
	if !errors.As(err, &ae) {
		ae = &AppError{Kind: KindInternal, Message: err.Error(), Stack: captureStack(1)}
	}
	body := Body{Kind: ae.Kind, Message: ae.Message}
	if ae.Cause != nil {
		body.Message = fmt.Sprintf("%s: %v", ae.Message, ae.Cause)
	}
	if dev {
		body.Stack = strings.TrimSpace(ae.Stack)
	}
	return body
}

func captureStack(skip int) string {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}
