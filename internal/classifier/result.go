package classifier

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a failed call.
type Kind string

const (
	// KindValidation is an input problem caught before any network call.
	KindValidation Kind = "validation"
	// KindConnectivity means the backend could not be reached.
	KindConnectivity Kind = "connectivity"
	// KindTimeout means the call exceeded its time bound.
	KindTimeout Kind = "timeout"
	// KindCanceled means the caller canceled the context.
	KindCanceled Kind = "canceled"
	// KindStatus is a non-2xx response.
	KindStatus Kind = "status"
	// KindBackend is a 2xx response carrying an {"error": ...} envelope.
	KindBackend Kind = "backend"
	// KindDecode is a 2xx response whose body is not the expected JSON.
	KindDecode Kind = "decode"
)

// Transport reports whether the kind is a transport-level failure, as
// opposed to a validation failure raised before any request was made.
func (k Kind) Transport() bool {
	return k != KindValidation && k != ""
}

// Error is the failure variant of Result. Message is never empty.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, op string, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		msg = string(kind) + " error"
	}
	return &Error{Kind: kind, Op: op, Message: msg, Err: cause}
}

// Result is the outcome of one client call: either data or an *Error,
// never both.
type Result[T any] struct {
	data T
	err  *Error
}

// Succeed wraps data as a successful result.
func Succeed[T any](data T) Result[T] {
	return Result[T]{data: data}
}

// Fail wraps err as a failed result. A nil err is replaced by a generic one
// so that a failed result always carries a message.
func Fail[T any](err *Error) Result[T] {
	if err == nil {
		err = &Error{Kind: KindDecode, Message: "unknown failure"}
	}
	return Result[T]{err: err}
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.err == nil }

// Data returns the payload and whether the call succeeded.
func (r Result[T]) Data() (T, bool) { return r.data, r.err == nil }

// Err returns the failure, or nil on success.
func (r Result[T]) Err() *Error { return r.err }

// Unwrap converts the result to the usual Go (value, error) pair.
func (r Result[T]) Unwrap() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.data, nil
}

type resultJSON[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
}

// MarshalJSON renders {"success":true,"data":...} or
// {"success":false,"error":"...","kind":"..."}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.err != nil {
		return json.Marshal(resultJSON[T]{Error: r.err.Message, Kind: r.err.Kind})
	}
	data := r.data
	return json.Marshal(resultJSON[T]{Success: true, Data: &data})
}
