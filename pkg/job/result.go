// Copyright 2025 Certen Protocol
//
// JobResult - the unit of work leaving the runtime.

package job

import "fmt"

// Error tags discriminating Err results.
const (
	TagRejection       = "rejection"
	TagHandlerError    = "handler-error"
	TagHandlerPanicked = "handler-panicked"
	TagDecodeFailure   = "decode-failure"
	TagAuthFailure     = "auth-failure"
)

// Head carries the originating job ID plus result metadata. The ID is
// stamped by the router at production time; it is not part of the result's
// wire form.
type Head struct {
	ID       ID
	Metadata *Metadata
}

// Result is a sum of two variants: Ok{head, body} or Err{tag, payload}.
type Result struct {
	head    *Head
	body    []byte
	errTag  string
	errBody []byte
	isErr   bool
}

// Ok constructs a successful result with the given body. The head metadata
// starts empty; only extractors and middleware write into it.
func Ok(body []byte) *Result {
	return &Result{head: &Head{Metadata: NewMetadata()}, body: body}
}

// Err constructs an error result with a discriminating tag and payload.
func Err(tag string, payload []byte) *Result {
	return &Result{errTag: tag, errBody: payload, isErr: true}
}

// Errf constructs an error result with a formatted payload.
func Errf(tag, format string, args ...any) *Result {
	return Err(tag, []byte(fmt.Sprintf(format, args...)))
}

// IsOk reports whether the result is the Ok variant.
func (r *Result) IsOk() bool {
	return !r.isErr
}

// IsErr reports whether the result is the Err variant.
func (r *Result) IsErr() bool {
	return r.isErr
}

// Head returns the result head. It is nil for Err results.
func (r *Result) Head() *Head {
	return r.head
}

// Body returns the Ok payload, nil for Err results.
func (r *Result) Body() []byte {
	return r.body
}

// Metadata returns the head metadata of an Ok result, nil for Err results.
func (r *Result) Metadata() *Metadata {
	if r.head == nil {
		return nil
	}
	return r.head.Metadata
}

// ErrTag returns the discriminating tag of an Err result.
func (r *Result) ErrTag() string {
	return r.errTag
}

// ErrPayload returns the payload of an Err result.
func (r *Result) ErrPayload() []byte {
	return r.errBody
}

// StampID records the originating call's job ID into the head. Err results
// carry no head and are left untouched.
func (r *Result) StampID(id ID) {
	if r.head != nil {
		r.head.ID = id
	}
}

// IntoJobResult converts a value into a job result. Rejections and handler
// error types implement this to short-circuit dispatch.
type IntoJobResult interface {
	IntoJobResult() *Result
}
