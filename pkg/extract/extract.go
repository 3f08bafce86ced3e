// Copyright 2025 Certen Protocol
//
// Extraction framework - polymorphic conversion from a job call into the
// argument tuple of a handler function.

package extract

import (
	"fmt"

	"github.com/certen/blueprint-runtime/pkg/job"
)

// PartsExtractor populates a handler argument from the body-less parts of a
// call. It may run any number of times per call and must not touch the body.
//
// Implementations use a pointer receiver; the runtime allocates a zero value
// and calls ExtractFromParts on it.
type PartsExtractor interface {
	ExtractFromParts(parts *job.Parts, ctxVal any) error
}

// CallExtractor consumes the whole call, body included. At most one handler
// argument may be a CallExtractor and it must be the last argument.
type CallExtractor interface {
	ExtractFromCall(call *job.Call, ctxVal any) error
}

// Rejection is an extractor failure. It short-circuits the handler and is
// itself converted into an Err result.
type Rejection struct {
	Tag    string
	Reason string
}

// Reject builds a rejection with the given tag and formatted reason.
func Reject(tag, format string, args ...any) *Rejection {
	return &Rejection{Tag: tag, Reason: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return r.Tag + ": " + r.Reason
}

// IntoJobResult implements job.IntoJobResult.
func (r *Rejection) IntoJobResult() *job.Result {
	tag := r.Tag
	if tag == "" {
		tag = job.TagRejection
	}
	return job.Err(tag, []byte(r.Reason))
}
