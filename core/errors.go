// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether to retry,
// surface it to the user, or mark an ingestion session as failed.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConfiguration  Kind = "configuration"
	KindRateLimit      Kind = "rate_limit"
	KindAuthentication Kind = "authentication"
	KindConnection     Kind = "connection"
	KindTimeout        Kind = "timeout"
	KindStorage        Kind = "storage"
	KindPartialFailure Kind = "partial_failure"
	KindUnknown        Kind = "unknown"
)

// Sentinel errors for matching with errors.Is. Any *Error of the same kind
// matches its sentinel.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrRateLimit      = &Error{Kind: KindRateLimit}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrConnection     = &Error{Kind: KindConnection}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrStorage        = &Error{Kind: KindStorage}
	ErrPartialFailure = &Error{Kind: KindPartialFailure}
)

// Domain validation errors
var (
	// ErrEmptyProjectID indicates a tenant scope without a project.
	ErrEmptyProjectID = errors.New("project id cannot be empty")

	// ErrEmptyURL indicates a content item or cache entry without a URL.
	ErrEmptyURL = errors.New("url cannot be empty")

	// ErrEmptyQuery indicates a retrieval query with no text.
	ErrEmptyQuery = errors.New("query text cannot be empty")

	// ErrInvalidTopK indicates a non-positive result limit.
	ErrInvalidTopK = errors.New("top_k must be greater than zero")

	// ErrNonContiguousChunks indicates chunk indices that are not 0..N-1.
	ErrNonContiguousChunks = errors.New("chunk indices must be contiguous from zero")

	// ErrInvalidTransition indicates a session status change that would
	// move backwards or leave a terminal state.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrTotalChunksAlreadySet indicates a second attempt to fix total_chunks.
	ErrTotalChunksAlreadySet = errors.New("total chunks already set")
)

// Error is the classified error carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError creates a classified error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf creates a classified error with a formatted message. A %w verb in
// format is honoured.
func Errorf(kind Kind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind) + " error"
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether an error of this kind may succeed on retry.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindConnection, KindTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is classified as transient.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
