package progress

import "errors"

var (
	// ErrInvalidBufferSize is returned for a non-positive subscription buffer.
	ErrInvalidBufferSize = errors.New("buffer size must be greater than zero")

	// ErrNATSURLRequired is returned when connecting without a server URL.
	ErrNATSURLRequired = errors.New("nats url required")
)
