package chunker

import "errors"

var (
	// ErrInvalidMaxChars is returned when the window length is not positive.
	ErrInvalidMaxChars = errors.New("max chars must be greater than zero")

	// ErrInvalidOverlap is returned when the overlap is negative or not
	// smaller than the window length.
	ErrInvalidOverlap = errors.New("overlap must be at least zero and less than max chars")
)
