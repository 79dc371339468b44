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

package chunker

import (
	"strings"

	"github.com/poiesic/ragcore/core"
)

const (
	// DefaultMaxChars is the default window length in runes.
	DefaultMaxChars = 1000
	// DefaultOverlapChars is the default number of runes shared by adjacent windows.
	DefaultOverlapChars = 100
)

// Piece is one window of text. Start and End are rune offsets into the
// chunked text, End exclusive.
type Piece struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunk splits text into windows of at most maxChars runes that overlap by
// overlapChars runes. Empty text yields no pieces.
func Chunk(text string, maxChars, overlapChars int) ([]Piece, error) {
	if err := validate(maxChars, overlapChars); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	step := maxChars - overlapChars

	pieces := make([]Piece, 0, n/step+1)
	for start := 0; ; start += step {
		end := min(start+maxChars, n)
		pieces = append(pieces, Piece{
			Index: len(pieces),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == n {
			break
		}
	}
	return pieces, nil
}

// Count returns the number of pieces Chunk would produce for a text of n
// runes, without allocating them.
func Count(n, maxChars, overlapChars int) (int, error) {
	if err := validate(maxChars, overlapChars); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}
	if n <= maxChars {
		return 1, nil
	}
	step := maxChars - overlapChars
	return (n-maxChars+step-1)/step + 1, nil
}

// Normalize collapses every run of whitespace to a single space and trims
// the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func validate(maxChars, overlapChars int) error {
	switch {
	case maxChars <= 0:
		return core.Errorf(core.KindValidation, "%w: %d", ErrInvalidMaxChars, maxChars)
	case overlapChars < 0 || overlapChars >= maxChars:
		return core.Errorf(core.KindValidation, "%w: overlap %d, max %d", ErrInvalidOverlap, overlapChars, maxChars)
	}
	return nil
}
