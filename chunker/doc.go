// Package chunker splits normalized page text into overlapping windows sized
// for embedding.
//
// Windows are measured in runes, not bytes, so multi-byte text never splits
// inside a character. A window of at most maxChars runes starts every
// maxChars-overlapChars runes; the last window always ends at the end of the
// text. The same input and parameters always produce the same pieces.
//
//	pieces, err := chunker.Chunk(chunker.Normalize(raw), 1000, 100)
package chunker
