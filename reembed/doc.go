// Package reembed replaces the vectors of every chunk stored for a project
// with vectors from the current embedding model. Chunk text, indices and
// ownership are kept; only the vectors change.
//
// The vector store pins one dimension per project, so the new model must
// produce vectors of the same size as the old one. Content ingested while a
// run is in progress may be embedded twice, which is harmless.
package reembed
