// Package chromem provides a chromem-go implementation of
// storage.VectorRepository.
//
// Each project owns two collections: one holding chunk documents and a small
// manifest with one document per content key. Chunk documents are addressed
// as "<content key>:<index>" and carry the content key, chunk index, source
// URL and owning user as metadata. The database may be in-memory or
// persisted to a directory with [Open].
package chromem
