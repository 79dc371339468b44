// Package ingestion turns scraped pages into embedded, searchable chunks.
//
// The Pipeline drives each ingestion session through
//
//	pending -> processing -> completed | error
//
// Sessions run concurrently on a bounded worker pool. Within a session the
// page is cached, normalized, chunked and embedded batch by batch; every
// batch is persisted before the next starts and produces one progress
// message, so a failure keeps the chunks already stored. Ingestions of the
// same content key are serialized in-process, and every status change is a
// compare-and-swap against the session repository.
package ingestion
