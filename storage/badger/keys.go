package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/ragcore/core"
)

// Key prefixes for different data types
const (
	cachePrefix          = "cache:"
	chunkPrefix          = "vec:"
	dimensionPrefix      = "vecdim:"
	contentHashPrefix    = "vechash:"
	sessionPrefix        = "ses:"
	sessionProjectPrefix = "sesp:"
)

// appendString appends a uint16 length-prefixed string. Length prefixes keep
// one project's prefix from matching another project whose ID extends it.
func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// makeCacheKey generates a key for a cache entry by URL.
func makeCacheKey(url string) []byte {
	return append([]byte(cachePrefix), url...)
}

// makeProjectChunkPrefix generates the prefix shared by all chunks of a project.
// Format: prefix:len(project):project
func makeProjectChunkPrefix(projectID string) []byte {
	return appendString([]byte(chunkPrefix), projectID)
}

// makeContentPrefix generates the prefix shared by all chunks of a content key.
// Format: prefix:len(project):project:len(key):key
func makeContentPrefix(projectID string, key core.ContentKey) []byte {
	return appendString(makeProjectChunkPrefix(projectID), string(key))
}

// makeChunkKey generates a composite key for one chunk.
// Format: prefix:len(project):project:len(key):key:index
func makeChunkKey(projectID string, key core.ContentKey, index int) []byte {
	// Write in BigEndian order so lexicographic sort follows chunk index
	return binary.BigEndian.AppendUint32(makeContentPrefix(projectID, key), uint32(index))
}

// parseChunkKey extracts the content key and index from a chunk key, given
// the length of its project prefix.
func parseChunkKey(key []byte, projectPrefixLen int) (core.ContentKey, int, bool) {
	rest := key[projectPrefixLen:]
	if len(rest) < 2 {
		return "", 0, false
	}
	n := int(binary.BigEndian.Uint16(rest))
	rest = rest[2:]
	if len(rest) != n+4 {
		return "", 0, false
	}
	return core.ContentKey(rest[:n]), int(binary.BigEndian.Uint32(rest[n:])), true
}

// makeDimensionKey generates the key holding a project's vector dimension.
func makeDimensionKey(projectID string) []byte {
	return appendString([]byte(dimensionPrefix), projectID)
}

// makeContentHashKey generates the key holding the source hash of a
// content key's chunk set.
// Format: prefix:len(project):project:len(key):key
func makeContentHashKey(projectID string, key core.ContentKey) []byte {
	return appendString(appendString([]byte(contentHashPrefix), projectID), string(key))
}

// makeSessionKey generates a key for a session by ID.
func makeSessionKey(id string) []byte {
	return append([]byte(sessionPrefix), id...)
}

// makeSessionProjectPrefix generates the prefix of a project's session index.
func makeSessionProjectPrefix(projectID string) []byte {
	return appendString([]byte(sessionProjectPrefix), projectID)
}

// makeSessionIndexKey generates a composite key for the project session index.
// Format: prefix:len(project):project:createdAt:id
func makeSessionIndexKey(projectID string, createdAt time.Time, id string) []byte {
	buf := makeSessionProjectPrefix(projectID)
	// Write in BigEndian order so lexicographic sort works correctly
	buf = binary.BigEndian.AppendUint64(buf, uint64(createdAt.UnixNano()))
	return append(buf, id...)
}
