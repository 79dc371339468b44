// Package cache implements the web page cache: a TTL-keyed store of fetched
// page text with aggregate hit and miss accounting.
//
// There is at most one entry per URL. Store always overwrites the entry and
// restarts its TTL. Fetch applies the refresh rule used throughout ragcore:
// a forced refresh never reads the cache, always calls the fetcher and
// always stores the result.
//
// Lookup never fails because of storage: a repository error is logged and
// counted as a miss.
package cache
