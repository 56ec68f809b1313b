// Package database provides SQLite-based storage for keyharvest.
//
// The Store keeps:
//   - accounts with their typed fingerprint configuration
//   - proxies and the blacklist of failed proxy servers
//   - frequency results, one row per (phrase, region)
//   - depth nodes recorded by frontier crawls
//   - job summaries
//
// SQLite is used through modernc.org/sqlite, which needs no cgo. The whole
// store is one file in the data directory.
package database
