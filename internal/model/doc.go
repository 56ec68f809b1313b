// Package model defines the data structures shared by keyharvest packages.
//
// This package contains the following main types:
//   - ProxyRecord: An upstream proxy and its health fields
//   - AccountRecord: An account profile and its scheduling status
//   - FingerprintConfig / Identity: Stored and resolved browser identity
//   - CrawlTask: One phrase batch assigned to one account
//   - ResultRow / FrontierNode: Frequency and depth crawl output
//
// The models are serializable to JSON for reports and database storage.
package model
