// Package proxypool keeps the registry of upstream proxies that browser
// sessions are routed through.
//
// The Pool tracks how many checkouts are held against each proxy and never
// hands out more than ProxyRecord.MaxConcurrent at once. All mutations are
// serialized behind one pool-wide mutex.
//
// # Health checks
//
// A Checker measures latency and exit IP through a proxy. Sweep tests every
// proxy with bounded concurrency; a proxy failing FailureThreshold
// consecutive checks is blacklisted and removed. The blacklist is keyed by
// server and credentials so that a removed proxy is skipped on re-import.
//
// # Import
//
// Import parses proxy lists in the formats
//
//	host:port
//	user:pass@host:port
//	scheme://[user:pass@]host:port
//	host:port:user:pass
package proxypool
