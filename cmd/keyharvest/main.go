// Package main provides the entry point for the keyharvest CLI.
//
// keyharvest collects keyword impression counts from the Wordstat
// suggestion service. It drives one browser session per account, each
// behind its own proxy and fingerprint, and merges what the workers
// collect into one result set.
//
// Usage:
//
//	keyharvest crawl "buy car" "rent car" --region 225
//	keyharvest crawl --file phrases.txt --mode depth --depth 2
//
// See --help for all available options.
package main

func main() {
	Execute()
}
