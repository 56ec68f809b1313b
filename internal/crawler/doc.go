// Package crawler runs the per-account crawl over one phrase batch.
//
// A Worker owns one browser session and issues queries strictly one at a
// time. For each phrase it either collects the flat frequency counts (ws,
// qws, bws) or expands the phrase level by level into related suggestions:
//
//	frontier := [seed]; level := 1
//	while level <= depth and frontier is not empty:
//	    for q in frontier: query q, click "show more" until exhausted,
//	        keep rows with shows >= min_shows that are neither q nor the seed,
//	        record them as FrontierNode{parent=q, level}
//	    frontier := per parent, rows with shows >= expand_min,
//	        by shows descending, first K
//	    level++
//
// Siblings under different parents are not deduplicated against each other.
//
// Cancellation is cooperative. The stop signal is observed between phrases;
// a query already handed to the browser runs to its own timeout. When the
// session reports that login is required, the worker stops at once and
// returns what it has collected together with the unprocessed phrases.
package crawler
