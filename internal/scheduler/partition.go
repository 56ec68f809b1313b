package scheduler

import "github.com/nao1215/keyharvest/internal/phrase"

// Partition splits the deduplicated phrases into n batches whose sizes
// differ by at most one. The remainder goes to the first batches, and each
// phrase lands in exactly one batch in input order. n <= 0 returns nil.
func Partition(phrases []string, n int) [][]string {
	if n <= 0 {
		return nil
	}
	unique := phrase.Normalize(phrases)
	size, extra := len(unique)/n, len(unique)%n

	batches := make([][]string, n)
	start := 0
	for i := range batches {
		end := start + size
		if i < extra {
			end++
		}
		batches[i] = unique[start:end:end]
		start = end
	}
	return batches
}
