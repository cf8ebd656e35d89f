// Package opener picks the short acknowledgement prepended to discovery and
// booking responses ("Alright.", "Got it."). Selection is uniform random
// with an anti-repetition guard; terminal and transfer turns never get one.
package opener

import "math/rand"

// Pick chooses an opener from pool, excluding last unless the pool has only
// one entry. An empty pool yields the empty string.
func Pick(pool []string, last string, rng *rand.Rand) string {
	if len(pool) == 0 {
		return ""
	}
	if len(pool) == 1 {
		return pool[0]
	}
	candidates := make([]string, 0, len(pool))
	for _, o := range pool {
		if o != last {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		// Pool is all duplicates of last; repetition is unavoidable.
		return pool[0]
	}
	return candidates[rng.Intn(len(candidates))]
}
