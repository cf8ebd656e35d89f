package scenario

import (
	"math"
	"strings"

	"github.com/antzucaro/matchr"
)

// BM25 tuning constants, standard Robertson values.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// fuzzyTermThreshold is the Jaro-Winkler floor for mapping an unknown query
// token onto a corpus term. The double metaphone must also agree, mirroring
// the normalizer's near-miss rule.
const fuzzyTermThreshold = 0.88

// bm25Index scores utterances against a fixed corpus of trigger documents.
// Scores are normalised by each document's self-match score so they land in
// [0, 1] and are comparable across documents of different lengths. The index
// is immutable after build and fully deterministic.
type bm25Index struct {
	docs    []map[string]int // term frequencies per document
	lens    []int
	avgLen  float64
	df      map[string]int // document frequency per term
	selfRaw []float64      // raw BM25 score of each doc against itself
	terms   []string       // sorted corpus vocabulary, for fuzzy mapping
}

// newBM25Index builds the index over one document per candidate, where each
// document is the candidate's triggers joined together.
func newBM25Index(candidates []Scenario) *bm25Index {
	idx := &bm25Index{df: make(map[string]int)}

	total := 0
	for _, sc := range candidates {
		tf := make(map[string]int)
		n := 0
		for _, trig := range sc.Triggers {
			for _, tok := range strings.Fields(strings.ToLower(trig)) {
				tf[tok]++
				n++
			}
		}
		for term := range tf {
			idx.df[term]++
		}
		idx.docs = append(idx.docs, tf)
		idx.lens = append(idx.lens, n)
		total += n
	}
	if len(candidates) > 0 {
		idx.avgLen = float64(total) / float64(len(candidates))
	}

	for term := range idx.df {
		idx.terms = append(idx.terms, term)
	}
	sortTerms(idx.terms)

	for i := range idx.docs {
		var self []string
		for term, tf := range idx.docs[i] {
			for j := 0; j < tf; j++ {
				self = append(self, term)
			}
		}
		idx.selfRaw = append(idx.selfRaw, idx.raw(i, self))
	}
	return idx
}

// score returns the normalised BM25 score of the query tokens against doc i.
func (idx *bm25Index) score(i int, query []string) float64 {
	if i >= len(idx.selfRaw) || idx.selfRaw[i] == 0 {
		return 0
	}
	s := idx.raw(i, idx.mapTerms(query)) / idx.selfRaw[i]
	if s > 1 {
		s = 1
	}
	return s
}

// raw computes the unnormalised BM25 sum for doc i.
func (idx *bm25Index) raw(i int, query []string) float64 {
	tf := idx.docs[i]
	dl := float64(idx.lens[i])
	n := float64(len(idx.docs))

	var sum float64
	for _, term := range query {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		df := float64(idx.df[term])
		// +1 keeps the IDF positive for terms present in most documents.
		iidf := math.Log(1 + (n-df+0.5)/(df+0.5))
		sum += iidf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/idx.avgLen))
	}
	return sum
}

// mapTerms replaces query tokens absent from the corpus vocabulary with their
// phonetic near-miss in it, when one exists. Exact tokens pass through.
func (idx *bm25Index) mapTerms(query []string) []string {
	out := make([]string, 0, len(query))
	for _, tok := range query {
		if _, known := idx.df[tok]; known {
			out = append(out, tok)
			continue
		}
		if mapped, ok := idx.nearMiss(tok); ok {
			out = append(out, mapped)
			continue
		}
		out = append(out, tok)
	}
	return out
}

// nearMiss finds the best corpus term phonetically equal and lexically close
// to tok. Ties resolve to the lexically smallest term via the sorted scan.
func (idx *bm25Index) nearMiss(tok string) (string, bool) {
	tokPh, _ := matchr.DoubleMetaphone(tok)
	if tokPh == "" {
		return "", false
	}
	best, bestScore := "", 0.0
	for _, term := range idx.terms {
		ph, _ := matchr.DoubleMetaphone(term)
		if ph != tokPh {
			continue
		}
		if jw := matchr.JaroWinkler(tok, term, false); jw >= fuzzyTermThreshold && jw > bestScore {
			best, bestScore = term, jw
		}
	}
	return best, best != ""
}

func sortTerms(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
