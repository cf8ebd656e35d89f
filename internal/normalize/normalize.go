// Package normalize implements the text normalizer: the first, purely
// computational stage of every turn. It lowercases and de-noises the raw
// transcript, applies the tenant vocabulary, and extracts rule-based entity
// hints for the slot extractors.
//
// All operations are deterministic, idempotent, and side-effect free. The
// normalizer never drops content-bearing tokens: only declared filler tokens
// are removed, and ambiguous vocabulary substitutions keep the original term
// alongside the expansion in the parallel Expanded view consumed only by the
// scenario matcher.
package normalize

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/voxlinehq/voxline/internal/config"
)

// fuzzyVocabThreshold is the Jaro-Winkler floor for treating a token as a
// near-miss of a vocabulary key. Applied only when the double metaphone also
// agrees, and only in the Expanded view.
const fuzzyVocabThreshold = 0.92

// Result is the output of one normalization pass.
type Result struct {
	// Raw is the transcript as received (whitespace-collapsed only), kept for
	// entity extraction that needs capitalisation.
	Raw string

	// Normalized is the canonical lowercased view: fillers removed,
	// unambiguous vocabulary substitutions applied. This is the pipeline's
	// input-text truth.
	Normalized string

	// Expanded is Normalized plus fuzzy vocabulary hits appended alongside
	// their originals. Used only by the scenario matcher.
	Expanded string

	// Entities holds the rule-extracted entity hints.
	Entities Entities
}

// Entities are rule-based extraction hints. Absent values are empty strings;
// the normalizer never guesses.
type Entities struct {
	FirstName        string
	LastName         string
	Phone            string // E.164 when normalisable, else empty
	AddressFragments []string
	Urgency          string // "", "urgent", or "emergency"
	ServiceType      string
}

// phrase is one vocabulary entry prepared for token-window matching.
type phrase struct {
	tokens      []string
	replacement string // "" means remove (filler)
}

// Normalizer applies a tenant's merged vocabulary. Construct one per
// resolved config snapshot; it is immutable and safe for concurrent use.
type Normalizer struct {
	phrases  []phrase // fillers + expansions + synonyms, longest first
	maxWords int

	// fuzzyKeys are single-word vocabulary keys eligible for phonetic
	// near-miss matching in the Expanded view.
	fuzzyKeys map[string]string // metaphone primary → replacement
	fuzzyOrig map[string]string // metaphone primary → original key
}

// New builds a Normalizer from the tenant vocabulary.
func New(vocab config.Vocabulary) *Normalizer {
	n := &Normalizer{
		fuzzyKeys: make(map[string]string),
		fuzzyOrig: make(map[string]string),
	}

	add := func(from, to string) {
		toks := strings.Fields(strings.ToLower(from))
		if len(toks) == 0 {
			return
		}
		n.phrases = append(n.phrases, phrase{tokens: toks, replacement: strings.ToLower(to)})
		if len(toks) > n.maxWords {
			n.maxWords = len(toks)
		}
		if len(toks) == 1 && to != "" {
			p, _ := matchr.DoubleMetaphone(toks[0])
			if p != "" {
				n.fuzzyKeys[p] = strings.ToLower(to)
				n.fuzzyOrig[p] = toks[0]
			}
		}
	}

	for _, f := range vocab.Fillers {
		add(f, "")
	}
	for from, to := range vocab.Expansions {
		add(from, to)
	}
	for from, to := range vocab.Synonyms {
		add(from, to)
	}

	// Longest phrases first so multi-word entries win over their prefixes.
	sortPhrases(n.phrases)
	return n
}

// Normalize runs the full pass over raw and returns the Result. Applying
// Normalize to its own Normalized output yields the same Normalized text.
func (n *Normalizer) Normalize(raw string) Result {
	collapsed := strings.Join(strings.Fields(raw), " ")
	lowered := strings.ToLower(stripPunct(collapsed))

	normTokens, expTokens := n.applyVocabulary(strings.Fields(lowered))

	return Result{
		Raw:        collapsed,
		Normalized: strings.Join(normTokens, " "),
		Expanded:   strings.Join(expTokens, " "),
		Entities:   extractEntities(collapsed, strings.Join(normTokens, " ")),
	}
}

// applyVocabulary walks tokens with an n-gram window, longest match first —
// the same cursor-advance scheme the transcript corrector uses for entity
// alignment. It returns the normalized token stream and the expanded stream.
func (n *Normalizer) applyVocabulary(tokens []string) (norm, exp []string) {
	i := 0
	for i < len(tokens) {
		maxN := n.maxWords
		if maxN == 0 {
			maxN = 1
		}
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for w := maxN; w >= 1; w-- {
			window := tokens[i : i+w]
			repl, ok := n.lookup(window)
			if !ok {
				continue
			}
			if repl != "" {
				rt := strings.Fields(repl)
				norm = append(norm, rt...)
				exp = append(exp, rt...)
			}
			i += w
			matched = true
			break
		}
		if matched {
			continue
		}

		tok := tokens[i]
		norm = append(norm, tok)
		exp = append(exp, tok)

		// Fuzzy near-miss: phonetically equal to a vocabulary key and very
		// close lexically. The expansion is appended, never substituted, so
		// the matcher sees both forms and nothing content-bearing is lost.
		if p, _ := matchr.DoubleMetaphone(tok); p != "" {
			if repl, ok := n.fuzzyKeys[p]; ok && tok != n.fuzzyOrig[p] && tok != repl {
				if matchr.JaroWinkler(tok, n.fuzzyOrig[p], false) >= fuzzyVocabThreshold {
					exp = append(exp, strings.Fields(repl)...)
				}
			}
		}
		i++
	}
	return norm, exp
}

// lookup finds an exact phrase entry for the window.
func (n *Normalizer) lookup(window []string) (string, bool) {
	for _, p := range n.phrases {
		if len(p.tokens) != len(window) {
			continue
		}
		same := true
		for j := range window {
			if window[j] != p.tokens[j] {
				same = false
				break
			}
		}
		if same {
			return p.replacement, true
		}
	}
	return "", false
}

// sortPhrases orders entries longest-first, then lexically for determinism.
func sortPhrases(ps []phrase) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && less(ps[j], ps[j-1]); j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

func less(a, b phrase) bool {
	if len(a.tokens) != len(b.tokens) {
		return len(a.tokens) > len(b.tokens)
	}
	return strings.Join(a.tokens, " ") < strings.Join(b.tokens, " ")
}

// stripPunct removes sentence punctuation that carries no slot information,
// keeping characters that do (digits, apostrophes, slashes for shorthand
// like "a/c", plus signs for phone numbers).
func stripPunct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '.', ',', '!', '?', ';', ':', '—', '–', '"', '(', ')':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
