package normalize

import (
	"regexp"
	"strings"
)

// Entity extraction is rule-based by design: uncertainty is expressed by
// leaving the field empty, never by guessing. Patterns run against the raw
// (case-preserving) transcript because capitalisation carries name and
// address signal that the lowercased view has lost.

var (
	// "this is Mrs. Johnson", "my name is John Smith", "I'm Dave"
	nameRe = regexp.MustCompile(`(?i)\b(?:this is|my name is|i am|i'm|it's|name's)\s+` +
		`((?:Mr|Mrs|Ms|Dr|Miss)\.?\s+)?([A-Z][a-z]+)(?:\s+([A-Z][a-z]+))?`)

	// street number + street name + suffix, optionally followed by a
	// capitalised city of up to three words ("123 Market St Fort Myers").
	addressRe = regexp.MustCompile(`\b(\d{1,6}(?:\s+[A-Za-z'-]+){1,3}\s+` +
		`(?:St|Street|Ave|Avenue|Rd|Road|Dr|Drive|Blvd|Boulevard|Ln|Lane|Way|Ct|Court|Pl|Place|Cir|Circle)\.?)` +
		`((?:\s+[A-Z][a-z]+){0,3})`)

	phoneRe = regexp.MustCompile(`\+?[\d][\d\s().-]{6,18}\d`)

	nonDigit = regexp.MustCompile(`\D`)
)

// urgencyMarkers are checked in order; the first hit wins so "emergency"
// outranks plain urgency words.
var urgencyMarkers = []struct {
	level string
	words []string
}{
	{"emergency", []string{"emergency", "flooding", "gas leak", "sparking", "smoke", "fire"}},
	{"urgent", []string{"urgent", "asap", "right away", "as soon as possible", "today", "immediately"}},
}

// serviceMarkers map canonical service types to the phrases that signal them
// in the normalized text.
var serviceMarkers = map[string][]string{
	"hvac":       {"air conditioning", "heating", "furnace", "heat pump", "thermostat"},
	"plumbing":   {"plumbing", "pipe", "drain", "water heater", "faucet", "toilet"},
	"electrical": {"electrical", "breaker", "outlet", "wiring", "panel"},
}

func extractEntities(raw, normalized string) Entities {
	var e Entities

	if m := nameRe.FindStringSubmatch(raw); m != nil {
		honorific, first, second := m[1], m[2], m[3]
		switch {
		case second != "":
			e.FirstName, e.LastName = first, second
		case honorific != "":
			// "Mrs. Johnson" — a lone honorific-prefixed name is a surname.
			e.LastName = first
		default:
			e.FirstName = first
		}
	}

	for _, m := range addressRe.FindAllStringSubmatch(raw, -1) {
		frag := strings.TrimSpace(m[1] + m[2])
		if frag != "" {
			e.AddressFragments = append(e.AddressFragments, frag)
		}
	}

	if p := normalizePhone(phoneRe.FindString(raw)); p != "" {
		e.Phone = p
	}

	for _, marker := range urgencyMarkers {
		for _, w := range marker.words {
			if containsPhrase(normalized, w) {
				e.Urgency = marker.level
				break
			}
		}
		if e.Urgency != "" {
			break
		}
	}

	for svc, words := range serviceMarkers {
		for _, w := range words {
			if containsPhrase(normalized, w) {
				e.ServiceType = svc
				break
			}
		}
		if e.ServiceType != "" {
			break
		}
	}

	return e
}

// normalizePhone converts a raw phone match to E.164. Returns "" when the
// digits cannot be normalised — a failed normalisation yields absence, not a
// malformed value.
func normalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	hadPlus := strings.HasPrefix(strings.TrimSpace(raw), "+")
	digits := nonDigit.ReplaceAllString(raw, "")
	switch {
	case hadPlus && len(digits) >= 8 && len(digits) <= 15:
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return ""
	}
}

// containsPhrase reports whether text contains phrase on word boundaries.
func containsPhrase(text, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		leftOK := start == 0 || text[start-1] == ' '
		rightOK := end == len(text) || text[end] == ' '
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

// FindProblemClause returns the shortest raw-text clause containing one of
// the problem patterns, used by the call-reason extractor to capture the
// caller's own words ("AC is down"). Clauses split on commas, dashes and
// sentence punctuation. Returns "" when no clause matches.
func FindProblemClause(raw string, patterns []string) string {
	clauses := splitClauses(raw)
	best := ""
	for _, c := range clauses {
		lc := strings.ToLower(c)
		for _, p := range patterns {
			if strings.Contains(lc, strings.ToLower(p)) {
				if best == "" || len(c) < len(best) {
					best = c
				}
				break
			}
		}
	}
	return best
}

func splitClauses(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', '.', '!', '?', ';', '—', '–':
			return true
		}
		return false
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		// " - " as a clause break, but keep hyphenated words intact.
		for _, part := range strings.Split(f, " - ") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
