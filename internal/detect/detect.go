// Package detect implements the detection trigger engine: four ordered
// pattern sets scanned against the normalized turn. Hits steer mid-pipeline
// behaviour (annotation, empathy interjections, refusal bookkeeping); they
// never produce responses on their own.
package detect

import (
	"strings"

	"github.com/voxlinehq/voxline/internal/config"
)

// Kind names one of the four detection sets.
type Kind string

const (
	DescribingProblem  Kind = "DESCRIBING_PROBLEM"
	TrustConcern       Kind = "TRUST_CONCERN"
	CallerFeelsIgnored Kind = "CALLER_FEELS_IGNORED"
	RefusedSlot        Kind = "REFUSED_SLOT"
)

// Hit is one fired detection with the pattern that fired it.
type Hit struct {
	Kind    Kind
	Pattern string
}

// Scan evaluates the four sets in their fixed order against the normalized
// text. Within a set, patterns are tried in declaration order and the first
// hit wins; a set fires at most once per turn.
func Scan(normalized string, trig config.DetectionTriggers) []Hit {
	var hits []Hit
	sets := []struct {
		kind     Kind
		patterns []string
	}{
		{DescribingProblem, trig.DescribingProblem},
		{TrustConcern, trig.TrustConcern},
		{CallerFeelsIgnored, trig.CallerFeelsIgnored},
		{RefusedSlot, trig.RefusedSlot},
	}
	for _, set := range sets {
		for _, p := range set.patterns {
			if containsPhrase(normalized, strings.ToLower(p)) {
				hits = append(hits, Hit{Kind: set.kind, Pattern: p})
				break
			}
		}
	}
	return hits
}

// Fired reports whether kind is among the hits.
func Fired(hits []Hit, kind Kind) (Hit, bool) {
	for _, h := range hits {
		if h.Kind == kind {
			return h, true
		}
	}
	return Hit{}, false
}

func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
