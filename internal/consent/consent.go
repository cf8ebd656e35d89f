// Package consent implements the booking consent gate. It decides whether
// the caller has agreed to book, by direct request, by accepting an offer,
// or via the emergency fast path, and nothing else: the gate flips the
// lane, it never speaks.
package consent

import "strings"

// Decision is the gate's verdict for one turn.
type Decision struct {
	// Consent is true when the caller agreed to book this turn.
	Consent bool

	// Matched is the phrase that carried the decision, for the journal.
	Matched string

	// Direct is true when the caller asked to book unprompted, as opposed
	// to accepting an offer.
	Direct bool

	// Emergency is true when consent came from the fast path: the caller
	// described an emergency-grade situation, which implies a visit.
	Emergency bool
}

// directIntent are unprompted booking requests. Evaluated against the
// normalized utterance with word boundaries, in order.
var directIntent = []string{
	"book an appointment", "make an appointment", "schedule an appointment",
	"set up an appointment", "schedule a visit", "schedule service",
	"send someone out", "send a technician", "get someone out here",
	"i need an appointment", "can you come out", "come take a look",
}

// acceptance phrases only count when the assistant just offered to book;
// a bare "yes" mid-story is not consent.
var acceptance = []string{
	"yes", "yeah", "yep", "sure", "please do", "that works", "sounds good",
	"go ahead", "okay", "ok", "lets do that", "let's do that", "yes please",
}

// declination phrases veto consent even after an offer.
var declination = []string{
	"no", "not yet", "not right now", "no thanks", "maybe later",
	"just a question", "i'll call back", "ill call back",
}

// fastPath phrases describe emergency-grade situations that skip the offer
// entirely. Checked before declination: "no heat" must not read as a "no".
var fastPath = []string{
	"emergency", "flooding", "burst pipe", "pipe burst", "gas leak",
	"smells like gas", "smell gas", "sparking", "no heat", "no hot water",
	"sewage backing up", "sewage backup",
}

// Evaluate inspects the normalized utterance. offerPending reports whether
// the previous assistant turn asked the caller if they would like to book.
func Evaluate(normalized string, offerPending bool) Decision {
	for _, p := range fastPath {
		if containsPhrase(normalized, p) {
			return Decision{Consent: true, Matched: p, Emergency: true}
		}
	}
	for _, p := range declination {
		if containsPhrase(normalized, p) {
			return Decision{}
		}
	}
	for _, p := range directIntent {
		if containsPhrase(normalized, p) {
			return Decision{Consent: true, Matched: p, Direct: true}
		}
	}
	if offerPending {
		for _, p := range acceptance {
			if containsPhrase(normalized, p) {
				return Decision{Consent: true, Matched: p}
			}
		}
	}
	return Decision{}
}

func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
