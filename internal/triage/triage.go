// Package triage implements the triage signal router: a fast, rule-based
// read of the caller's first substantive utterance. Triage emits signals
// only — an intent guess, urgency, symptoms — and never a response; the
// owner arbiter downstream decides what to do with them.
package triage

import (
	"strings"

	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/detect"
	"github.com/voxlinehq/voxline/internal/normalize"
)

// Skip reasons recorded when triage does not run: the tenant switched it
// off, or auto-on-problem is set and the turn carried no problem signal.
const (
	SkipDisabled        = "DISABLED"
	SkipNoProblemSignal = "NO_PROBLEM_SIGNAL"
)

// Signals is the triage output for one turn. When Attempted is false the
// zero values of the remaining fields carry no meaning except SkipReason.
type Signals struct {
	Attempted        bool     `json:"attempted"`
	SkipReason       string   `json:"skipReason,omitempty"`
	IntentGuess      string   `json:"intentGuess,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	CallReasonDetail string   `json:"callReasonDetail,omitempty"`
	Urgency          string   `json:"urgency,omitempty"`
	Symptoms         []string `json:"symptoms,omitempty"`
	MatchedCardID    string   `json:"matchedCardId,omitempty"`
}

// card is one intent card: ordered patterns voting for an intent. Cards are
// evaluated in declaration order; the best-scoring card wins and earlier
// cards win ties.
type card struct {
	id       string
	intent   string
	patterns []string
}

// cards is the built-in intent card table. Patterns are matched against the
// normalized utterance, so spoken variants arrive already canonicalised
// ("broken" → "not working").
var cards = []card{
	{
		id:     "card-emergency",
		intent: "emergency_service",
		patterns: []string{
			"flooding", "burst pipe", "gas leak", "smells like gas",
			"sparking", "smoke", "sewage", "no heat",
		},
	},
	{
		id:     "card-service-request",
		intent: "service_request",
		patterns: []string{
			"not working", "leaking", "is down", "went out", "stopped",
			"no power", "clogged", "making a noise", "repair", "fix",
			"won't turn on", "wont turn on",
		},
	},
	{
		id:     "card-booking",
		intent: "booking_request",
		patterns: []string{
			"schedule", "appointment", "book", "send someone", "come out",
			"set up a time",
		},
	},
	{
		id:     "card-billing",
		intent: "billing_question",
		patterns: []string{
			"bill", "invoice", "charge", "charged", "payment", "refund",
		},
	},
	{
		id:     "card-general",
		intent: "general_inquiry",
		patterns: []string{
			"hours", "are you open", "how much", "cost", "price", "estimate",
			"quote", "service area",
		},
	},
}

// Run evaluates the card table against the turn. It is a pure function of
// its inputs and never errors; a turn matching nothing yields Attempted true
// with an empty IntentGuess. With auto-on-problem set, triage only runs on
// turns where the describing-problem detector fired.
func Run(res normalize.Result, hits []detect.Hit, cfg config.Resolved) Signals {
	if !cfg.Triage.Enabled {
		return Signals{Attempted: false, SkipReason: SkipDisabled}
	}
	if cfg.Triage.AutoOnProblem {
		if _, ok := detect.Fired(hits, detect.DescribingProblem); !ok {
			return Signals{Attempted: false, SkipReason: SkipNoProblemSignal}
		}
	}

	sig := Signals{
		Attempted: true,
		Urgency:   res.Entities.Urgency,
	}
	if h, ok := detect.Fired(hits, detect.DescribingProblem); ok {
		sig.Symptoms = append(sig.Symptoms, h.Pattern)
	}
	sig.CallReasonDetail = normalize.FindProblemClause(res.Raw, cfg.DetectionTriggers.DescribingProblem)

	bestScore := 0.0
	for _, c := range cards {
		score := c.score(res.Normalized)
		if score > bestScore {
			bestScore = score
			sig.IntentGuess = c.intent
			sig.MatchedCardID = c.id
		}
	}
	if sig.IntentGuess == "" {
		return sig
	}

	// Urgency corroborates the guess without ever pushing it past 0.95.
	if sig.Urgency != "" {
		bestScore += 0.05
	}
	sig.Confidence = min(bestScore, 0.95)
	return sig
}

// score is 0 for no pattern hit, otherwise a base of 0.55 plus 0.15 per
// additional hit. Multiple corroborating patterns raise confidence; a single
// hit lands near the default triage floor.
func (c card) score(normalized string) float64 {
	hits := 0
	for _, p := range c.patterns {
		if containsPhrase(normalized, p) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return 0.55 + 0.15*float64(hits)
}

func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
