package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxlinehq/voxline/internal/resilience"
	"github.com/voxlinehq/voxline/pkg/provider/llm"
	"github.com/voxlinehq/voxline/pkg/types"
)

// Options scope one Match call.
type Options struct {
	// MinConfidence is the caller's floor. The effective gate per scenario
	// is the stricter of this and the scenario's own MinConfidence.
	MinConfidence float64

	// AllowedTypes restricts candidates to these types. Empty allows all.
	AllowedTypes []types.ScenarioType

	// AllowTier3 enables the LLM fallback tier. Triage runs with it off.
	AllowTier3 bool

	// Channel influences nothing in matching; it is threaded through so
	// reply selection downstream sees it.
	Channel types.Channel
}

// Match is a successful scenario resolution.
type Match struct {
	Scenario Scenario
	Score    float64
	Tier     int    // 1 rule-based, 2 statistical, 3 LLM
	Reason   string // human-readable provenance for the journal
}

// Matcher resolves an utterance against a candidate catalogue in up to three
// tiers: deterministic keyword coverage, BM25 similarity with phonetic
// near-miss terms, and an optional LLM pick. Tiers 1 and 2 are pure
// functions of their inputs; only Tier-3 touches the network, and it sits
// behind a circuit breaker. Matcher never returns an error: a failed or
// vetoed match is a nil result.
type Matcher struct {
	tier3   llm.Provider
	breaker *resilience.Breaker
	log     *slog.Logger

	// OnTierError is called when Tier-3 fails; the pipeline journals it.
	OnTierError func(tier int, err error)
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithTier3 arms the LLM fallback tier. The breaker is required so a flaky
// backend cannot stall the turn loop.
func WithTier3(p llm.Provider, b *resilience.Breaker) MatcherOption {
	return func(m *Matcher) {
		m.tier3 = p
		m.breaker = b
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) MatcherOption {
	return func(m *Matcher) {
		m.log = log
	}
}

// NewMatcher constructs a Matcher.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{log: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match resolves utterance against candidates. The utterance should be the
// expanded normalized text. Candidates keep their declaration order, which
// is the final tiebreak after score and priority.
func (m *Matcher) Match(ctx context.Context, utterance string, candidates []Scenario, opts Options) *Match {
	eligible := filterTypes(candidates, opts.AllowedTypes)
	if len(eligible) == 0 || strings.TrimSpace(utterance) == "" {
		return nil
	}

	tokens := strings.Fields(utterance)
	survivors := make([]Scenario, 0, len(eligible))
	for _, sc := range eligible {
		if vetoed(utterance, sc.NegativeTriggers) {
			continue
		}
		survivors = append(survivors, sc)
	}
	if len(survivors) == 0 {
		return nil
	}

	if res := m.tier1(utterance, survivors, opts); res != nil {
		return res
	}
	if res := m.tier2(tokens, survivors, opts); res != nil {
		return res
	}
	if opts.AllowTier3 && m.tier3 != nil {
		return m.tier3Pick(ctx, utterance, survivors, opts)
	}
	return nil
}

// tier1 scores each survivor by keyword coverage: the best trigger's share
// of tokens present in the utterance with word boundaries. A full phrase hit
// scores 1.
func (m *Matcher) tier1(utterance string, survivors []Scenario, opts Options) *Match {
	best, bestScore := -1, 0.0
	for i, sc := range survivors {
		score := 0.0
		for _, trig := range sc.Triggers {
			score = max(score, coverage(utterance, trig))
		}
		if betterCandidate(score, bestScore, i, best, survivors) {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}
	sc := survivors[best]
	if bestScore < gate(opts, sc) {
		return nil
	}
	return &Match{
		Scenario: sc,
		Score:    bestScore,
		Tier:     1,
		Reason:   fmt.Sprintf("keyword coverage %.2f", bestScore),
	}
}

// tier2 scores survivors with the BM25 index built over their triggers.
func (m *Matcher) tier2(tokens []string, survivors []Scenario, opts Options) *Match {
	idx := newBM25Index(survivors)
	best, bestScore := -1, 0.0
	for i := range survivors {
		score := idx.score(i, tokens)
		if betterCandidate(score, bestScore, i, best, survivors) {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}
	sc := survivors[best]
	if bestScore < gate(opts, sc) {
		return nil
	}
	return &Match{
		Scenario: sc,
		Score:    bestScore,
		Tier:     2,
		Reason:   fmt.Sprintf("bm25 similarity %.2f", bestScore),
	}
}

const tier3SystemPrompt = `You route a caller utterance to at most one scenario from a fixed catalogue.
Respond ONLY with JSON: {"scenarioId": "<id or empty string>", "confidence": 0.0-1.0, "rationale": "<one sentence>"}.
Pick a scenario only when the utterance clearly asks for it. When unsure, return an empty scenarioId.`

type tier3Response struct {
	ScenarioID string  `json:"scenarioId"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// tier3Pick asks the LLM to choose among the survivors. Any failure — open
// breaker, transport, unparseable or unknown answer — degrades to no match.
func (m *Matcher) tier3Pick(ctx context.Context, utterance string, survivors []Scenario, opts Options) *Match {
	var sb strings.Builder
	for _, sc := range survivors {
		fmt.Fprintf(&sb, "- id=%s type=%s triggers=%q\n", sc.ID, sc.Type, strings.Join(sc.Triggers, "; "))
	}

	var resp *llm.CompletionResponse
	err := m.breaker.Do(ctx, func(ctx context.Context) error {
		var cerr error
		resp, cerr = m.tier3.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: tier3SystemPrompt,
			Messages: []llm.Message{{
				Role:    "user",
				Content: fmt.Sprintf("Catalogue:\n%sUtterance: %q", sb.String(), utterance),
			}},
			MaxTokens: 256,
			JSONOnly:  true,
		})
		return cerr
	})
	if err != nil {
		m.log.Warn("scenario: tier3 match failed", "error", err)
		if m.OnTierError != nil {
			m.OnTierError(3, err)
		}
		return nil
	}

	var parsed tier3Response
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		m.log.Warn("scenario: tier3 returned unparseable JSON", "content", resp.Content)
		if m.OnTierError != nil {
			m.OnTierError(3, fmt.Errorf("scenario: decode tier3 response: %w", err))
		}
		return nil
	}
	if parsed.ScenarioID == "" {
		return nil
	}
	for _, sc := range survivors {
		if sc.ID != parsed.ScenarioID {
			continue
		}
		if parsed.Confidence < gate(opts, sc) {
			return nil
		}
		return &Match{
			Scenario: sc,
			Score:    parsed.Confidence,
			Tier:     3,
			Reason:   parsed.Rationale,
		}
	}
	m.log.Warn("scenario: tier3 picked unknown scenario", "id", parsed.ScenarioID)
	return nil
}

// betterCandidate applies the deterministic tiebreak: score, then priority,
// then declaration order (earlier wins, so a tie never displaces).
func betterCandidate(score, bestScore float64, i, best int, survivors []Scenario) bool {
	if score <= 0 {
		return false
	}
	if best < 0 || score > bestScore {
		return true
	}
	if score == bestScore && survivors[i].Priority > survivors[best].Priority {
		return true
	}
	return false
}

// gate is the stricter of the caller's and the scenario's confidence floors.
func gate(opts Options, sc Scenario) float64 {
	return max(opts.MinConfidence, sc.MinConfidence)
}

// coverage is the fraction of the trigger's tokens present in the utterance
// with word boundaries. A contiguous phrase hit is full coverage.
func coverage(utterance, trigger string) float64 {
	trig := strings.ToLower(strings.TrimSpace(trigger))
	if trig == "" {
		return 0
	}
	if containsPhrase(utterance, trig) {
		return 1
	}
	toks := strings.Fields(trig)
	hit := 0
	for _, t := range toks {
		if containsPhrase(utterance, t) {
			hit++
		}
	}
	return float64(hit) / float64(len(toks))
}

// vetoed reports whether any negative trigger phrase appears.
func vetoed(utterance string, negatives []string) bool {
	for _, neg := range negatives {
		if containsPhrase(utterance, strings.ToLower(neg)) {
			return true
		}
	}
	return false
}

// containsPhrase is word-boundary phrase containment over space-separated
// tokens.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	padded := " " + text + " "
	return strings.Contains(padded, " "+phrase+" ")
}

func filterTypes(candidates []Scenario, allowed []types.ScenarioType) []Scenario {
	if len(allowed) == 0 {
		return candidates
	}
	set := make(map[types.ScenarioType]struct{}, len(allowed))
	for _, t := range allowed {
		set[t] = struct{}{}
	}
	out := make([]Scenario, 0, len(candidates))
	for _, sc := range candidates {
		if _, ok := set[sc.Type]; ok {
			out = append(out, sc)
		}
	}
	return out
}
