// Package scenario implements the tiered scenario matcher and its stores.
// Scenarios are the knowledge tool of the dialogue pipeline: named, typed
// response templates with triggers and replies. Matching is tiered —
// rule-based keyword coverage, then statistical similarity, then an optional
// remote LLM — and strictly deterministic outside the LLM tier.
package scenario

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/voxlinehq/voxline/pkg/types"
)

// ReplyStrategy selects which reply pool a matched scenario draws from.
type ReplyStrategy string

const (
	StrategyQuickOnly     ReplyStrategy = "QUICK_ONLY"
	StrategyFullOnly      ReplyStrategy = "FULL_ONLY"
	StrategyQuickThenFull ReplyStrategy = "QUICK_THEN_FULL"
	StrategyAuto          ReplyStrategy = "AUTO"
	StrategyLLMWrap       ReplyStrategy = "LLM_WRAP"
)

// IsValid reports whether s is a recognised reply strategy.
func (s ReplyStrategy) IsValid() bool {
	switch s {
	case StrategyQuickOnly, StrategyFullOnly, StrategyQuickThenFull, StrategyAuto, StrategyLLMWrap:
		return true
	}
	return false
}

// FollowUpMode is what happens after a scenario reply is spoken.
type FollowUpMode string

const (
	FollowUpNone         FollowUpMode = "NONE"
	FollowUpAskQuestion  FollowUpMode = "ASK_FOLLOWUP_QUESTION"
	FollowUpAskIfBook    FollowUpMode = "ASK_IF_BOOK"
	FollowUpTransfer     FollowUpMode = "TRANSFER"
)

// IsValid reports whether m is a recognised follow-up mode.
func (m FollowUpMode) IsValid() bool {
	switch m {
	case FollowUpNone, FollowUpAskQuestion, FollowUpAskIfBook, FollowUpTransfer:
		return true
	}
	return false
}

// FollowUp describes a scenario's post-reply behaviour.
type FollowUp struct {
	Mode           FollowUpMode `json:"mode" yaml:"mode"`
	QuestionText   string       `json:"questionText,omitempty" yaml:"question_text"`
	TransferTarget string       `json:"transferTarget,omitempty" yaml:"transfer_target"`
}

// Reply is one weighted response variant. AudioURL points to a pre-recorded
// artifact when the tenant has one; the webhook layer plays it instead of
// synthesising Text.
type Reply struct {
	Text     string `json:"text" yaml:"text"`
	Weight   int    `json:"weight,omitempty" yaml:"weight"`
	AudioURL string `json:"audioUrl,omitempty" yaml:"audio_url"`
}

// Scenario is a named, typed response template. Scenarios never hold
// back-references to tenants or calls; call state refers to them by ID.
type Scenario struct {
	ID               string             `json:"id" yaml:"id"`
	Type             types.ScenarioType `json:"type" yaml:"type"`
	Triggers         []string           `json:"triggers" yaml:"triggers"`
	NegativeTriggers []string           `json:"negativeTriggers,omitempty" yaml:"negative_triggers"`
	MinConfidence    float64            `json:"minConfidence" yaml:"min_confidence"`
	ReplyStrategy    ReplyStrategy      `json:"replyStrategy" yaml:"reply_strategy"`
	QuickReplies     []Reply            `json:"quickReplies,omitempty" yaml:"quick_replies"`
	FullReplies      []Reply            `json:"fullReplies,omitempty" yaml:"full_replies"`
	FollowUp         FollowUp           `json:"followUp" yaml:"follow_up"`
	Priority         int                `json:"priority" yaml:"priority"`

	// Embedding is an optional precomputed trigger embedding maintained by
	// the admin layer. When present on both the scenario and the store's
	// query side, Tier-2 blends cosine similarity into its score.
	Embedding []float32 `json:"-" yaml:"-"`
}

// Validate checks the scenario invariants.
func (s Scenario) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("scenario id is required"))
	}
	if !s.Type.IsValid() {
		errs = append(errs, fmt.Errorf("scenario %s: unknown type %q", s.ID, s.Type))
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("scenario %s: min_confidence %.2f out of range [0, 1]", s.ID, s.MinConfidence))
	}
	if len(s.Triggers) == 0 {
		errs = append(errs, fmt.Errorf("scenario %s: at least one trigger is required", s.ID))
	}
	if len(s.QuickReplies) == 0 && len(s.FullReplies) == 0 {
		errs = append(errs, fmt.Errorf("scenario %s: at least one of quick_replies/full_replies must be non-empty", s.ID))
	}
	if s.ReplyStrategy != "" && !s.ReplyStrategy.IsValid() {
		errs = append(errs, fmt.Errorf("scenario %s: unknown reply_strategy %q", s.ID, s.ReplyStrategy))
	}
	if s.FollowUp.Mode != "" && !s.FollowUp.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("scenario %s: unknown follow_up mode %q", s.ID, s.FollowUp.Mode))
	}
	// TRANSFER with an empty target is legal at rest — the runtime falls
	// through to the flow runner — but worth surfacing to operators.
	return errors.Join(errs...)
}

// PickReply selects a reply variant for the given channel using weighted
// random choice over the pool the strategy dictates. Only reply selection is
// randomised; matching never is. On voice, strategies with both pools
// strongly prefer full replies.
func PickReply(s Scenario, channel types.Channel, rng *rand.Rand) Reply {
	pool := replyPool(s, channel)
	if len(pool) == 0 {
		return Reply{}
	}
	if len(pool) == 1 {
		return pool[0]
	}
	total := 0
	for _, r := range pool {
		total += weight(r)
	}
	n := rng.Intn(total)
	for _, r := range pool {
		n -= weight(r)
		if n < 0 {
			return r
		}
	}
	return pool[len(pool)-1]
}

func replyPool(s Scenario, channel types.Channel) []Reply {
	quick, full := s.QuickReplies, s.FullReplies
	switch s.ReplyStrategy {
	case StrategyQuickOnly:
		if len(quick) > 0 {
			return quick
		}
		return full
	case StrategyFullOnly:
		if len(full) > 0 {
			return full
		}
		return quick
	case StrategyQuickThenFull:
		// Quick opener plus full body are concatenated by the caller; the
		// pool here is the full body (the quick part is handled as an opener).
		if len(full) > 0 {
			return full
		}
		return quick
	case StrategyAuto, StrategyLLMWrap, "":
		// AUTO on voice prefers full replies when present.
		if channel == types.ChannelVoice && len(full) > 0 {
			return full
		}
		if len(quick) > 0 {
			return quick
		}
		return full
	}
	return append(append([]Reply(nil), quick...), full...)
}

func weight(r Reply) int {
	if r.Weight <= 0 {
		return 1
	}
	return r.Weight
}
