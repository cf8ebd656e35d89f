package scenario_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/voxlinehq/voxline/internal/resilience"
	"github.com/voxlinehq/voxline/internal/scenario"
	"github.com/voxlinehq/voxline/pkg/provider/llm"
	llmmock "github.com/voxlinehq/voxline/pkg/provider/llm/mock"
	"github.com/voxlinehq/voxline/pkg/types"
)

func catalogue() []scenario.Scenario {
	return []scenario.Scenario{
		{
			ID:       "faq-hours",
			Type:     types.ScenarioFAQ,
			Triggers: []string{"what are your hours", "when are you open"},
			QuickReplies: []scenario.Reply{
				{Text: "We are open weekdays eight to five."},
			},
		},
		{
			ID:               "faq-pricing",
			Type:             types.ScenarioFAQ,
			Triggers:         []string{"how much does it cost", "service call fee"},
			NegativeTriggers: []string{"invoice"},
			QuickReplies: []scenario.Reply{
				{Text: "Our standard service call is ninety five dollars."},
			},
		},
		{
			ID:       "emergency-flood",
			Type:     types.ScenarioEmergency,
			Triggers: []string{"flooding", "burst pipe", "water everywhere"},
			Priority: 10,
			FullReplies: []scenario.Reply{
				{Text: "That sounds urgent. I am getting someone out to you right away."},
			},
			FollowUp: scenario.FollowUp{Mode: scenario.FollowUpTransfer, TransferTarget: "dispatch"},
		},
		{
			ID:       "troubleshoot-water-heater",
			Type:     types.ScenarioTroubleshoot,
			Triggers: []string{"water heater"},
			FullReplies: []scenario.Reply{
				{Text: "Check whether the pilot light is on before we send anyone."},
			},
		},
	}
}

func TestMatch_Tier1ExactPhrase(t *testing.T) {
	t.Parallel()

	m := scenario.NewMatcher()
	got := m.Match(context.Background(), "when are you open on saturdays", catalogue(), scenario.Options{MinConfidence: 0.6})
	if got == nil {
		t.Fatal("want a match, got nil")
	}
	if got.Scenario.ID != "faq-hours" || got.Tier != 1 {
		t.Fatalf("want faq-hours at tier 1, got %s at tier %d", got.Scenario.ID, got.Tier)
	}
	if got.Score != 1 {
		t.Fatalf("full phrase hit must score 1, got %.2f", got.Score)
	}
}

func TestMatch_NegativeTriggerVetoes(t *testing.T) {
	t.Parallel()

	m := scenario.NewMatcher()
	got := m.Match(context.Background(), "how much does it cost on my last invoice", catalogue(), scenario.Options{MinConfidence: 0.6})
	if got != nil && got.Scenario.ID == "faq-pricing" {
		t.Fatalf("negative trigger must veto faq-pricing, got %+v", got)
	}
}

func TestMatch_PriorityBreaksScoreTie(t *testing.T) {
	t.Parallel()

	cands := []scenario.Scenario{
		{ID: "a", Type: types.ScenarioFAQ, Triggers: []string{"pilot light"}, QuickReplies: []scenario.Reply{{Text: "a"}}},
		{ID: "b", Type: types.ScenarioFAQ, Triggers: []string{"pilot light"}, Priority: 5, QuickReplies: []scenario.Reply{{Text: "b"}}},
	}
	m := scenario.NewMatcher()
	got := m.Match(context.Background(), "my pilot light went out", cands, scenario.Options{MinConfidence: 0.5})
	if got == nil || got.Scenario.ID != "b" {
		t.Fatalf("priority must break the tie, got %+v", got)
	}

	// Equal priority: declaration order wins.
	cands[1].Priority = 0
	got = m.Match(context.Background(), "my pilot light went out", cands, scenario.Options{MinConfidence: 0.5})
	if got == nil || got.Scenario.ID != "a" {
		t.Fatalf("declaration order must break the tie, got %+v", got)
	}
}

func TestMatch_ConfidenceGate(t *testing.T) {
	t.Parallel()

	cands := []scenario.Scenario{{
		ID:            "strict",
		Type:          types.ScenarioFAQ,
		Triggers:      []string{"warranty claim form"},
		MinConfidence: 0.9,
		QuickReplies:  []scenario.Reply{{Text: "x"}},
	}}
	m := scenario.NewMatcher()
	// Partial coverage (2 of 3 tokens) stays below the scenario's own floor
	// even though the caller's floor would allow it.
	got := m.Match(context.Background(), "i need a warranty form", cands, scenario.Options{MinConfidence: 0.3})
	if got != nil {
		t.Fatalf("scenario floor must gate the match, got %+v", got)
	}
}

func TestMatch_Tier2PhoneticNearMiss(t *testing.T) {
	t.Parallel()

	m := scenario.NewMatcher()
	// "watter" is a near-miss of "water". Tier-1 coverage is 0.5 and fails
	// the 0.6 floor; Tier-2 maps the token and scores the full document.
	got := m.Match(context.Background(), "my watter heater quit", catalogue(), scenario.Options{MinConfidence: 0.6})
	if got == nil {
		t.Fatal("want a tier-2 match, got nil")
	}
	if got.Scenario.ID != "troubleshoot-water-heater" || got.Tier != 2 {
		t.Fatalf("want troubleshoot-water-heater at tier 2, got %s at tier %d", got.Scenario.ID, got.Tier)
	}
}

func TestMatch_AllowedTypesFilter(t *testing.T) {
	t.Parallel()

	m := scenario.NewMatcher()
	got := m.Match(context.Background(), "when are you open", catalogue(), scenario.Options{
		MinConfidence: 0.6,
		AllowedTypes:  []types.ScenarioType{types.ScenarioEmergency},
	})
	if got != nil {
		t.Fatalf("type filter must exclude FAQ, got %+v", got)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	t.Parallel()

	m := scenario.NewMatcher()
	first := m.Match(context.Background(), "there is water everywhere in the basement", catalogue(), scenario.Options{MinConfidence: 0.5})
	if first == nil {
		t.Fatal("want a match")
	}
	for i := 0; i < 10; i++ {
		again := m.Match(context.Background(), "there is water everywhere in the basement", catalogue(), scenario.Options{MinConfidence: 0.5})
		if again == nil || again.Scenario.ID != first.Scenario.ID || again.Score != first.Score || again.Tier != first.Tier {
			t.Fatalf("run %d: result changed: %+v vs %+v", i, again, first)
		}
	}
}

func TestMatch_Tier3DisabledNeverCallsLLM(t *testing.T) {
	t.Parallel()

	mock := &llmmock.Provider{}
	m := scenario.NewMatcher(scenario.WithTier3(mock, resilience.NewBreaker(resilience.BreakerConfig{Name: "t"})))
	got := m.Match(context.Background(), "my whatchamacallit exploded", catalogue(), scenario.Options{MinConfidence: 0.6})
	if got != nil {
		t.Fatalf("want nil without tier 3, got %+v", got)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("LLM must not be consulted when tier 3 is off, got %d calls", mock.CallCount())
	}
}

func TestMatch_Tier3Pick(t *testing.T) {
	t.Parallel()

	mock := &llmmock.Provider{
		CompleteFunc: func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{
				Content: `{"scenarioId": "faq-hours", "confidence": 0.8, "rationale": "asks about availability"}`,
			}, nil
		},
	}
	m := scenario.NewMatcher(scenario.WithTier3(mock, resilience.NewBreaker(resilience.BreakerConfig{Name: "t"})))
	got := m.Match(context.Background(), "my whatchamacallit exploded", catalogue(), scenario.Options{MinConfidence: 0.6, AllowTier3: true})
	if got == nil || got.Scenario.ID != "faq-hours" || got.Tier != 3 {
		t.Fatalf("want faq-hours at tier 3, got %+v", got)
	}
}

func TestMatch_Tier3FailureDegradesToNil(t *testing.T) {
	t.Parallel()

	mock := &llmmock.Provider{
		CompleteFunc: func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, errors.New("backend down")
		},
	}
	var reportedTier int
	m := scenario.NewMatcher(scenario.WithTier3(mock, resilience.NewBreaker(resilience.BreakerConfig{Name: "t"})))
	m.OnTierError = func(tier int, _ error) { reportedTier = tier }

	got := m.Match(context.Background(), "my whatchamacallit exploded", catalogue(), scenario.Options{MinConfidence: 0.6, AllowTier3: true})
	if got != nil {
		t.Fatalf("want nil on tier 3 failure, got %+v", got)
	}
	if reportedTier != 3 {
		t.Fatalf("failure must be reported for tier 3, got %d", reportedTier)
	}
}

func TestMatch_Tier3UnknownPickRejected(t *testing.T) {
	t.Parallel()

	mock := &llmmock.Provider{
		CompleteFunc: func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: `{"scenarioId": "made-up", "confidence": 0.99}`}, nil
		},
	}
	m := scenario.NewMatcher(scenario.WithTier3(mock, resilience.NewBreaker(resilience.BreakerConfig{Name: "t"})))
	got := m.Match(context.Background(), "my whatchamacallit exploded", catalogue(), scenario.Options{MinConfidence: 0.6, AllowTier3: true})
	if got != nil {
		t.Fatalf("hallucinated scenario id must be rejected, got %+v", got)
	}
}

func TestPickReply_AutoPrefersFullOnVoice(t *testing.T) {
	t.Parallel()

	sc := scenario.Scenario{
		ReplyStrategy: scenario.StrategyAuto,
		QuickReplies:  []scenario.Reply{{Text: "quick"}},
		FullReplies:   []scenario.Reply{{Text: "full"}},
	}
	rng := rand.New(rand.NewSource(1))
	if got := scenario.PickReply(sc, types.ChannelVoice, rng); got.Text != "full" {
		t.Fatalf("voice AUTO: want full, got %q", got.Text)
	}
	if got := scenario.PickReply(sc, types.ChannelSMS, rng); got.Text != "quick" {
		t.Fatalf("sms AUTO: want quick, got %q", got.Text)
	}
}

func TestPickReply_WeightedDistribution(t *testing.T) {
	t.Parallel()

	sc := scenario.Scenario{
		ReplyStrategy: scenario.StrategyQuickOnly,
		QuickReplies: []scenario.Reply{
			{Text: "a", Weight: 9},
			{Text: "b", Weight: 1},
		},
	}
	rng := rand.New(rand.NewSource(42))
	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[scenario.PickReply(sc, types.ChannelVoice, rng).Text]++
	}
	if counts["a"] < 800 || counts["b"] == 0 {
		t.Fatalf("weights not respected: %v", counts)
	}
}

func TestMemStore_PutKeepsDeclarationOrder(t *testing.T) {
	t.Parallel()

	store := scenario.NewMemStore()
	ctx := context.Background()
	for _, sc := range catalogue() {
		if err := store.Put(ctx, "t1", sc); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	// Replacing an existing scenario keeps its slot.
	upd := catalogue()[1]
	upd.Priority = 99
	if err := store.Put(ctx, "t1", upd); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	got, err := store.List(ctx, "t1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	wantOrder := []string{"faq-hours", "faq-pricing", "emergency-flood", "troubleshoot-water-heater"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, got[i].ID)
		}
	}
	if got[1].Priority != 99 {
		t.Fatalf("update must replace in place, got priority %d", got[1].Priority)
	}
}

func TestScenario_Validate(t *testing.T) {
	t.Parallel()

	bad := scenario.Scenario{ID: "x", Type: "NOT_A_TYPE", MinConfidence: 1.5}
	if err := bad.Validate(); err == nil {
		t.Fatal("want validation errors, got nil")
	}
	good := catalogue()[0]
	if err := good.Validate(); err != nil {
		t.Fatalf("valid scenario rejected: %v", err)
	}
}
