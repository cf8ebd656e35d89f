package replay_test

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/voxlinehq/voxline/internal/callstate"
	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/journal"
	"github.com/voxlinehq/voxline/internal/pipeline"
	"github.com/voxlinehq/voxline/internal/replay"
	"github.com/voxlinehq/voxline/internal/scenario"
	"github.com/voxlinehq/voxline/pkg/types"
)

func catalogue() []scenario.Scenario {
	return []scenario.Scenario{{
		ID:            "ac_not_cooling_v2",
		Type:          types.ScenarioTroubleshoot,
		Triggers:      []string{"air conditioning is down", "not cooling"},
		MinConfidence: 0.6,
		FullReplies:   []scenario.Reply{{Text: "Is it running but not cooling, or not turning on at all?"}},
	}}
}

// recordCall runs a short call through a live pipeline and returns the
// journal it produced.
func recordCall(t *testing.T, resolver *config.Resolver, scs scenario.Store) *journal.Memory {
	t.Helper()
	mem := journal.NewMemory(0)
	w := journal.NewWriter(mem, 16, nil)
	states := callstate.NewMemStore()
	p := pipeline.New(states, states, scs, resolver,
		pipeline.WithJournal(w),
		pipeline.WithRand(rand.New(rand.NewSource(7))),
	)

	ctx := context.Background()
	for _, transcript := range []string{
		"hello",
		"This is Mrs. Johnson, 123 Market St Fort Myers — AC is down.",
		"please send someone out",
	} {
		p.Process(ctx, types.TurnRequest{
			TenantID:      "t1",
			CallID:        "c1",
			Transcript:    transcript,
			STTConfidence: 0.9,
			Channel:       types.ChannelVoice,
		})
	}

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Close(closeCtx); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return mem
}

func TestReplay_SameConfigReproducesDecisions(t *testing.T) {
	t.Parallel()

	resolver := config.NewResolver(config.Defaults(), nil)
	scs := scenario.NewMemStore()
	if err := scs.Seed("t1", catalogue()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mem := recordCall(t, resolver, scs)

	e := replay.NewEngine(mem, resolver, scs, nil)
	rep, err := e.Replay(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if rep.Turns != 3 {
		t.Errorf("turns: want 3, got %d", rep.Turns)
	}
	if !rep.Clean() {
		t.Errorf("want clean replay, got divergences %+v", rep.Divergences)
	}
}

func TestReplay_ChangedConfigDiverges(t *testing.T) {
	t.Parallel()

	resolver := config.NewResolver(config.Defaults(), nil)
	scs := scenario.NewMemStore()
	if err := scs.Seed("t1", catalogue()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mem := recordCall(t, resolver, scs)

	// Replay against a config that disables scenario auto-replies: the
	// scenario-owned turn must now diverge to the discovery flow.
	o, err := config.DecodeOverrides(strings.NewReader("discovery:\n  disable_scenario_auto_responses: true\n"))
	if err != nil {
		t.Fatalf("decode overrides: %v", err)
	}
	changed := config.NewResolver(config.Defaults(), &config.MemSource{
		ByTenant: map[string]*config.Overrides{"t1": o},
	})

	e := replay.NewEngine(mem, changed, scs, nil)
	rep, err := e.Replay(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if rep.Clean() {
		t.Fatal("want owner divergence, got clean replay")
	}
	found := false
	for _, d := range rep.Divergences {
		if d.Field == "owner" && d.Recorded == string(types.OwnerTriageScenario) {
			found = true
		}
	}
	if !found {
		t.Errorf("want an owner divergence from TRIAGE_SCENARIO, got %+v", rep.Divergences)
	}
}

func TestReplay_MissingCall(t *testing.T) {
	t.Parallel()

	resolver := config.NewResolver(config.Defaults(), nil)
	e := replay.NewEngine(journal.NewMemory(0), resolver, scenario.NewMemStore(), nil)
	_, err := e.Replay(context.Background(), "t1", "nope")
	if !errors.Is(err, replay.ErrNoEvents) {
		t.Fatalf("want ErrNoEvents, got %v", err)
	}
}
