package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/pkg/types"
)

func boolPtr(b bool) *bool       { return &b }
func f64Ptr(f float64) *float64  { return &f }
func strPtr(s string) *string    { return &s }

func TestMerge_NilOverridesKeepsDefaults(t *testing.T) {
	t.Parallel()

	def := config.Defaults()
	got := config.Merge(def, nil)

	if got.Triage.MinConfidence != def.Triage.MinConfidence {
		t.Errorf("triage.min_confidence: want %v, got %v", def.Triage.MinConfidence, got.Triage.MinConfidence)
	}
	if len(got.DiscoveryFlow.Steps) != len(def.DiscoveryFlow.Steps) {
		t.Errorf("discovery flow steps: want %d, got %d", len(def.DiscoveryFlow.Steps), len(got.DiscoveryFlow.Steps))
	}

	// The merged view must not alias the defaults' maps.
	got.Vocabulary.Synonyms["zzz"] = "aliased"
	if _, ok := config.Defaults().Vocabulary.Synonyms["zzz"]; ok {
		t.Error("merged vocabulary aliases the defaults map")
	}
}

func TestMerge_ScalarsTenantWins(t *testing.T) {
	t.Parallel()

	o := &config.Overrides{
		ExperimentalS4A: boolPtr(true),
		Greeting:        strPtr("Hello from Acme Plumbing!"),
	}
	o.Triage = &struct {
		Enabled       *bool    `yaml:"enabled" json:"enabled"`
		MinConfidence *float64 `yaml:"min_confidence" json:"minConfidence"`
		AutoOnProblem *bool    `yaml:"auto_on_problem" json:"autoOnProblem"`
	}{Enabled: boolPtr(false), MinConfidence: f64Ptr(0.8)}

	got := config.Merge(config.Defaults(), o)

	if got.Triage.Enabled {
		t.Error("triage.enabled: tenant override false should win")
	}
	if got.Triage.MinConfidence != 0.8 {
		t.Errorf("triage.min_confidence: want 0.8, got %v", got.Triage.MinConfidence)
	}
	// AutoOnProblem was absent in the override, so the default survives.
	if !got.Triage.AutoOnProblem {
		t.Error("triage.auto_on_problem: absent override must keep default true")
	}
	if !got.ExperimentalS4A {
		t.Error("experimental_s4a: want true")
	}
	if got.Greeting != "Hello from Acme Plumbing!" {
		t.Errorf("greeting: got %q", got.Greeting)
	}
}

func TestMerge_ListsReplaceVocabularyAdds(t *testing.T) {
	t.Parallel()

	o := &config.Overrides{
		Openers: []string{"Right away."},
		DetectionTriggers: &config.DetectionTriggers{
			TrustConcern: []string{"who am i talking to"},
		},
		Vocabulary: &config.Vocabulary{
			Synonyms: map[string]string{"on the fritz": "not working"},
			Fillers:  []string{"um", "honestly"},
		},
	}
	got := config.Merge(config.Defaults(), o)

	if len(got.Openers) != 1 || got.Openers[0] != "Right away." {
		t.Errorf("openers must be replaced wholesale, got %v", got.Openers)
	}
	if len(got.DetectionTriggers.TrustConcern) != 1 {
		t.Errorf("trust_concern must be replaced, got %v", got.DetectionTriggers.TrustConcern)
	}
	// Other trigger sets keep their defaults.
	if len(got.DetectionTriggers.DescribingProblem) == 0 {
		t.Error("describing_problem defaults must survive an unrelated override")
	}
	// Vocabulary is additive.
	if got.Vocabulary.Synonyms["broken"] != "not working" {
		t.Error("default synonym dropped by additive vocabulary merge")
	}
	if got.Vocabulary.Synonyms["on the fritz"] != "not working" {
		t.Error("tenant synonym missing after merge")
	}
	count := 0
	for _, f := range got.Vocabulary.Fillers {
		if f == "um" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("filler %q duplicated by merge: %d occurrences", "um", count)
	}
}

func TestDecodeOverrides_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := config.DecodeOverrides(strings.NewReader("greetnig: oops\n"))
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

// errSource always fails, exercising the fail-closed path.
type errSource struct{}

func (errSource) Overrides(string) (*config.Overrides, error) {
	return nil, errors.New("backend down")
}

func TestResolver_FailsClosedToDefaults(t *testing.T) {
	t.Parallel()

	var alerted string
	r := config.NewResolver(config.Defaults(), errSource{})
	r.AlertFn = func(tenantID string, err error) { alerted = tenantID }

	got := r.Resolve("t-1")
	if got.Greeting != config.Defaults().Greeting {
		t.Errorf("fail-closed resolve must return platform defaults, got greeting %q", got.Greeting)
	}
	if alerted != "t-1" {
		t.Errorf("AlertFn: want tenant t-1, got %q", alerted)
	}
}

// countingSource records how many reads each tenant caused.
type countingSource struct {
	calls map[string]int
	o     *config.Overrides
}

func (s *countingSource) Overrides(tenantID string) (*config.Overrides, error) {
	s.calls[tenantID]++
	return s.o, nil
}

func TestResolver_CachesUntilInvalidated(t *testing.T) {
	t.Parallel()

	src := &countingSource{calls: map[string]int{}, o: &config.Overrides{Greeting: strPtr("v1")}}
	r := config.NewResolver(config.Defaults(), src)

	if got := r.Resolve("t-9").Greeting; got != "v1" {
		t.Fatalf("greeting: want v1, got %q", got)
	}
	r.Resolve("t-9")
	r.Resolve("t-9")
	if src.calls["t-9"] != 1 {
		t.Errorf("source reads before invalidation: want 1, got %d", src.calls["t-9"])
	}

	src.o = &config.Overrides{Greeting: strPtr("v2")}
	r.Invalidate("t-9")
	if got := r.Resolve("t-9").Greeting; got != "v2" {
		t.Errorf("greeting after invalidate: want v2, got %q", got)
	}
	if src.calls["t-9"] != 2 {
		t.Errorf("source reads after invalidation: want 2, got %d", src.calls["t-9"])
	}
}

func TestValidateOverridesYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"empty", "", false},
		{"valid", "triage:\n  min_confidence: 0.7\nopeners: [\"Sure.\"]\n", false},
		{"confidence out of range", "triage:\n  min_confidence: 1.4\n", true},
		{"unknown scenario type", "discovery:\n  auto_reply_allowed_scenario_types: [BOGUS]\n", true},
		{"unknown top-level key", "shenanigans: true\n", true},
		{"flow step missing prompt", "booking_flow:\n  steps:\n    - slot_id: phone\n", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := config.ValidateOverridesYAML([]byte(tc.doc))
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateOverridesYAML: wantErr=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateResolved(t *testing.T) {
	t.Parallel()

	if err := config.ValidateResolved(config.Defaults()); err != nil {
		t.Fatalf("platform defaults must validate, got: %v", err)
	}

	bad := config.Defaults()
	bad.DiscoveryFlow.Steps = append(bad.DiscoveryFlow.Steps, config.FlowStep{SlotID: "nonexistent", PromptTemplate: "?"})
	bad.Triage.MinConfidence = 2
	bad.Discovery.AutoReplyAllowedScenarioTypes = []types.ScenarioType{"NOPE"}
	err := config.ValidateResolved(bad)
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	for _, want := range []string{"nonexistent", "min_confidence", "NOPE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %q: %v", want, err)
		}
	}
}
