package slots_test

import (
	"testing"

	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/normalize"
	"github.com/voxlinehq/voxline/internal/slots"
)

func extract(t *testing.T, transcript string) map[string]string {
	t.Helper()
	cfg := config.Defaults()
	reg, err := slots.NewRegistry(cfg.Slots)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	res := normalize.New(cfg.Vocabulary).Normalize(transcript)
	out := map[string]string{}
	for _, ex := range reg.ExtractAll(res, cfg) {
		out[ex.SlotID] = ex.Value
	}
	return out
}

func TestExtractAll_FullInfoUpfront(t *testing.T) {
	t.Parallel()

	got := extract(t, "This is Mrs. Johnson, 123 Market St Fort Myers — AC is down.")

	want := map[string]string{
		"last_name":          "Johnson",
		"address":            "123 Market St Fort Myers",
		"call_reason_detail": "AC is down",
	}
	for id, v := range want {
		if got[id] != v {
			t.Errorf("slot %s: want %q, got %q", id, v, got[id])
		}
	}
	if _, ok := got["phone"]; ok {
		t.Errorf("phone must be absent, got %q", got["phone"])
	}
	if _, ok := got["first_name"]; ok {
		t.Errorf("first_name must be absent, got %q", got["first_name"])
	}
}

func TestExtractAll_AbsentNotGuessed(t *testing.T) {
	t.Parallel()

	got := extract(t, "hello")
	if len(got) != 0 {
		t.Errorf("greeting must extract nothing, got %v", got)
	}

	// A number too short to normalise yields absence, never a malformed value.
	got = extract(t, "my number is 555-0142")
	if v, ok := got["phone"]; ok {
		t.Errorf("unnormalisable phone must be absent, got %q", v)
	}
}

func TestExtractAll_Deterministic(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	reg, err := slots.NewRegistry(cfg.Slots)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	res := normalize.New(cfg.Vocabulary).Normalize("I'm John Smith at 42 Oak Lane, call 239-555-0101, the drain is clogged")

	first := reg.ExtractAll(res, cfg)
	for i := 0; i < 10; i++ {
		again := reg.ExtractAll(res, cfg)
		if len(again) != len(first) {
			t.Fatalf("run %d: length changed: %d vs %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: order or value changed at %d: %v vs %v", i, j, again[j], first[j])
			}
		}
	}
}

func TestNewRegistry_UnknownExtractor(t *testing.T) {
	t.Parallel()

	specs := map[string]config.SlotSpec{
		"pet_name": {Type: "text", Extractors: []string{"psychic"}},
	}
	if _, err := slots.NewRegistry(specs); err == nil {
		t.Fatal("expected error for unknown extractor name, got nil")
	}
}
