package detect_test

import (
	"testing"

	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/detect"
	"github.com/voxlinehq/voxline/internal/normalize"
)

func TestScan_DescribingProblem(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	res := normalize.New(cfg.Vocabulary).Normalize("the a/c is broken and it is getting hot")
	hits := detect.Scan(res.Normalized, cfg.DetectionTriggers)

	if _, ok := detect.Fired(hits, detect.DescribingProblem); !ok {
		t.Fatalf("describing-problem must fire, hits: %v", hits)
	}
	if _, ok := detect.Fired(hits, detect.TrustConcern); ok {
		t.Fatalf("trust-concern must not fire, hits: %v", hits)
	}
}

func TestScan_SetFiresAtMostOnce(t *testing.T) {
	t.Parallel()

	trig := config.DetectionTriggers{
		DescribingProblem: []string{"not working", "leaking"},
	}
	hits := detect.Scan("the sink is leaking and the heater is not working", trig)
	if len(hits) != 1 {
		t.Fatalf("a set fires at most once per turn, got %v", hits)
	}
	// Declaration order decides which pattern is reported.
	if hits[0].Pattern != "not working" {
		t.Fatalf("first declared pattern wins, got %q", hits[0].Pattern)
	}
}

func TestScan_WordBoundaries(t *testing.T) {
	t.Parallel()

	trig := config.DetectionTriggers{RefusedSlot: []string{"no"}}
	hits := detect.Scan("i have no idea", trig)
	if len(hits) != 1 {
		t.Fatalf("want boundary hit on standalone token, got %v", hits)
	}
	hits = detect.Scan("i know the address", trig)
	if len(hits) != 0 {
		t.Fatalf("substring inside a word must not fire, got %v", hits)
	}
}

func TestScan_RefusedSlotDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	res := normalize.New(cfg.Vocabulary).Normalize("I'd rather not say my address")
	hits := detect.Scan(res.Normalized, cfg.DetectionTriggers)
	if _, ok := detect.Fired(hits, detect.RefusedSlot); !ok {
		t.Fatalf("refusal must fire, hits: %v", hits)
	}
}
