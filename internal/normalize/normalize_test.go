package normalize_test

import (
	"strings"
	"testing"

	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/normalize"
)

func newNormalizer() *normalize.Normalizer {
	return normalize.New(config.Defaults().Vocabulary)
}

func TestNormalize_LowercaseCollapseFillers(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	got := n.Normalize("Um,  so   the   FAUCET is, like, leaking")

	if got.Normalized != "the faucet is leaking" {
		t.Errorf("Normalized: got %q", got.Normalized)
	}
}

func TestNormalize_VocabularyExpansionAndSynonyms(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	got := n.Normalize("the a/c is broken")

	if got.Normalized != "the air conditioning is not working" {
		t.Errorf("Normalized: got %q", got.Normalized)
	}
}

func TestNormalize_MultiWordFillerRemoved(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	got := n.Normalize("you know the heater stopped")

	if got.Normalized != "the heater stopped" {
		t.Errorf("Normalized: got %q", got.Normalized)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	inputs := []string{
		"Um, the A/C is broken at 123 Market St!",
		"hello",
		"",
		"my furnace is kind of dead, you know",
	}
	for _, in := range inputs {
		once := n.Normalize(in).Normalized
		twice := n.Normalize(once).Normalized
		if once != twice {
			t.Errorf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalize_FuzzyExpansionKeepsOriginal(t *testing.T) {
	t.Parallel()

	vocab := config.Defaults().Vocabulary
	vocab.Synonyms["leaking"] = "leaking water"
	n := normalize.New(vocab)

	// "leeking" is a near-miss of "leaking": phonetically identical and
	// lexically close. The expansion lands in Expanded only, alongside the
	// original token.
	got := n.Normalize("the pipe is leeking")
	if !strings.Contains(got.Expanded, "leeking") {
		t.Errorf("Expanded must keep the original token: %q", got.Expanded)
	}
	if !strings.Contains(got.Expanded, "leaking water") {
		t.Errorf("Expanded must contain the fuzzy expansion: %q", got.Expanded)
	}
	if strings.Contains(got.Normalized, "leaking water") {
		t.Errorf("Normalized must not apply fuzzy substitutions: %q", got.Normalized)
	}
}

func TestExtractEntities_FullInfoUpfront(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	got := n.Normalize("This is Mrs. Johnson, 123 Market St Fort Myers — AC is down.")

	if got.Entities.LastName != "Johnson" {
		t.Errorf("LastName: want Johnson, got %q", got.Entities.LastName)
	}
	if got.Entities.FirstName != "" {
		t.Errorf("FirstName: want absent, got %q", got.Entities.FirstName)
	}
	if len(got.Entities.AddressFragments) != 1 || got.Entities.AddressFragments[0] != "123 Market St Fort Myers" {
		t.Errorf("AddressFragments: got %v", got.Entities.AddressFragments)
	}
	if got.Entities.ServiceType != "hvac" {
		t.Errorf("ServiceType: want hvac, got %q", got.Entities.ServiceType)
	}
}

func TestExtractEntities_Names(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	tests := []struct {
		in          string
		first, last string
	}{
		{"my name is John Smith", "John", "Smith"},
		{"I'm Dave", "Dave", ""},
		{"this is Dr. Alvarez", "", "Alvarez"},
		{"the sink is clogged", "", ""},
	}
	for _, tc := range tests {
		got := n.Normalize(tc.in).Entities
		if got.FirstName != tc.first || got.LastName != tc.last {
			t.Errorf("%q: want (%q, %q), got (%q, %q)", tc.in, tc.first, tc.last, got.FirstName, got.LastName)
		}
	}
}

func TestExtractEntities_Phone(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	tests := []struct {
		in   string
		want string
	}{
		{"call me at 239-555-0142", "+12395550142"},
		{"call me at (239) 555 0142", "+12395550142"},
		{"call me at 1-239-555-0142", "+12395550142"},
		{"call me at +44 20 7946 0958", "+442079460958"},
		{"call me at 555-0142", ""}, // too short to normalise — absent, not malformed
	}
	for _, tc := range tests {
		got := n.Normalize(tc.in).Entities.Phone
		if got != tc.want {
			t.Errorf("%q: phone want %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestExtractEntities_Urgency(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	if got := n.Normalize("this is an emergency, the basement is flooding").Entities.Urgency; got != "emergency" {
		t.Errorf("urgency: want emergency, got %q", got)
	}
	if got := n.Normalize("i need someone out here asap").Entities.Urgency; got != "urgent" {
		t.Errorf("urgency: want urgent, got %q", got)
	}
	if got := n.Normalize("just checking on my invoice").Entities.Urgency; got != "" {
		t.Errorf("urgency: want empty, got %q", got)
	}
}

func TestFindProblemClause(t *testing.T) {
	t.Parallel()

	patterns := config.Defaults().DetectionTriggers.DescribingProblem
	got := normalize.FindProblemClause("This is Mrs. Johnson, 123 Market St Fort Myers — AC is down.", patterns)
	if got != "AC is down" {
		t.Errorf("problem clause: want %q, got %q", "AC is down", got)
	}
	if got := normalize.FindProblemClause("hello there", patterns); got != "" {
		t.Errorf("problem clause on greeting: want empty, got %q", got)
	}
}
