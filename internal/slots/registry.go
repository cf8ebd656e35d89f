// Package slots implements the typed slot registry and its extractors. Each
// tenant-declared slot maps to an ordered list of built-in extractors; an
// extractor inspects the normalized turn and either yields a typed value or
// reports absence. Extractors are side-effect free and never guess: a phone
// number that fails E.164 normalisation is absent, not malformed.
package slots

import (
	"fmt"
	"strings"

	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/normalize"
)

// Extractor maps a normalized turn to an optional slot value.
type Extractor func(res normalize.Result, cfg config.Resolved) (value string, ok bool)

// builtins is the closed set of extractor implementations a tenant's slot
// spec can reference by name.
var builtins = map[string]Extractor{
	"first_name": func(res normalize.Result, _ config.Resolved) (string, bool) {
		return opt(res.Entities.FirstName)
	},
	"last_name": func(res normalize.Result, _ config.Resolved) (string, bool) {
		return opt(res.Entities.LastName)
	},
	"phone": func(res normalize.Result, _ config.Resolved) (string, bool) {
		return opt(res.Entities.Phone)
	},
	"address": func(res normalize.Result, _ config.Resolved) (string, bool) {
		if len(res.Entities.AddressFragments) == 0 {
			return "", false
		}
		return strings.Join(res.Entities.AddressFragments, ", "), true
	},
	"service_type": func(res normalize.Result, _ config.Resolved) (string, bool) {
		return opt(res.Entities.ServiceType)
	},
	"call_reason": func(res normalize.Result, cfg config.Resolved) (string, bool) {
		return opt(normalize.FindProblemClause(res.Raw, cfg.DetectionTriggers.DescribingProblem))
	},
}

func opt(s string) (string, bool) { return s, s != "" }

// Extraction is one extracted slot value with its provenance left to the
// caller (the pipeline stamps EXTRACTION; triage stamps TRIAGE).
type Extraction struct {
	SlotID string
	Value  string
}

// Registry binds a tenant's slot specs to runnable extractors. Build one per
// resolved config snapshot; it is immutable afterwards.
type Registry struct {
	order []string // slot ids in deterministic order
	specs map[string]config.SlotSpec
	chain map[string][]Extractor
}

// NewRegistry compiles the tenant slot specs. Unknown extractor names are an
// error so config typos surface at resolve time, not silently at runtime.
func NewRegistry(specs map[string]config.SlotSpec) (*Registry, error) {
	r := &Registry{
		specs: specs,
		chain: make(map[string][]Extractor, len(specs)),
	}
	for id, spec := range specs {
		var exs []Extractor
		for _, name := range spec.Extractors {
			ex, ok := builtins[name]
			if !ok {
				return nil, fmt.Errorf("slots: slot %q references unknown extractor %q", id, name)
			}
			exs = append(exs, ex)
		}
		r.chain[id] = exs
		r.order = append(r.order, id)
	}
	// Deterministic iteration order regardless of map layout.
	sortStrings(r.order)
	return r, nil
}

// Spec returns the declared spec for slotID.
func (r *Registry) Spec(slotID string) (config.SlotSpec, bool) {
	s, ok := r.specs[slotID]
	return s, ok
}

// ExtractAll runs every slot's extractor chain against the turn and returns
// the hits in deterministic slot-id order. First extractor to produce a
// value wins for its slot.
func (r *Registry) ExtractAll(res normalize.Result, cfg config.Resolved) []Extraction {
	var out []Extraction
	for _, id := range r.order {
		for _, ex := range r.chain[id] {
			if v, ok := ex(res, cfg); ok {
				out = append(out, Extraction{SlotID: id, Value: v})
				break
			}
		}
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
