package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// overridesSchema is the JSON schema for tenant override documents. It is
// intentionally looser than the Go types (extra validation happens in
// [ValidateResolved]) but catches shape errors: wrong value kinds, out-of-range
// confidences, unknown scenario types.
const overridesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "triage": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "min_confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "auto_on_problem": {"type": "boolean"}
      }
    },
    "discovery": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "disable_scenario_auto_responses": {"type": "boolean"},
        "auto_reply_allowed_scenario_types": {
          "type": "array",
          "items": {"enum": ["FAQ", "TROUBLESHOOT", "EMERGENCY", "SMALL_TALK", "ACTION_FLOW", "SYSTEM_ACK", "INFO_FAQ"]}
        },
        "force_llm_discovery": {"type": "boolean"}
      }
    },
    "experimental_s4a": {"type": "boolean"},
    "detection_triggers": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "describing_problem": {"type": "array", "items": {"type": "string"}},
        "trust_concern": {"type": "array", "items": {"type": "string"}},
        "caller_feels_ignored": {"type": "array", "items": {"type": "string"}},
        "refused_slot": {"type": "array", "items": {"type": "string"}}
      }
    },
    "slots": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "type": {"enum": ["name", "phone", "address", "text"]},
          "required": {"type": "boolean"},
          "confirm_mode": {"enum": ["always", "when_booking", "never"]},
          "extractors": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "discovery_flow": {"$ref": "#/$defs/flow"},
    "booking_flow": {"$ref": "#/$defs/flow"},
    "openers": {"type": "array", "items": {"type": "string"}},
    "vocabulary": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "synonyms": {"type": "object", "additionalProperties": {"type": "string"}},
        "expansions": {"type": "object", "additionalProperties": {"type": "string"}},
        "fillers": {"type": "array", "items": {"type": "string"}}
      }
    },
    "quality": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "min_stt_confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "trouble_phrases": {"type": "array", "items": {"type": "string"}},
        "max_clarifications": {"type": "integer", "minimum": 0},
        "clarify_prompt": {"type": "string"}
      }
    },
    "escalation": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "patterns": {"type": "array", "items": {"type": "string"}},
        "transfer_target": {"type": "string"}
      }
    },
    "greeting": {"type": "string"}
  },
  "$defs": {
    "flow": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "steps": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["slot_id", "prompt_template"],
            "properties": {
              "slot_id": {"type": "string", "minLength": 1},
              "prompt_template": {"type": "string", "minLength": 1}
            }
          }
        }
      }
    }
  }
}`

// compiledSchema is compiled once at package init; the schema is a constant,
// so a compile failure is a programming error.
var compiledSchema = jsonschema.MustCompileString("overrides.schema.json", overridesSchema)

// ValidateOverridesYAML checks a raw tenant override document (YAML) against
// the override schema. Returns nil when the document is valid.
func ValidateOverridesYAML(doc []byte) error {
	var v any
	if err := yaml.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("config: parse overrides: %w", err)
	}
	if v == nil {
		return nil
	}
	v = normaliseYAML(v)
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("config: overrides schema: %w", err)
	}
	return nil
}

// normaliseYAML converts map[any]any trees produced by older YAML decoders
// into map[string]any trees that the schema validator accepts.
func normaliseYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normaliseYAML(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normaliseYAML(val)
		}
		return m
	case []any:
		for i, val := range t {
			t[i] = normaliseYAML(val)
		}
		return t
	default:
		return v
	}
}

// ValidateResolved checks cross-field invariants on a resolved configuration
// that the schema cannot express: flow steps must reference declared slots,
// thresholds must be in range, and flows must be walkable. It returns a
// joined error listing all violations.
func ValidateResolved(cfg Resolved) error {
	var errs []error

	if cfg.Triage.MinConfidence < 0 || cfg.Triage.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("triage.min_confidence %.2f is out of range [0, 1]", cfg.Triage.MinConfidence))
	}
	if cfg.Quality.MinSTTConfidence < 0 || cfg.Quality.MinSTTConfidence > 1 {
		errs = append(errs, fmt.Errorf("quality.min_stt_confidence %.2f is out of range [0, 1]", cfg.Quality.MinSTTConfidence))
	}
	for _, t := range cfg.Discovery.AutoReplyAllowedScenarioTypes {
		if !t.IsValid() {
			errs = append(errs, fmt.Errorf("discovery.auto_reply_allowed_scenario_types contains unknown type %q", t))
		}
	}

	for id, spec := range cfg.Slots {
		if id == "" {
			errs = append(errs, errors.New("slots: empty slot id"))
		}
		if spec.ConfirmMode != "" && !spec.ConfirmMode.IsValid() {
			errs = append(errs, fmt.Errorf("slots[%s].confirm_mode %q is invalid; valid values: always, when_booking, never", id, spec.ConfirmMode))
		}
	}

	validateFlow := func(name string, flow Flow) {
		if len(flow.Steps) == 0 {
			errs = append(errs, fmt.Errorf("%s has no steps; the flow runner could not produce a prompt", name))
			return
		}
		seen := make(map[string]int, len(flow.Steps))
		for i, step := range flow.Steps {
			if step.SlotID == "" {
				errs = append(errs, fmt.Errorf("%s.steps[%d].slot_id is required", name, i))
				continue
			}
			if _, ok := cfg.Slots[step.SlotID]; !ok {
				errs = append(errs, fmt.Errorf("%s.steps[%d] references undeclared slot %q", name, i, step.SlotID))
			}
			if prev, ok := seen[step.SlotID]; ok {
				errs = append(errs, fmt.Errorf("%s.steps[%d] duplicates slot %q from step %d", name, i, step.SlotID, prev))
			}
			seen[step.SlotID] = i
			if strings.TrimSpace(step.PromptTemplate) == "" {
				errs = append(errs, fmt.Errorf("%s.steps[%d].prompt_template is empty", name, i))
			}
		}
	}
	validateFlow("discovery_flow", cfg.DiscoveryFlow)
	validateFlow("booking_flow", cfg.BookingFlow)

	if len(cfg.Openers) == 0 {
		errs = append(errs, errors.New("openers list is empty"))
	}
	if cfg.Greeting == "" {
		errs = append(errs, errors.New("greeting text is empty"))
	}
	if cfg.Concurrency.BusyPolicy != "" && !cfg.Concurrency.BusyPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("concurrency.busy_policy %q is invalid; valid values: wait, reject", cfg.Concurrency.BusyPolicy))
	}

	return errors.Join(errs...)
}
