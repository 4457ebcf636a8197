package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/traceline-io/traceline/pkg/models"
)

// Field policies callers may attach to JSON payload keys.
const (
	PolicyDrop       = "drop"
	PolicyHashOnly   = "hash_only"
	PolicyRawAllowed = "raw_allowed"
)

// Per-field decisions recorded while walking a JSON payload.
const (
	DecisionBlocked  = "blocked"
	DecisionHashOnly = "hash_only"
	DecisionRedacted = "redacted"
)

// blockedReasonPolicy marks results where a drop policy removed a field.
const blockedReasonPolicy = "policy_blocked_field"

// Result is the outcome of one redaction pass.
type Result struct {
	// Redacted is the payload to persist. On Status failed it is the
	// original input, untouched.
	Redacted []byte
	// Status is one of the models.Redaction* values.
	Status string
	// Decisions maps JSON field names to the decision taken for them.
	Decisions map[string]string
	// BlockedReason is set when Status is blocked or failed.
	BlockedReason string
}

// Config seeds the engine's field lists. The denylist forces a drop policy
// on matching keys; the allowlist marks keys raw_allowed unless the caller
// supplied an explicit policy.
type Config struct {
	DenylistFields  []string
	AllowlistFields []string
}

// Engine applies pattern scrubbing and field policies. Safe for concurrent
// use; all state is read-only after construction.
type Engine struct {
	patterns  []*CompiledPattern
	denylist  map[string]struct{}
	allowlist map[string]struct{}
}

// NewEngine builds an engine with the builtin pattern set.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		patterns:  builtinPatterns,
		denylist:  make(map[string]struct{}, len(cfg.DenylistFields)),
		allowlist: make(map[string]struct{}, len(cfg.AllowlistFields)),
	}
	for _, field := range cfg.DenylistFields {
		e.denylist[field] = struct{}{}
	}
	for _, field := range cfg.AllowlistFields {
		e.allowlist[field] = struct{}{}
	}
	return e
}

// RedactText runs the pattern set over text and reports whether anything
// was replaced.
func (e *Engine) RedactText(text string) (string, bool) {
	updated := text
	changed := false
	for _, pattern := range e.patterns {
		replaced := pattern.Regex.ReplaceAllString(updated, pattern.Replacement)
		if replaced != updated {
			changed = true
			updated = replaced
		}
	}
	return updated, changed
}

// Apply redacts payload according to contentType. JSON payloads get the
// per-field policy walk; everything else gets plain pattern scrubbing.
// A payload that cannot be parsed as JSON yields Status failed with the
// original bytes, so the caller decides whether to persist it.
func (e *Engine) Apply(payload []byte, fieldPolicies map[string]string, contentType string) Result {
	decisions := map[string]string{}
	decoded := strings.ToValidUTF8(string(payload), string(utf8.RuneError))

	if contentType == "application/json" {
		var obj any
		if err := json.Unmarshal([]byte(decoded), &obj); err != nil {
			return Result{Redacted: payload, Status: models.RedactionFailed, Decisions: decisions, BlockedReason: err.Error()}
		}
		redacted := e.applyJSON(obj, fieldPolicies, decisions)
		encoded, err := json.Marshal(redacted)
		if err != nil {
			return Result{Redacted: payload, Status: models.RedactionFailed, Decisions: decisions, BlockedReason: err.Error()}
		}

		status := models.RedactionNotRequired
		if len(decisions) > 0 {
			status = models.RedactionRedacted
		}
		blockedReason := ""
		for _, decision := range decisions {
			if decision == DecisionBlocked {
				status = models.RedactionBlocked
				blockedReason = blockedReasonPolicy
				break
			}
		}
		return Result{Redacted: encoded, Status: status, Decisions: decisions, BlockedReason: blockedReason}
	}

	redactedText, changed := e.RedactText(decoded)
	status := models.RedactionNotRequired
	if changed {
		status = models.RedactionRedacted
	}
	return Result{Redacted: []byte(redactedText), Status: status, Decisions: decisions}
}

func (e *Engine) applyJSON(obj any, policies map[string]string, decisions map[string]string) any {
	switch value := obj.(type) {
	case map[string]any:
		output := make(map[string]any, len(value))
		for key, item := range value {
			policy, explicit := policies[key]
			if _, denied := e.denylist[key]; denied {
				policy = PolicyDrop
			} else if _, allowed := e.allowlist[key]; allowed && !explicit {
				policy = PolicyRawAllowed
			}

			switch policy {
			case PolicyDrop:
				decisions[key] = DecisionBlocked
				continue
			case PolicyHashOnly:
				decisions[key] = DecisionHashOnly
				output[key] = digestJSON(item)
				continue
			}

			// raw_allowed shields a field from an explicit policy only;
			// string values still pass through pattern scrubbing.
			if text, isString := item.(string); isString {
				redacted, changed := e.RedactText(text)
				output[key] = redacted
				if changed {
					decisions[key] = DecisionRedacted
				}
			} else {
				output[key] = e.applyJSON(item, policies, decisions)
			}
		}
		return output
	case []any:
		output := make([]any, len(value))
		for i, item := range value {
			output[i] = e.applyJSON(item, policies, decisions)
		}
		return output
	default:
		return obj
	}
}

// digestJSON hashes the canonical JSON encoding of v: compact, with object
// keys in sorted order.
func digestJSON(v any) string {
	// v came out of json.Unmarshal, so re-encoding cannot fail.
	encoded, _ := json.Marshal(v)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
