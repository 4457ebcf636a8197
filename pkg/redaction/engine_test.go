package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traceline-io/traceline/pkg/models"
)

func TestRedactText_Patterns(t *testing.T) {
	engine := NewEngine(Config{})

	tests := []struct {
		name        string
		input       string
		expected    string
		wantChanged bool
	}{
		{
			name:        "email address",
			input:       "email me at dev@example.com please",
			expected:    "email me at [REDACTED_EMAIL] please",
			wantChanged: true,
		},
		{
			name:        "social security number",
			input:       "ssn 123-45-6789 on file",
			expected:    "ssn [REDACTED_SSN] on file",
			wantChanged: true,
		},
		{
			name:        "phone number",
			input:       "call 555-123-4567 now",
			expected:    "call [REDACTED_PHONE] now",
			wantChanged: true,
		},
		{
			name:        "credential assignment",
			input:       "password: hunter2",
			expected:    "[REDACTED_SECRET]",
			wantChanged: true,
		},
		{
			name:        "credential stops at separator",
			input:       "api_key=abc123;rest",
			expected:    "[REDACTED_SECRET];rest",
			wantChanged: true,
		},
		{
			name:        "multiple hits",
			input:       "dev@example.com and secret=abcd",
			expected:    "[REDACTED_EMAIL] and [REDACTED_SECRET]",
			wantChanged: true,
		},
		{
			name:        "clean text untouched",
			input:       "nothing sensitive here",
			expected:    "nothing sensitive here",
			wantChanged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := engine.RedactText(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestApply_PlainText(t *testing.T) {
	engine := NewEngine(Config{})

	result := engine.Apply([]byte("email me at dev@example.com and secret=abcd"), nil, "text/plain")

	assert.Equal(t, models.RedactionRedacted, result.Status)
	assert.Contains(t, string(result.Redacted), "[REDACTED_EMAIL]")
	assert.Contains(t, string(result.Redacted), "[REDACTED_SECRET]")
	assert.NotContains(t, string(result.Redacted), "dev@example.com")
	assert.Empty(t, result.Decisions)
	assert.Empty(t, result.BlockedReason)
}

func TestApply_PlainTextClean(t *testing.T) {
	engine := NewEngine(Config{})

	result := engine.Apply([]byte("hello world"), nil, "text/plain")

	assert.Equal(t, models.RedactionNotRequired, result.Status)
	assert.Equal(t, "hello world", string(result.Redacted))
}

func TestApply_JSONStringValuesScrubbed(t *testing.T) {
	engine := NewEngine(Config{})

	result := engine.Apply([]byte(`{"note":"reach dev@example.com"}`), nil, "application/json")

	require.Equal(t, models.RedactionRedacted, result.Status)
	assert.Equal(t, DecisionRedacted, result.Decisions["note"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result.Redacted, &decoded))
	assert.Equal(t, "reach [REDACTED_EMAIL]", decoded["note"])
}

func TestApply_JSONDropPolicy(t *testing.T) {
	engine := NewEngine(Config{})

	payload := []byte(`{"card_number":"4111-1111-1111-1111","kept":true}`)
	result := engine.Apply(payload, map[string]string{"card_number": PolicyDrop}, "application/json")

	assert.Equal(t, models.RedactionBlocked, result.Status)
	assert.Equal(t, "policy_blocked_field", result.BlockedReason)
	assert.Equal(t, DecisionBlocked, result.Decisions["card_number"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result.Redacted, &decoded))
	assert.NotContains(t, decoded, "card_number")
	assert.Equal(t, true, decoded["kept"])
}

func TestApply_JSONHashOnlyPolicy(t *testing.T) {
	engine := NewEngine(Config{})

	payload := []byte(`{"profile":{"b":1,"a":2}}`)
	result := engine.Apply(payload, map[string]string{"profile": PolicyHashOnly}, "application/json")

	require.Equal(t, models.RedactionRedacted, result.Status)
	assert.Equal(t, DecisionHashOnly, result.Decisions["profile"])

	sum := sha256.Sum256([]byte(`{"a":2,"b":1}`))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result.Redacted, &decoded))
	assert.Equal(t, hex.EncodeToString(sum[:]), decoded["profile"])
}

func TestApply_JSONPoliciesApplyAtDepth(t *testing.T) {
	engine := NewEngine(Config{})

	payload := []byte(`{"outer":{"secret_ref":"abc"}}`)
	result := engine.Apply(payload, map[string]string{"secret_ref": PolicyHashOnly}, "application/json")

	assert.Equal(t, models.RedactionRedacted, result.Status)
	assert.Equal(t, DecisionHashOnly, result.Decisions["secret_ref"])
}

func TestApply_JSONDenylistOverridesExplicitPolicy(t *testing.T) {
	engine := NewEngine(Config{DenylistFields: []string{"ssn"}})

	payload := []byte(`{"ssn":"123-45-6789"}`)
	result := engine.Apply(payload, map[string]string{"ssn": PolicyRawAllowed}, "application/json")

	assert.Equal(t, models.RedactionBlocked, result.Status)
	assert.Equal(t, DecisionBlocked, result.Decisions["ssn"])
}

func TestApply_JSONAllowlistYieldsToExplicitPolicy(t *testing.T) {
	engine := NewEngine(Config{AllowlistFields: []string{"public_blob"}})

	payload := []byte(`{"public_blob":{"x":1}}`)
	result := engine.Apply(payload, map[string]string{"public_blob": PolicyHashOnly}, "application/json")

	assert.Equal(t, DecisionHashOnly, result.Decisions["public_blob"])
}

func TestApply_JSONRawAllowedStillScrubbed(t *testing.T) {
	engine := NewEngine(Config{AllowlistFields: []string{"note"}})

	payload := []byte(`{"note":"dev@example.com"}`)
	result := engine.Apply(payload, nil, "application/json")

	assert.Equal(t, models.RedactionRedacted, result.Status)
	assert.Equal(t, DecisionRedacted, result.Decisions["note"])
	assert.Contains(t, string(result.Redacted), "[REDACTED_EMAIL]")
}

func TestApply_JSONArrayStringsPassThrough(t *testing.T) {
	engine := NewEngine(Config{})

	payload := []byte(`{"recipients":["dev@example.com"]}`)
	result := engine.Apply(payload, nil, "application/json")

	assert.Equal(t, models.RedactionNotRequired, result.Status)
	assert.Contains(t, string(result.Redacted), "dev@example.com")
}

func TestApply_JSONParseFailure(t *testing.T) {
	engine := NewEngine(Config{})

	payload := []byte(`{"broken":`)
	result := engine.Apply(payload, nil, "application/json")

	assert.Equal(t, models.RedactionFailed, result.Status)
	assert.Equal(t, payload, result.Redacted)
	assert.NotEmpty(t, result.BlockedReason)
}
