package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"leads", "/leads", false},
		{"/leads/", "/leads", false},
		{" /crm/deals ", "/crm/deals", false},
		{"/", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			path, err := NormalizePath(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPath)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, path)
		})
	}
}

func TestRegistry_RegisterResolve(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(Registration{Path: "leads/", WorkflowID: "wf-1", TriggerID: "t1"}))

	registration, err := registry.Resolve("/leads")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", registration.WorkflowID)
	assert.Equal(t, "/leads", registration.Path)

	_, err = registry.Resolve("/unknown")
	require.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestRegistry_Conflicts(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(Registration{Path: "/leads", WorkflowID: "wf-1", TriggerID: "t1"}))

	require.NoError(t, registry.Available("/leads", "wf-1"), "owner may re-register")
	require.ErrorIs(t, registry.Available("/leads", "wf-2"), ErrPathConflict)
	require.ErrorIs(t, registry.Register(Registration{Path: "/leads/", WorkflowID: "wf-2"}), ErrPathConflict)

	registry.UnregisterWorkflow("wf-1")
	registry.UnregisterWorkflow("wf-1")

	require.NoError(t, registry.Available("/leads", "wf-2"))
}

func TestValidatePayload(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"email"},
		"properties": map[string]any{
			"email": map[string]any{"type": "string"},
			"score": map[string]any{"type": "number"},
		},
	}

	require.NoError(t, ValidatePayload(schema, map[string]any{"email": "a@b.c", "score": 10.0}))
	require.NoError(t, ValidatePayload(nil, map[string]any{"anything": true}))

	err := ValidatePayload(schema, map[string]any{"score": "high"})
	require.ErrorIs(t, err, ErrInvalidPayload)
	assert.Contains(t, err.Error(), "email")
}

func TestValidateSchema(t *testing.T) {
	require.NoError(t, ValidateSchema(map[string]any{"type": "object"}))
	require.Error(t, ValidateSchema(map[string]any{"type": "nonsense"}))
}
