// Package webhook keeps the registry of inbound webhook paths and validates their payloads.
package webhook

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrPathConflict    = errors.New("webhook path already registered")
	ErrInvalidPath     = errors.New("invalid webhook path")
	ErrInvalidPayload  = errors.New("webhook payload does not match schema")
)

// Registration binds a path to the trigger it starts.
type Registration struct {
	Path       string
	WorkflowID string
	TriggerID  string
	Platform   string
	Schema     map[string]any
}

type Registry struct {
	mu    sync.RWMutex
	hooks map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]Registration)}
}

// NormalizePath gives paths a single leading slash and no trailing slash.
func NormalizePath(path string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	return "/" + trimmed, nil
}

// Available reports whether path is free or already owned by workflowID.
func (r *Registry) Available(path, workflowID string) error {
	normalized, err := NormalizePath(path)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if existing, ok := r.hooks[normalized]; ok && existing.WorkflowID != workflowID {
		return fmt.Errorf("%w: %s is used by workflow %s", ErrPathConflict, normalized, existing.WorkflowID)
	}

	return nil
}

func (r *Registry) Register(registration Registration) error {
	normalized, err := NormalizePath(registration.Path)
	if err != nil {
		return err
	}

	registration.Path = normalized

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.hooks[normalized]; ok && existing.WorkflowID != registration.WorkflowID {
		return fmt.Errorf("%w: %s is used by workflow %s", ErrPathConflict, normalized, existing.WorkflowID)
	}

	r.hooks[normalized] = registration

	return nil
}

// UnregisterWorkflow removes every path owned by workflowID.
func (r *Registry) UnregisterWorkflow(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for path, registration := range r.hooks {
		if registration.WorkflowID == workflowID {
			delete(r.hooks, path)
		}
	}
}

func (r *Registry) Resolve(path string) (Registration, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return Registration{}, fmt.Errorf("%w: %s", ErrWebhookNotFound, path)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	registration, ok := r.hooks[normalized]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", ErrWebhookNotFound, normalized)
	}

	return registration, nil
}

// ValidatePayload checks payload against a JSON Schema. A nil schema accepts anything.
func ValidatePayload(schema map[string]any, payload map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
	}

	return nil
}

// ValidateSchema reports whether schema itself compiles.
func ValidateSchema(schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid webhook schema: %w", err)
	}

	return nil
}
