// Package models defines the core domain models for step-based workflow automation
package models

import "time"

// EndStep is the sentinel failure edge that terminates an execution as failed.
const EndStep = "end"

// DefaultVersion is assigned to workflows created without a version.
const DefaultVersion = "1.0.0"

// Workflow is a named, versioned definition of triggers and a step graph.
type Workflow struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"                validate:"required,min=3"`
	Description string            `json:"description"`
	Version     string            `json:"version"`
	Triggers    []WorkflowTrigger `json:"triggers"            validate:"dive"`
	Steps       []WorkflowStep    `json:"steps"               validate:"required,min=1,dive"`
	StartStepID string            `json:"startStepId"         validate:"required"`
	IsActive    bool              `json:"isActive"`
	Platform    string            `json:"platform,omitempty"`
	Metadata    WorkflowMetadata  `json:"metadata"`
	Analytics   WorkflowAnalytics `json:"analytics"`
}

// WorkflowMetadata carries free-form descriptive fields.
type WorkflowMetadata struct {
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WorkflowAnalytics is updated after every terminal execution.
type WorkflowAnalytics struct {
	ExecutionCount int64      `json:"executionCount"`
	SuccessRate    float64    `json:"successRate"`          // percent, 0-100
	AverageTimeMs  float64    `json:"averageExecutionTime"` // milliseconds
	LastExecuted   *time.Time `json:"lastExecuted,omitempty"`
}

// WorkflowStep is a node of the workflow graph.
type WorkflowStep struct {
	ID         string         `json:"id"                   validate:"required"`
	Name       string         `json:"name"`
	Action     WorkflowAction `json:"action"`
	Conditions []Condition    `json:"conditions,omitempty" validate:"dive"`
	OnSuccess  string         `json:"onSuccess,omitempty"`
	OnFailure  string         `json:"onFailure,omitempty"`
	Delay      int64          `json:"delay,omitempty"      validate:"min=0"` // milliseconds
}

// TriggerType identifies how a trigger starts executions.
type TriggerType string

const (
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeManual   TriggerType = "manual"
)

// WorkflowTrigger starts new executions of its workflow.
type WorkflowTrigger struct {
	ID       string        `json:"id"       validate:"required"`
	Type     TriggerType   `json:"type"     validate:"required,oneof=event schedule webhook manual"`
	Config   TriggerConfig `json:"config"`
	IsActive bool          `json:"isActive"`
}

// TriggerConfig holds the kind-specific trigger settings.
type TriggerConfig struct {
	Event       string         `json:"event,omitempty"`
	Schedule    string         `json:"schedule,omitempty"`
	WebhookPath string         `json:"webhookPath,omitempty"`
	Platform    string         `json:"platform,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"` // JSON Schema for inbound webhook payloads
}

// ActionType identifies the kind of work a step performs.
type ActionType string

const (
	ActionTypeAPICall      ActionType = "api_call"
	ActionTypeWebhook      ActionType = "webhook"
	ActionTypeEmail        ActionType = "email"
	ActionTypeNotification ActionType = "notification"
	ActionTypeDataUpdate   ActionType = "data_update"
	ActionTypeCustom       ActionType = "custom"
)

// WorkflowAction is the unit of external work of a step.
type WorkflowAction struct {
	Type        ActionType     `json:"type"        validate:"required,oneof=api_call webhook email notification data_update custom"`
	Config      map[string]any `json:"config"`
	RetryConfig RetryConfig    `json:"retryConfig"`
	Timeout     int64          `json:"timeout"     validate:"min=0"` // milliseconds, 0 means default
}

// BackoffStrategy selects how retry delays grow.
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryConfig declares how many times a failed action is retried.
type RetryConfig struct {
	MaxRetries      int             `json:"maxRetries"      validate:"min=0"`
	BackoffStrategy BackoffStrategy `json:"backoffStrategy" validate:"omitempty,oneof=linear exponential"`
	InitialDelay    int64           `json:"initialDelay"    validate:"min=0"` // milliseconds
}

// Condition is a single predicate over the execution context.
type Condition struct {
	Field           string          `json:"field"                     validate:"required"`
	Operator        Operator        `json:"operator"                  validate:"required"`
	Value           any             `json:"value,omitempty"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" validate:"omitempty,oneof=AND OR"`
}

// Operator compares a context field against a condition value.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorContains    Operator = "contains"
	OperatorExists      Operator = "exists"
)

// LogicalOperator joins a predicate to the following one.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Step returns the step with the given id.
func (w *Workflow) Step(id string) (*WorkflowStep, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}

	return nil, false
}

// TriggerByType returns the first active trigger of the given kind.
func (w *Workflow) TriggerByType(triggerType TriggerType) (*WorkflowTrigger, bool) {
	for i := range w.Triggers {
		if w.Triggers[i].Type == triggerType && w.Triggers[i].IsActive {
			return &w.Triggers[i], true
		}
	}

	return nil, false
}

// Clone returns a copy that shares no slices with the receiver.
func (w *Workflow) Clone() *Workflow {
	clone := *w
	clone.Triggers = append([]WorkflowTrigger(nil), w.Triggers...)
	clone.Metadata.Tags = append([]string(nil), w.Metadata.Tags...)

	clone.Steps = make([]WorkflowStep, len(w.Steps))
	for i, step := range w.Steps {
		step.Conditions = append([]Condition(nil), step.Conditions...)
		clone.Steps[i] = step
	}

	if w.Analytics.LastExecuted != nil {
		lastExecuted := *w.Analytics.LastExecuted
		clone.Analytics.LastExecuted = &lastExecuted
	}

	return &clone
}

// WorkflowUpdate is a partial update; nil fields are left untouched.
type WorkflowUpdate struct {
	Name        *string            `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string            `json:"description,omitempty"`
	Version     *string            `json:"version,omitempty"`
	Triggers    *[]WorkflowTrigger `json:"triggers,omitempty"`
	Steps       *[]WorkflowStep    `json:"steps,omitempty"`
	StartStepID *string            `json:"startStepId,omitempty"`
	IsActive    *bool              `json:"isActive,omitempty"`
	Platform    *string            `json:"platform,omitempty"`
	Category    *string            `json:"category,omitempty"`
	Tags        *[]string          `json:"tags,omitempty"`
	Author      *string            `json:"author,omitempty"`
}

// Apply merges the update into the workflow. Identity and analytics are kept.
func (u WorkflowUpdate) Apply(workflow *Workflow) {
	if u.Name != nil {
		workflow.Name = *u.Name
	}

	if u.Description != nil {
		workflow.Description = *u.Description
	}

	if u.Version != nil {
		workflow.Version = *u.Version
	}

	if u.Triggers != nil {
		workflow.Triggers = append([]WorkflowTrigger(nil), *u.Triggers...)
	}

	if u.Steps != nil {
		workflow.Steps = append([]WorkflowStep(nil), *u.Steps...)
	}

	if u.StartStepID != nil {
		workflow.StartStepID = *u.StartStepID
	}

	if u.IsActive != nil {
		workflow.IsActive = *u.IsActive
	}

	if u.Platform != nil {
		workflow.Platform = *u.Platform
	}

	if u.Category != nil {
		workflow.Metadata.Category = *u.Category
	}

	if u.Tags != nil {
		workflow.Metadata.Tags = append([]string(nil), *u.Tags...)
	}

	if u.Author != nil {
		workflow.Metadata.Author = *u.Author
	}
}
