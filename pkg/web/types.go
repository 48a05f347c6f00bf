// Package web provides the HTTP handlers of the workflow API.
package web

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string                   `json:"name"                  validate:"required,min=3"`
	Description string                   `json:"description"`
	Version     string                   `json:"version,omitempty"`
	Triggers    []models.WorkflowTrigger `json:"triggers"`
	Steps       []models.WorkflowStep    `json:"steps"                 validate:"required,min=1"`
	StartStepID string                   `json:"startStepId"           validate:"required"`
	IsActive    bool                     `json:"isActive"`
	Platform    string                   `json:"platform,omitempty"`
	Metadata    *WorkflowMetadataRequest `json:"metadata,omitempty"`
}

type WorkflowMetadataRequest struct {
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Author   string   `json:"author"`
}

func (r CreateWorkflowRequest) Workflow() *models.Workflow {
	workflow := &models.Workflow{
		Name:        r.Name,
		Description: r.Description,
		Version:     r.Version,
		Triggers:    r.Triggers,
		Steps:       r.Steps,
		StartStepID: r.StartStepID,
		IsActive:    r.IsActive,
		Platform:    r.Platform,
	}

	if r.Metadata != nil {
		workflow.Metadata.Category = r.Metadata.Category
		workflow.Metadata.Tags = r.Metadata.Tags
		workflow.Metadata.Author = r.Metadata.Author
	}

	return workflow
}

// TriggerWorkflowRequest is the optional body of a manual trigger. Context seeds the execution context.
type TriggerWorkflowRequest struct {
	Context map[string]any `json:"context"`
}

// PublishEventRequest is the body of an inbound platform event.
type PublishEventRequest struct {
	Platform string         `json:"platform"`
	Payload  map[string]any `json:"payload"`
}

type PublishEventResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}
