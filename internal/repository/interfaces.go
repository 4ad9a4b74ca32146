// Package repository defines data access interfaces and implementations.
package repository

import (
	"context"

	"github.com/user/pmb-go/internal/models"
)

// TemplateSummary is the list view of a saved request.
type TemplateSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	LastSaved string `json:"last_saved"`
}

// TemplateRepository provides access to saved request templates.
type TemplateRepository interface {
	Save(ctx context.Context, tpl *models.RequestTemplate) error
	FindByID(ctx context.Context, id string) (*models.RequestTemplate, error)
	FindAll(ctx context.Context) ([]*models.RequestTemplate, error)
	ListSummaries(ctx context.Context) ([]TemplateSummary, error)
	Delete(ctx context.Context, id string) error
}
