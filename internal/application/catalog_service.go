package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/domain/coupon"
)

// CatalogService exposes the purchasable coupon templates.
type CatalogService struct {
	templates coupon.TemplateRepository
	now       func() time.Time
	logger    *zap.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(templates coupon.TemplateRepository, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		templates: templates,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// ListActiveTemplates returns all active templates.
func (s *CatalogService) ListActiveTemplates(ctx context.Context) ([]*TemplateDTO, error) {
	templates, err := s.templates.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	dtos := make([]*TemplateDTO, len(templates))
	for i, t := range templates {
		dtos[i] = toTemplateDTO(t, now)
	}
	return dtos, nil
}
