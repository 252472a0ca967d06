package entitlements

import (
	"context"
	"fmt"
	"strings"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// Catalog is the operator-facing registry of features and their defaults.
// It owns no per-guild state.
type Catalog struct {
	repos *repository.Repositories
}

// NewCatalog creates a catalog on top of the store's autocommit repositories.
func NewCatalog(store repository.Store) *Catalog {
	return &Catalog{repos: store.Repositories()}
}

func (c *Catalog) List(ctx context.Context) ([]models.Feature, error) {
	return c.repos.Feature.List(ctx)
}

func (c *Catalog) Get(ctx context.Context, featureKey string) (*models.Feature, error) {
	f, err := c.repos.Feature.GetByKey(ctx, featureKey)
	if errs.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", errs.ErrFeatureNotFound, featureKey)
	}
	return f, err
}

// Upsert creates or replaces a catalog entry by feature key.
func (c *Catalog) Upsert(ctx context.Context, feature *models.Feature) error {
	feature.FeatureKey = strings.TrimSpace(feature.FeatureKey)
	feature.MinimumPackage = strings.ToLower(strings.TrimSpace(feature.MinimumPackage))
	if feature.MinimumPackage == "" {
		feature.MinimumPackage = models.PackageFree
	}
	if err := feature.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return c.repos.Feature.Upsert(ctx, feature)
}

// SetActive switches a feature on or off for every guild at once.
func (c *Catalog) SetActive(ctx context.Context, featureKey string, active bool) error {
	err := c.repos.Feature.SetActive(ctx, featureKey, active)
	if errs.IsNotFound(err) {
		return fmt.Errorf("%w: %s", errs.ErrFeatureNotFound, featureKey)
	}
	return err
}

// SetDefault changes whether guilds get the feature without an override.
func (c *Catalog) SetDefault(ctx context.Context, featureKey string, enabled bool) error {
	if _, err := c.Get(ctx, featureKey); err != nil {
		return err
	}
	return c.repos.Feature.SetDefault(ctx, featureKey, enabled)
}

func (c *Catalog) Defaults(ctx context.Context) ([]models.FeatureDefault, error) {
	return c.repos.Feature.ListDefaults(ctx)
}
