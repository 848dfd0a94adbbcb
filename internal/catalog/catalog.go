package catalog

import (
	"context"
	"fmt"

	"dealhunter/internal/models"

	"gorm.io/gorm"
)

// Catalog is the read-only view of tracked items, retailers and payment
// methods. Writes go through the external catalog API, not through here.
type Catalog interface {
	// ListEligibleItems returns active items in the tier that have at
	// least one enabled retailer listing, with listings preloaded.
	ListEligibleItems(ctx context.Context, tier string) ([]models.TrackedItem, error)
	GetItem(ctx context.Context, itemID uint) (*models.TrackedItem, error)
	GetDefaultPaymentMethod(ctx context.Context, userID uint, retailerID string) (*models.PaymentMethod, error)
}

type gormCatalog struct {
	db *gorm.DB
}

func New(db *gorm.DB) Catalog {
	return &gormCatalog{db: db}
}

func (c *gormCatalog) ListEligibleItems(ctx context.Context, tier string) ([]models.TrackedItem, error) {
	var items []models.TrackedItem
	err := c.db.WithContext(ctx).
		Preload("Retailers", "enabled = ?", true).
		Where("is_active = ? AND priority = ?", true, tier).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items for tier %s: %w", tier, err)
	}

	// Items without any enabled listing are not schedulable.
	eligible := items[:0]
	for _, item := range items {
		if len(item.Retailers) > 0 {
			eligible = append(eligible, item)
		}
	}
	return eligible, nil
}

func (c *gormCatalog) GetItem(ctx context.Context, itemID uint) (*models.TrackedItem, error) {
	var item models.TrackedItem
	err := c.db.WithContext(ctx).
		Preload("Retailers", "enabled = ?", true).
		First(&item, itemID).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load item %d: %w", itemID, err)
	}
	return &item, nil
}

func (c *gormCatalog) GetDefaultPaymentMethod(ctx context.Context, userID uint, retailerID string) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := c.db.WithContext(ctx).
		Where("user_id = ? AND retailer_id = ? AND is_default = ?", userID, retailerID, true).
		First(&pm).Error
	if err != nil {
		return nil, fmt.Errorf("no default payment method for user %d on %s: %w", userID, retailerID, err)
	}
	return &pm, nil
}
