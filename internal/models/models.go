package models

import (
	"time"

	"gorm.io/gorm"
)

// Priority tiers controlling polling cadence
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

// Purchase statuses
const (
	PurchasePending    = "pending"
	PurchaseProcessing = "processing"
	PurchaseSuccess    = "success"
	PurchaseFailed     = "failed"
	PurchaseCancelled  = "cancelled"
)

// Error severities recorded on a purchase
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// User represents a user in the system
type User struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Email     string         `json:"email" gorm:"unique;not null"`
	Username  string         `json:"username"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// PaymentMethod is a stored payment reference for one retailer.
// Card data itself lives in the external vault; only the opaque
// reference is kept here.
type PaymentMethod struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	UserID     uint           `json:"user_id" gorm:"not null;index"`
	User       User           `json:"user" gorm:"foreignKey:UserID"`
	RetailerID string         `json:"retailer_id" gorm:"not null"`
	VaultRef   string         `json:"-" gorm:"not null"`
	Label      string         `json:"label"`
	IsDefault  bool           `json:"is_default" gorm:"default:false"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

// TrackedItem identifies a product a user wants to buy.
// Created and mutated through the catalog API; the monitoring core
// reads it read-only.
type TrackedItem struct {
	ID                   uint           `json:"id" gorm:"primaryKey"`
	UserID               uint           `json:"user_id" gorm:"not null;index"`
	User                 User           `json:"user" gorm:"foreignKey:UserID"`
	Name                 string         `json:"name" gorm:"not null"`
	TargetPrice          float64        `json:"target_price"`
	MaxPrice             float64        `json:"max_price"`
	Priority             string         `json:"priority" gorm:"default:'medium';index"` // high, medium, low
	AutoPurchaseEnabled  bool           `json:"auto_purchase_enabled" gorm:"default:false"`
	RequiresConfirmation bool           `json:"requires_confirmation" gorm:"default:true"`
	MaxQuantity          int            `json:"max_quantity" gorm:"default:1"`
	IsActive             bool           `json:"is_active" gorm:"default:true;index"`
	Retailers            []ItemRetailer `json:"retailers" gorm:"foreignKey:ItemID"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index"`
}

// EnabledRetailers returns the retailer listings probes may be issued for.
func (t *TrackedItem) EnabledRetailers() []ItemRetailer {
	var out []ItemRetailer
	for _, r := range t.Retailers {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// PolicyValid reports whether the item's price policy is well formed.
func (t *TrackedItem) PolicyValid() bool {
	return t.TargetPrice >= 0 && t.MaxPrice >= 0 && t.TargetPrice <= t.MaxPrice
}

// ItemRetailer maps a tracked item to its product reference on one retailer
type ItemRetailer struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ItemID     uint      `json:"item_id" gorm:"not null;index"`
	RetailerID string    `json:"retailer_id" gorm:"not null"`
	Reference  string    `json:"reference" gorm:"not null"` // retailer-side product id / SKU
	Enabled    bool      `json:"enabled" gorm:"default:true"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Purchase is the ledger entry for one purchase lifecycle.
// Created when an intent is accepted by the executor; mutated only by
// the executor; never deleted, only transitioned to a terminal status.
type Purchase struct {
	ID         uint        `json:"id" gorm:"primaryKey"`
	IntentID   string      `json:"intent_id" gorm:"unique;not null"`
	ItemID     uint        `json:"item_id" gorm:"not null;index"`
	Item       TrackedItem `json:"item" gorm:"foreignKey:ItemID"`
	UserID     uint        `json:"user_id" gorm:"index"`
	RetailerID string      `json:"retailer_id" gorm:"not null;index"`
	Reference  string      `json:"reference"` // retailer-side product id / SKU
	Status     string      `json:"status" gorm:"default:'pending';index"`

	Price    float64 `json:"price"`
	Quantity int     `json:"quantity" gorm:"default:1"`
	Total    float64 `json:"total"`

	// Policy snapshot at trigger time
	TargetPrice float64 `json:"target_price"`
	MaxPrice    float64 `json:"max_price"`

	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts" gorm:"default:3"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`

	PaymentRef  string     `json:"payment_ref"`
	OrderNo     string     `json:"order_no"`
	ConfirmedAt *time.Time `json:"confirmed_at"`

	Errors []PurchaseError `json:"errors" gorm:"foreignKey:PurchaseID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the purchase can no longer change status.
func (p *Purchase) Terminal() bool {
	switch p.Status {
	case PurchaseSuccess, PurchaseFailed, PurchaseCancelled:
		return true
	}
	return false
}

// PurchaseError is one recorded failure on a purchase, in attempt order
type PurchaseError struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	PurchaseID uint      `json:"purchase_id" gorm:"not null;index"`
	Message    string    `json:"message" gorm:"type:text"`
	Severity   string    `json:"severity" gorm:"default:'high'"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}
