package ledger

import (
	"fmt"

	"dealhunter/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists purchases and their error history. The executor is
// the only writer during a purchase's lifecycle.
type Store interface {
	Create(p *models.Purchase) error
	Save(p *models.Purchase) error
	Get(id uint) (*models.Purchase, error)
	AppendError(purchaseID uint, e models.PurchaseError) error
	List(limit int) ([]models.Purchase, error)
}

type gormStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Create(p *models.Purchase) error {
	if err := s.db.Omit(clause.Associations).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

func (s *gormStore) Save(p *models.Purchase) error {
	// Error records are appended through AppendError; never rewrite
	// associations from a stale copy.
	if err := s.db.Omit(clause.Associations).Save(p).Error; err != nil {
		return fmt.Errorf("failed to save purchase %d: %w", p.ID, err)
	}
	return nil
}

func (s *gormStore) Get(id uint) (*models.Purchase, error) {
	var p models.Purchase
	if err := s.db.Preload("Errors").First(&p, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load purchase %d: %w", id, err)
	}
	return &p, nil
}

func (s *gormStore) AppendError(purchaseID uint, e models.PurchaseError) error {
	e.PurchaseID = purchaseID
	if err := s.db.Create(&e).Error; err != nil {
		return fmt.Errorf("failed to record purchase error: %w", err)
	}
	return nil
}

func (s *gormStore) List(limit int) ([]models.Purchase, error) {
	var purchases []models.Purchase
	q := s.db.Preload("Errors").Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&purchases).Error; err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return purchases, nil
}
