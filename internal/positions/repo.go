package positions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
)

// Repository reads the catalog positions the purchase flow needs.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a position. Prices must be positive.
func (r *Repository) Create(ctx context.Context, position *models.Position) (*models.Position, error) {
	if position.PriceCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	}
	if err := r.db.WithContext(ctx).Create(position).Error; err != nil {
		return nil, err
	}
	return position, nil
}

// FindVisible loads a position that buyers may purchase.
func (r *Repository) FindVisible(ctx context.Context, id uuid.UUID) (*models.Position, error) {
	return r.findVisible(r.db.WithContext(ctx), id)
}

// FindVisibleTx re-reads the position inside the purchase transaction so the
// charged price is the one current at commit time.
func (r *Repository) FindVisibleTx(tx *gorm.DB, id uuid.UUID) (*models.Position, error) {
	return r.findVisible(tx, id)
}

// FindByID loads a position regardless of visibility (delivery, history).
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Position, error) {
	var position models.Position
	if err := r.db.WithContext(ctx).First(&position, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodePositionNotFound, "position not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load position")
	}
	return &position, nil
}

func (r *Repository) findVisible(db *gorm.DB, id uuid.UUID) (*models.Position, error) {
	var position models.Position
	err := db.Where("id = ? AND is_visible = ?", id, true).First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodePositionNotFound, "position not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load position")
	}
	if position.PriceCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "position has a non-positive price")
	}
	return &position, nil
}
