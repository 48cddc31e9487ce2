package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
)

// Repository manages persistence for balances and ledger events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEvent, error)
	FindByPurchase(ctx context.Context, purchaseID uuid.UUID, eventType enums.LedgerEventType) (*models.LedgerEvent, error)
	// DecrementBalance subtracts amount only when the balance covers it and
	// reports whether a row changed.
	DecrementBalance(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) FindByPurchase(ctx context.Context, purchaseID uuid.UUID, eventType enums.LedgerEventType) (*models.LedgerEvent, error) {
	var event models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("purchase_id = ? AND type = ?", purchaseID, eventType).
		Order("created_at ASC, id ASC").
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) DecrementBalance(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND balance_cents >= ?", userID, amountCents).
		UpdateColumn("balance_cents", gorm.Expr("balance_cents - ?", amountCents))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Select("balance_cents").First(&user, "id = ?", userID).Error; err != nil {
		return 0, err
	}
	return user.BalanceCents, nil
}
