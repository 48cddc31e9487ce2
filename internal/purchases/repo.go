package purchases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
	"github.com/angelmondragon/shopbot-backend/pkg/pagination"
)

// IdempotencyConstraint names the unique index over (user_id, idempotency_key).
const IdempotencyConstraint = "ux_purchases_user_idempotency"

const maxDeliveryErrorLen = 1024

// Repository is the purchase recorder. It is the only writer of purchases
// and purchase_items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, purchase *models.Purchase, itemIDs []uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Purchase, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	ListByDeliveryStatus(ctx context.Context, status enums.DeliveryStatus, limit int) ([]models.Purchase, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*PurchaseList, error)
	ListDeliveryCandidates(ctx context.Context, maxAttempts int, pendingBefore time.Time, limit int) ([]models.Purchase, error)
}

// ListFilters narrows the operator listing. Zero values match everything.
type ListFilters struct {
	DeliveryStatus *enums.DeliveryStatus
	UserID         *uuid.UUID
}

// PurchaseList is one page of purchases, newest first.
type PurchaseList struct {
	Purchases  []models.Purchase `json:"purchases"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the purchase row and its item links.
func (r *repository) Create(ctx context.Context, purchase *models.Purchase, itemIDs []uuid.UUID) error {
	if len(itemIDs) != purchase.Quantity {
		return pkgerrors.New(pkgerrors.CodeInternal, "allocated items do not match quantity")
	}
	db := r.db.WithContext(ctx)
	if err := db.Create(purchase).Error; err != nil {
		return err
	}
	links := make([]models.PurchaseItem, len(itemIDs))
	for i, id := range itemIDs {
		links[i] = models.PurchaseItem{PurchaseID: purchase.ID, ItemID: id}
	}
	return db.Create(&links).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).First(&purchase, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load purchase")
	}
	if err := r.loadItems(ctx, &purchase); err != nil {
		return nil, err
	}
	return &purchase, nil
}

// FindByIdempotencyKey returns nil when the user never used the key.
func (r *repository) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load purchase by idempotency key")
	}
	if err := r.loadItems(ctx, &purchase); err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (r *repository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"delivery_status":          enums.DeliveryStatusDelivered,
			"delivery_attempts":        gorm.Expr("delivery_attempts + 1"),
			"delivery_error":           nil,
			"last_delivery_attempt_at": at,
			"delivered_at":             at,
		}).Error
}

func (r *repository) MarkDeliveryFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	if len(reason) > maxDeliveryErrorLen {
		reason = reason[:maxDeliveryErrorLen]
	}
	return r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND delivery_status <> ?", id, enums.DeliveryStatusDelivered).
		Updates(map[string]any{
			"delivery_status":          enums.DeliveryStatusFailed,
			"delivery_attempts":        gorm.Expr("delivery_attempts + 1"),
			"delivery_error":           reason,
			"last_delivery_attempt_at": at,
		}).Error
}

func (r *repository) ListByDeliveryStatus(ctx context.Context, status enums.DeliveryStatus, limit int) ([]models.Purchase, error) {
	var rows []models.Purchase
	query := r.db.WithContext(ctx).
		Where("delivery_status = ?", status).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchases")
	}
	return rows, nil
}

func (r *repository) List(ctx context.Context, filters ListFilters, params pagination.Params) (*PurchaseList, error) {
	cursor, err := params.Decode()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	size := params.PageSize()

	query := r.db.WithContext(ctx).Model(&models.Purchase{})
	if filters.DeliveryStatus != nil {
		query = query.Where("delivery_status = ?", *filters.DeliveryStatus)
	}
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Purchase
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(size + 1).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchases")
	}

	list := &PurchaseList{Purchases: rows}
	if len(rows) > size {
		list.Purchases = rows[:size]
		last := list.Purchases[size-1]
		list.NextCursor = pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return list, nil
}

// ListDeliveryCandidates returns failed purchases that still have attempts
// left plus pending purchases older than pendingBefore, oldest first.
func (r *repository) ListDeliveryCandidates(ctx context.Context, maxAttempts int, pendingBefore time.Time, limit int) ([]models.Purchase, error) {
	var rows []models.Purchase
	query := r.db.WithContext(ctx).
		Where("(delivery_status = ? AND delivery_attempts < ?) OR (delivery_status = ? AND created_at < ?)",
			enums.DeliveryStatusFailed, maxAttempts,
			enums.DeliveryStatusPending, pendingBefore).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list delivery candidates")
	}
	return rows, nil
}

func (r *repository) loadItems(ctx context.Context, purchase *models.Purchase) error {
	var items []models.Item
	err := r.db.WithContext(ctx).
		Table("items").
		Select("items.*").
		Joins("JOIN purchase_items ON purchase_items.item_id = items.id").
		Where("purchase_items.purchase_id = ?", purchase.ID).
		Order("items.created_at ASC").
		Order("items.id ASC").
		Find(&items).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load purchase items")
	}
	purchase.Items = items
	return nil
}
