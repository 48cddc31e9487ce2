package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopbot-backend/pkg/db"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
)

// ErrAllocationConflict means another transaction sold one of the selected
// items between the select and the guarded update, or held enough of the
// stock under lock that the read came back short. Callers retry the whole
// transaction.
var ErrAllocationConflict = errors.New("inventory allocation conflict")

// StockShortage is attached to INSUFFICIENT_STOCK errors.
type StockShortage struct {
	CanPurchase       bool `json:"can_purchase"`
	AvailableQuantity int  `json:"available_quantity"`
	RequestedQuantity int  `json:"requested_quantity"`
}

// Allocator owns the unsold -> sold transition of items.
type Allocator struct {
	db     *gorm.DB
	now    func() time.Time
	lockFn func(tx *gorm.DB, positionID uuid.UUID, qty int) ([]models.Item, error)
}

func NewAllocator(conn *gorm.DB) *Allocator {
	return &Allocator{
		db:     conn,
		now:    func() time.Time { return time.Now().UTC() },
		lockFn: lockUnsold,
	}
}

// lockUnsold reads the oldest qty unsold items. On Postgres the rows are
// locked FOR UPDATE, so a concurrent buyer waits instead of skipping them;
// rows sold while waiting are re-checked and dropped from the result.
func lockUnsold(tx *gorm.DB, positionID uuid.UUID, qty int) ([]models.Item, error) {
	query := tx.Model(&models.Item{}).
		Where("position_id = ? AND is_sold = ?", positionID, false).
		Order("created_at ASC, id ASC").
		Limit(qty)
	if db.IsPostgres(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var items []models.Item
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Allocate marks exactly qty unsold items of the position as sold to the
// buyer, or nothing. It must run inside the purchase transaction.
func (a *Allocator) Allocate(ctx context.Context, tx *gorm.DB, positionID, buyerID uuid.UUID, qty int) ([]models.Item, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "allocation requires a transaction")
	}
	tx = tx.WithContext(ctx)

	items, err := a.lockFn(tx, positionID, qty)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "select unsold items")
	}
	if len(items) < qty {
		available, err := countUnsold(tx, positionID)
		if err != nil {
			return nil, err
		}
		if available >= int64(qty) {
			return nil, ErrAllocationConflict
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough items in stock").
			WithDetails(StockShortage{AvailableQuantity: int(available), RequestedQuantity: qty})
	}

	ids := make([]uuid.UUID, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	soldAt := a.now()
	result := tx.Model(&models.Item{}).
		Where("id IN ? AND is_sold = ?", ids, false).
		Updates(map[string]any{
			"is_sold":  true,
			"sold_at":  soldAt,
			"buyer_id": buyerID,
		})
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "mark items sold")
	}
	if result.RowsAffected != int64(len(ids)) {
		return nil, ErrAllocationConflict
	}

	for i := range items {
		items[i].IsSold = true
		items[i].SoldAt = &soldAt
		items[i].BuyerID = &buyerID
	}
	return items, nil
}

// Available counts unsold items for display.
func (a *Allocator) Available(ctx context.Context, positionID uuid.UUID) (int64, error) {
	return countUnsold(a.db.WithContext(ctx), positionID)
}

func countUnsold(conn *gorm.DB, positionID uuid.UUID) (int64, error) {
	var count int64
	err := conn.Model(&models.Item{}).
		Where("position_id = ? AND is_sold = ?", positionID, false).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count unsold items")
	}
	return count, nil
}
