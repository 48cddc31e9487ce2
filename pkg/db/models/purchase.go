package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopbot-backend/pkg/enums"
)

// Purchase is the immutable record of a completed buy. Only the delivery
// columns change after creation.
type Purchase struct {
	ID                    uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID                uuid.UUID            `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_purchases_user_idempotency,priority:1"`
	PositionID            uuid.UUID            `gorm:"column:position_id;type:uuid;not null"`
	Quantity              int                  `gorm:"column:quantity;not null"`
	UnitPriceCents        int64                `gorm:"column:unit_price_cents;not null"`
	TotalPriceCents       int64                `gorm:"column:total_price_cents;not null"`
	IdempotencyKey        *string              `gorm:"column:idempotency_key;uniqueIndex:ux_purchases_user_idempotency,priority:2"`
	DeliveryStatus        enums.DeliveryStatus `gorm:"column:delivery_status;type:delivery_status_enum;not null"`
	DeliveryAttempts      int                  `gorm:"column:delivery_attempts;not null;default:0"`
	DeliveryError         *string              `gorm:"column:delivery_error"`
	LastDeliveryAttemptAt *time.Time           `gorm:"column:last_delivery_attempt_at"`
	DeliveredAt           *time.Time           `gorm:"column:delivered_at"`
	CreatedAt             time.Time            `gorm:"column:created_at;autoCreateTime"`

	Items []Item `gorm:"-"`
}

func (p *Purchase) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	if p.DeliveryStatus == "" {
		p.DeliveryStatus = enums.DeliveryStatusPending
	}
	return nil
}

// PurchaseItem links an allocated item to the purchase that consumed it.
type PurchaseItem struct {
	PurchaseID uuid.UUID `gorm:"column:purchase_id;type:uuid;primaryKey"`
	ItemID     uuid.UUID `gorm:"column:item_id;type:uuid;primaryKey;uniqueIndex:ux_purchase_items_item"`
}
