package payloads

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseCompletedEvent is emitted in the purchase transaction once stock
// is allocated and the balance debited.
type PurchaseCompletedEvent struct {
	PurchaseID      uuid.UUID   `json:"purchase_id" validate:"required"`
	UserID          uuid.UUID   `json:"user_id" validate:"required"`
	PositionID      uuid.UUID   `json:"position_id" validate:"required"`
	Quantity        int         `json:"quantity" validate:"gt=0"`
	UnitPriceCents  int64       `json:"unit_price_cents"`
	TotalPriceCents int64       `json:"total_price_cents" validate:"gt=0"`
	ItemIDs         []uuid.UUID `json:"item_ids"`
	BalanceAfter    int64       `json:"balance_after_cents"`
}

// PurchaseDeliveredEvent is emitted when the purchased content reached the buyer.
type PurchaseDeliveredEvent struct {
	PurchaseID  uuid.UUID `json:"purchase_id" validate:"required"`
	UserID      uuid.UUID `json:"user_id" validate:"required"`
	Attempts    int       `json:"attempts" validate:"gt=0"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// PurchaseDeliveryFailedEvent is emitted for every failed delivery attempt.
type PurchaseDeliveryFailedEvent struct {
	PurchaseID uuid.UUID `json:"purchase_id" validate:"required"`
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	Attempts   int       `json:"attempts" validate:"gt=0"`
	Reason     string    `json:"reason"`
	Retryable  bool      `json:"retryable"`
}
