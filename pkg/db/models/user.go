package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a storefront customer. TelegramID is nil when the messaging
// identity cannot be resolved; such users cannot pass the channel gate or
// receive deliveries.
type User struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TelegramID   *int64    `gorm:"column:telegram_id;uniqueIndex"`
	Username     *string   `gorm:"column:username"`
	BalanceCents int64     `gorm:"column:balance_cents;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
