package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequiredChannel is a channel buyers must be subscribed to while active.
type RequiredChannel struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ChatID    int64     `gorm:"column:chat_id;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;not null"`
	Handle    *string   `gorm:"column:handle"`
	InviteURL *string   `gorm:"column:invite_url"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (c *RequiredChannel) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// UserChannelSubscription caches the last observed membership state. It is
// advisory only; the gate always asks the platform.
type UserChannelSubscription struct {
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	ChannelID uuid.UUID `gorm:"column:channel_id;type:uuid;primaryKey"`
	IsMember  bool      `gorm:"column:is_member;not null"`
	Status    string    `gorm:"column:status;not null"`
	CheckedAt time.Time `gorm:"column:checked_at;not null"`
}
