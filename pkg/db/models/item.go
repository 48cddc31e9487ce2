package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Item is one deliverable stock unit of a position. IsSold flips to true
// exactly once, when the item is allocated to a purchase.
type Item struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	PositionID uuid.UUID  `gorm:"column:position_id;type:uuid;not null;index:idx_items_position_unsold,priority:1"`
	Content    string     `gorm:"column:content;type:text;not null"`
	IsSold     bool       `gorm:"column:is_sold;not null;default:false;index:idx_items_position_unsold,priority:2"`
	SoldAt     *time.Time `gorm:"column:sold_at"`
	BuyerID    *uuid.UUID `gorm:"column:buyer_id;type:uuid"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (i *Item) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
