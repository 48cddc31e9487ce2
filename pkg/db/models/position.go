package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Position is a sellable product line backed by interchangeable items.
type Position struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name       string    `gorm:"column:name;not null"`
	PriceCents int64     `gorm:"column:price_cents;not null;check:positions_price_positive,price_cents > 0"`
	IsVisible  bool      `gorm:"column:is_visible;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Position) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
