package channels

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
)

// Repository reads the required-channel list and maintains the advisory
// subscription cache.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, channel *models.RequiredChannel) error {
	return r.db.WithContext(ctx).Create(channel).Error
}

// SetActive toggles whether a channel participates in the gate.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.db.WithContext(ctx).
		Model(&models.RequiredChannel{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

// ListActive returns active channels ordered for display.
func (r *Repository) ListActive(ctx context.Context) ([]models.RequiredChannel, error) {
	var rows []models.RequiredChannel
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// UpsertSubscription records the latest observed membership for a user.
func (r *Repository) UpsertSubscription(ctx context.Context, sub models.UserChannelSubscription) error {
	if sub.CheckedAt.IsZero() {
		sub.CheckedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_member", "status", "checked_at"}),
		}).
		Create(&sub).Error
}

// ListSubscriptions returns the cached rows for a user.
func (r *Repository) ListSubscriptions(ctx context.Context, userID uuid.UUID) ([]models.UserChannelSubscription, error) {
	var rows []models.UserChannelSubscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&rows).Error
	return rows, err
}
