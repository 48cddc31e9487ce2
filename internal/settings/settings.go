package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopbot-backend/pkg/config"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
)

// Keys stored in the settings table.
const (
	KeyPurchasesEnabled   = "purchases_enabled"
	KeyChannelGateEnabled = "channel_gate_enabled"
	KeyMaxQuantity        = "max_purchase_quantity"
)

// Snapshot is the set of switches one request runs under. It is a value:
// later dashboard edits never change a snapshot already handed out.
type Snapshot struct {
	PurchasesEnabled   bool
	ChannelGateEnabled bool
	MaxQuantity        int
}

// Defaults builds a snapshot from configuration alone.
func Defaults(cfg config.PurchasesConfig) Snapshot {
	maxQty := cfg.MaxQuantity
	if maxQty <= 0 {
		maxQty = 100
	}
	return Snapshot{
		PurchasesEnabled:   cfg.Enabled,
		ChannelGateEnabled: cfg.ChannelGateEnabled,
		MaxQuantity:        maxQty,
	}
}

// Loader reads the settings table on top of the configured defaults.
type Loader struct {
	db       *gorm.DB
	defaults Snapshot
	logg     *logger.Logger
}

func NewLoader(db *gorm.DB, defaults Snapshot, logg *logger.Logger) (*Loader, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Loader{db: db, defaults: defaults, logg: logg}, nil
}

// Load returns a fresh snapshot. Unparseable values fall back to defaults.
func (l *Loader) Load(ctx context.Context) (Snapshot, error) {
	var rows []models.Setting
	err := l.db.WithContext(ctx).
		Where("key IN ?", []string{KeyPurchasesEnabled, KeyChannelGateEnabled, KeyMaxQuantity}).
		Find(&rows).Error
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settings: %w", err)
	}

	snap := l.defaults
	for _, row := range rows {
		value := strings.TrimSpace(row.Value)
		switch row.Key {
		case KeyPurchasesEnabled:
			if parsed, err := strconv.ParseBool(value); err == nil {
				snap.PurchasesEnabled = parsed
			} else {
				l.warnInvalid(ctx, row)
			}
		case KeyChannelGateEnabled:
			if parsed, err := strconv.ParseBool(value); err == nil {
				snap.ChannelGateEnabled = parsed
			} else {
				l.warnInvalid(ctx, row)
			}
		case KeyMaxQuantity:
			if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
				snap.MaxQuantity = parsed
			} else {
				l.warnInvalid(ctx, row)
			}
		}
	}
	return snap, nil
}

// Set writes one setting.
func (l *Loader) Set(ctx context.Context, key, value string) error {
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&models.Setting{Key: key, Value: value}).Error
}

func (l *Loader) warnInvalid(ctx context.Context, row models.Setting) {
	logCtx := l.logg.WithFields(ctx, map[string]any{"setting_key": row.Key, "setting_value": row.Value})
	l.logg.Warn(logCtx, "ignoring invalid setting value")
}
