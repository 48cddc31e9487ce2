package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopbot-backend/internal/eligibility"
	"github.com/angelmondragon/shopbot-backend/internal/inventory"
	"github.com/angelmondragon/shopbot-backend/internal/ledger"
	"github.com/angelmondragon/shopbot-backend/internal/settings"
	"github.com/angelmondragon/shopbot-backend/pkg/db"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/metrics"
	"github.com/angelmondragon/shopbot-backend/pkg/money"
	"github.com/angelmondragon/shopbot-backend/pkg/outbox"
	"github.com/angelmondragon/shopbot-backend/pkg/outbox/payloads"
)

const (
	maxAllocationAttempts = 3
	maxIdempotencyKeyLen  = 255
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type positionLoader interface {
	FindVisible(ctx context.Context, id uuid.UUID) (*models.Position, error)
	FindVisibleTx(tx *gorm.DB, id uuid.UUID) (*models.Position, error)
}

type gateChecker interface {
	Check(ctx context.Context, snap settings.Snapshot, user *models.User) (eligibility.Result, error)
}

type itemAllocator interface {
	Allocate(ctx context.Context, tx *gorm.DB, positionID, buyerID uuid.UUID, qty int) ([]models.Item, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// DeliveryQueue starts delivery after commit. Enqueue must not block.
type DeliveryQueue interface {
	Enqueue(purchaseID uuid.UUID) bool
}

// Service runs the purchase state machine: gate, then one transaction that
// allocates, debits and records, then out-of-band delivery.
type Service interface {
	Purchase(ctx context.Context, snap settings.Snapshot, input PurchaseInput) (*PurchaseResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
}

// PurchaseInput is a buy request. Price never comes from the caller.
type PurchaseInput struct {
	UserID         uuid.UUID
	PositionID     uuid.UUID
	Quantity       int
	IdempotencyKey string
}

// PurchaseResult is returned for committed and replayed purchases.
type PurchaseResult struct {
	Purchase              *models.Purchase
	RemainingBalanceCents int64
	Replayed              bool
}

type ServiceParams struct {
	Tx        txRunner
	Users     userLoader
	Positions positionLoader
	Gate      gateChecker
	Allocator itemAllocator
	Ledger    ledger.Service
	Purchases Repository
	Outbox    outboxPublisher
	Delivery  DeliveryQueue
	Metrics   *metrics.PurchaseMetrics
	Logger    *logger.Logger
}

type service struct {
	tx        txRunner
	users     userLoader
	positions positionLoader
	gate      gateChecker
	allocator itemAllocator
	ledger    ledger.Service
	purchases Repository
	outbox    outboxPublisher
	delivery  DeliveryQueue
	metrics   *metrics.PurchaseMetrics
	logg      *logger.Logger
}

// NewService builds the purchase service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user loader required")
	}
	if params.Positions == nil {
		return nil, fmt.Errorf("position loader required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("eligibility gate required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Purchases == nil {
		return nil, fmt.Errorf("purchase repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:        params.Tx,
		users:     params.Users,
		positions: params.Positions,
		gate:      params.Gate,
		allocator: params.Allocator,
		ledger:    params.Ledger,
		purchases: params.Purchases,
		outbox:    params.Outbox,
		delivery:  params.Delivery,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

func (s *service) Purchase(ctx context.Context, snap settings.Snapshot, input PurchaseInput) (result *PurchaseResult, err error) {
	started := time.Now()
	defer func() {
		s.metrics.ObservePurchase(outcomeLabel(result, err), time.Since(started))
	}()

	if !snap.PurchasesEnabled {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "purchases are disabled")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id is required")
	}
	if input.PositionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "position_id is required")
	}
	if input.Quantity < 1 || input.Quantity > snap.MaxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity out of range").
			WithDetails(map[string]any{"min_quantity": 1, "max_quantity": snap.MaxQuantity})
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key too long")
	}

	ctx = s.logg.WithUserID(ctx, input.UserID.String())
	ctx = s.logg.WithPositionID(ctx, input.PositionID.String())

	if key != "" {
		existing, err := s.purchases.FindByIdempotencyKey(ctx, input.UserID, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.replay(ctx, existing, input)
		}
	}

	user, err := s.users.FindByID(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := s.positions.FindVisible(ctx, input.PositionID); err != nil {
		return nil, err
	}

	gate, err := s.gate.Check(ctx, snap, user)
	if err != nil {
		return nil, err
	}
	if !gate.Eligible() {
		return nil, eligibility.NotSubscribedError(gate.Missing)
	}

	var (
		purchase *models.Purchase
		balance  int64
	)
	for attempt := 1; ; attempt++ {
		purchase, balance, err = s.commit(ctx, input, key)
		if !errors.Is(err, inventory.ErrAllocationConflict) || attempt >= maxAllocationAttempts {
			break
		}
		s.logg.Warn(ctx, fmt.Sprintf("allocation conflict, retrying transaction (attempt %d)", attempt))
	}
	if err != nil {
		if errors.Is(err, inventory.ErrAllocationConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "stock changed concurrently, try again")
		}
		if key != "" && db.IsUniqueViolation(err, IdempotencyConstraint) {
			existing, ferr := s.purchases.FindByIdempotencyKey(ctx, input.UserID, key)
			if ferr == nil && existing != nil {
				return s.replay(ctx, existing, input)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "purchase already in progress")
		}
		return nil, err
	}

	ctx = s.logg.WithPurchaseID(ctx, purchase.ID.String())
	s.logg.Info(ctx, "purchase committed")

	if s.delivery != nil && !s.delivery.Enqueue(purchase.ID) {
		s.logg.Warn(ctx, "delivery queue saturated, purchase left pending for the sweeper")
	}

	return &PurchaseResult{Purchase: purchase, RemainingBalanceCents: balance}, nil
}

// commit runs allocation, debit, recording and the outbox write as one
// transaction.
func (s *service) commit(ctx context.Context, input PurchaseInput, key string) (*models.Purchase, int64, error) {
	var (
		purchase *models.Purchase
		balance  int64
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		position, err := s.positions.FindVisibleTx(tx.WithContext(ctx), input.PositionID)
		if err != nil {
			return err
		}
		total, ok := money.MultiplyCents(position.PriceCents, input.Quantity)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeValidation, "total price overflows")
		}

		items, err := s.allocator.Allocate(ctx, tx, position.ID, input.UserID, input.Quantity)
		if err != nil {
			return err
		}

		purchaseID := uuid.New()
		balance, err = s.ledger.Debit(ctx, tx, ledger.DebitInput{
			UserID:      input.UserID,
			PurchaseID:  purchaseID,
			AmountCents: total,
		})
		if err != nil {
			return err
		}

		itemIDs := make([]uuid.UUID, len(items))
		for i, item := range items {
			itemIDs[i] = item.ID
		}
		record := &models.Purchase{
			ID:              purchaseID,
			UserID:          input.UserID,
			PositionID:      position.ID,
			Quantity:        input.Quantity,
			UnitPriceCents:  position.PriceCents,
			TotalPriceCents: total,
			DeliveryStatus:  enums.DeliveryStatusPending,
		}
		if key != "" {
			k := key
			record.IdempotencyKey = &k
		}
		if err := s.purchases.WithTx(tx).Create(ctx, record, itemIDs); err != nil {
			return err
		}
		record.Items = items

		userID := input.UserID
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPurchaseCompleted,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   record.ID,
			Actor:         &outbox.ActorRef{UserID: &userID, Source: "purchase_api"},
			Data: payloads.PurchaseCompletedEvent{
				PurchaseID:      record.ID,
				UserID:          record.UserID,
				PositionID:      record.PositionID,
				Quantity:        record.Quantity,
				UnitPriceCents:  record.UnitPriceCents,
				TotalPriceCents: record.TotalPriceCents,
				ItemIDs:         itemIDs,
				BalanceAfter:    balance,
			},
		}); err != nil {
			return err
		}
		purchase = record
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return purchase, balance, nil
}

// replay answers a retried request with the purchase it already produced.
// The same key with a different request body is rejected.
func (s *service) replay(ctx context.Context, existing *models.Purchase, input PurchaseInput) (*PurchaseResult, error) {
	if existing.PositionID != input.PositionID || existing.Quantity != input.Quantity {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different purchase").
			WithDetails(map[string]any{"purchase_id": existing.ID.String()})
	}
	balance, err := s.ledger.BalanceAfterPurchase(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithPurchaseID(ctx, existing.ID.String()), "purchase replayed for idempotency key")
	return &PurchaseResult{Purchase: existing, RemainingBalanceCents: balance, Replayed: true}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id is required")
	}
	return s.purchases.FindByID(ctx, id)
}

func outcomeLabel(result *PurchaseResult, err error) string {
	if err != nil {
		// Label cardinality stays bounded: only business rejections get their own series.
		if typed := pkgerrors.As(err); typed != nil && pkgerrors.PurchaseRejection(typed.Code()) {
			return strings.ToLower(string(typed.Code()))
		}
		return "error"
	}
	if result != nil && result.Replayed {
		return "replayed"
	}
	return "committed"
}
