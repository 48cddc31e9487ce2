package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopbot-backend/internal/purchases"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/metrics"
	"github.com/angelmondragon/shopbot-backend/pkg/outbox"
	"github.com/angelmondragon/shopbot-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopbot-backend/pkg/resilience"
)

// MessageSender pushes text to a platform chat.
type MessageSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type positionLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Position, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// DeliverOptions tunes a single delivery call.
type DeliverOptions struct {
	// Force resends content even when the purchase is already delivered.
	Force bool
}

type DispatcherParams struct {
	Tx        txRunner
	Purchases purchases.Repository
	Users     userLoader
	Positions positionLoader
	Sender    MessageSender
	Outbox    outboxPublisher
	Policy    resilience.Policy
	Metrics   *metrics.PurchaseMetrics
	Logger    *logger.Logger
}

// Dispatcher delivers purchased content after the purchase committed. It
// never touches balances or item ownership.
type Dispatcher struct {
	tx        txRunner
	purchases purchases.Repository
	users     userLoader
	positions positionLoader
	sender    MessageSender
	outbox    outboxPublisher
	policy    resilience.Policy
	metrics   *metrics.PurchaseMetrics
	logg      *logger.Logger
	now       func() time.Time
	inflight  singleflight.Group
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Purchases == nil {
		return nil, fmt.Errorf("purchase repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user loader required")
	}
	if params.Positions == nil {
		return nil, fmt.Errorf("position loader required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("message sender required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Dispatcher{
		tx:        params.Tx,
		purchases: params.Purchases,
		users:     params.Users,
		positions: params.Positions,
		sender:    params.Sender,
		outbox:    params.Outbox,
		policy:    params.Policy,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Deliver sends the purchase content to the buyer and records the outcome.
// Concurrent calls for the same purchase in this process share one attempt.
func (d *Dispatcher) Deliver(ctx context.Context, purchaseID uuid.UUID, opts DeliverOptions) (*models.Purchase, error) {
	if purchaseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id is required")
	}
	key := purchaseID.String()
	if opts.Force {
		key += ":force"
	}
	v, err, _ := d.inflight.Do(key, func() (any, error) {
		return d.deliver(ctx, purchaseID, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Purchase), nil
}

func (d *Dispatcher) deliver(ctx context.Context, purchaseID uuid.UUID, opts DeliverOptions) (*models.Purchase, error) {
	ctx = d.logg.WithPurchaseID(ctx, purchaseID.String())

	purchase, err := d.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.DeliveryStatus == enums.DeliveryStatusDelivered && !opts.Force {
		return purchase, nil
	}

	user, err := d.users.FindByID(ctx, purchase.UserID)
	if err != nil {
		return nil, err
	}
	ctx = d.logg.WithUserID(ctx, user.ID.String())
	if user.TelegramID == nil {
		reason := "buyer has no messaging identity"
		if ferr := d.recordFailure(ctx, purchase, reason, false); ferr != nil {
			return nil, ferr
		}
		return nil, pkgerrors.New(pkgerrors.CodeUnresolvableIdentity, reason).
			WithDetails(map[string]any{"purchase_id": purchase.ID.String()})
	}

	positionName := ""
	if position, perr := d.positions.FindByID(ctx, purchase.PositionID); perr == nil {
		positionName = position.Name
	} else {
		d.logg.Warn(ctx, fmt.Sprintf("position lookup failed, using generic title: %v", perr))
	}
	text := BuildMessage(positionName, purchase)

	chatID := *user.TelegramID
	_, sendErr := resilience.Retry(ctx, d.policy, func(actx context.Context) (struct{}, error) {
		return struct{}{}, d.sender.SendText(actx, chatID, text)
	})
	if sendErr != nil {
		d.logg.Error(ctx, "purchase delivery failed", sendErr)
		if ferr := d.recordFailure(ctx, purchase, sendErr.Error(), isRetryable(sendErr)); ferr != nil {
			return nil, ferr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, sendErr, "delivery failed, the purchase stays committed and can be redelivered").
			WithDetails(map[string]any{
				"purchase_id":     purchase.ID.String(),
				"delivery_status": enums.DeliveryStatusFailed,
			})
	}

	deliveredAt := d.now()
	// The message is out; record it even if the caller gave up meanwhile.
	wctx := context.WithoutCancel(ctx)
	err = d.tx.WithTx(wctx, func(tx *gorm.DB) error {
		if err := d.purchases.WithTx(tx).MarkDelivered(wctx, purchase.ID, deliveredAt); err != nil {
			return err
		}
		return d.outbox.Emit(wctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPurchaseDelivered,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   purchase.ID,
			Actor:         &outbox.ActorRef{Source: "delivery_dispatcher"},
			Data: payloads.PurchaseDeliveredEvent{
				PurchaseID:  purchase.ID,
				UserID:      purchase.UserID,
				Attempts:    purchase.DeliveryAttempts + 1,
				DeliveredAt: deliveredAt,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record delivery")
	}
	d.metrics.IncDelivery("delivered")
	d.logg.Info(ctx, "purchase delivered")
	return d.purchases.FindByID(wctx, purchase.ID)
}

func (d *Dispatcher) recordFailure(ctx context.Context, purchase *models.Purchase, reason string, retryable bool) error {
	d.metrics.IncDelivery("failed")
	wctx := context.WithoutCancel(ctx)
	err := d.tx.WithTx(wctx, func(tx *gorm.DB) error {
		if err := d.purchases.WithTx(tx).MarkDeliveryFailed(wctx, purchase.ID, reason, d.now()); err != nil {
			return err
		}
		return d.outbox.Emit(wctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPurchaseDeliveryFailed,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   purchase.ID,
			Actor:         &outbox.ActorRef{Source: "delivery_dispatcher"},
			Data: payloads.PurchaseDeliveryFailedEvent{
				PurchaseID: purchase.ID,
				UserID:     purchase.UserID,
				Attempts:   purchase.DeliveryAttempts + 1,
				Reason:     reason,
				Retryable:  retryable,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record delivery failure")
	}
	return nil
}

func isRetryable(err error) bool {
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return true
}
