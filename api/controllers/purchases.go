package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopbot-backend/api/responses"
	"github.com/angelmondragon/shopbot-backend/api/validators"
	"github.com/angelmondragon/shopbot-backend/internal/purchases"
	"github.com/angelmondragon/shopbot-backend/internal/settings"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
)

const idempotencyHeader = "Idempotency-Key"

// SettingsSource yields the settings snapshot for one request.
type SettingsSource interface {
	Load(ctx context.Context) (settings.Snapshot, error)
}

// purchaseRequest carries no price; unknown fields are rejected by the decoder.
type purchaseRequest struct {
	UserID     string `json:"user_id" validate:"required,uuid"`
	PositionID string `json:"position_id" validate:"required,uuid"`
	Quantity   int    `json:"quantity" validate:"required,gt=0"`
}

type purchaseCreatedResponse struct {
	CanPurchase           bool                 `json:"can_purchase"`
	PurchaseID            uuid.UUID            `json:"purchase_id"`
	PositionID            uuid.UUID            `json:"position_id"`
	Quantity              int                  `json:"quantity"`
	UnitPriceCents        int64                `json:"unit_price_cents"`
	TotalPriceCents       int64                `json:"total_price_cents"`
	RemainingBalanceCents int64                `json:"remaining_balance_cents"`
	DeliveryStatus        enums.DeliveryStatus `json:"delivery_status"`
	Replayed              bool                 `json:"replayed"`
}

// purchaseView is the read model for status polling and operator tooling.
// Item contents are never echoed over HTTP.
type purchaseView struct {
	ID                    uuid.UUID            `json:"id"`
	UserID                uuid.UUID            `json:"user_id"`
	PositionID            uuid.UUID            `json:"position_id"`
	Quantity              int                  `json:"quantity"`
	UnitPriceCents        int64                `json:"unit_price_cents"`
	TotalPriceCents       int64                `json:"total_price_cents"`
	ItemIDs               []uuid.UUID          `json:"item_ids,omitempty"`
	DeliveryStatus        enums.DeliveryStatus `json:"delivery_status"`
	DeliveryAttempts      int                  `json:"delivery_attempts"`
	DeliveryError         *string              `json:"delivery_error,omitempty"`
	LastDeliveryAttemptAt *time.Time           `json:"last_delivery_attempt_at,omitempty"`
	DeliveredAt           *time.Time           `json:"delivered_at,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
}

func newPurchaseView(p *models.Purchase) purchaseView {
	view := purchaseView{
		ID:                    p.ID,
		UserID:                p.UserID,
		PositionID:            p.PositionID,
		Quantity:              p.Quantity,
		UnitPriceCents:        p.UnitPriceCents,
		TotalPriceCents:       p.TotalPriceCents,
		DeliveryStatus:        p.DeliveryStatus,
		DeliveryAttempts:      p.DeliveryAttempts,
		DeliveryError:         p.DeliveryError,
		LastDeliveryAttemptAt: p.LastDeliveryAttemptAt,
		DeliveredAt:           p.DeliveredAt,
		CreatedAt:             p.CreatedAt,
	}
	for _, item := range p.Items {
		view.ItemIDs = append(view.ItemIDs, item.ID)
	}
	return view
}

// PurchaseCreate runs a buy request end to end and answers before delivery.
func PurchaseCreate(svc purchases.Service, source SettingsSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || source == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}

		// optional; an empty key disables replay
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))

		var body purchaseRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, _ := uuid.Parse(body.UserID)
		positionID, _ := uuid.Parse(body.PositionID)

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"user_id":     userID.String(),
				"position_id": positionID.String(),
				"quantity":    body.Quantity,
			})
		}

		snap, err := source.Load(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settings"))
			return
		}

		result, err := svc.Purchase(ctx, snap, purchases.PurchaseInput{
			UserID:         userID,
			PositionID:     positionID,
			Quantity:       body.Quantity,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		p := result.Purchase
		responses.WriteSuccessStatus(w, http.StatusCreated, purchaseCreatedResponse{
			CanPurchase:           true,
			PurchaseID:            p.ID,
			PositionID:            p.PositionID,
			Quantity:              p.Quantity,
			UnitPriceCents:        p.UnitPriceCents,
			TotalPriceCents:       p.TotalPriceCents,
			RemainingBalanceCents: result.RemainingBalanceCents,
			DeliveryStatus:        p.DeliveryStatus,
			Replayed:              result.Replayed,
		})
	}
}

// PurchaseDetail returns one purchase for delivery status polling.
func PurchaseDetail(svc purchases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchase, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPurchaseView(purchase))
	}
}
