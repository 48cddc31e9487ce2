package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopbot-backend/api/responses"
	"github.com/angelmondragon/shopbot-backend/api/validators"
	"github.com/angelmondragon/shopbot-backend/internal/delivery"
	"github.com/angelmondragon/shopbot-backend/internal/purchases"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/pagination"
)

type PurchaseDeliverer interface {
	Deliver(ctx context.Context, purchaseID uuid.UUID, opts delivery.DeliverOptions) (*models.Purchase, error)
}

type PurchaseLister interface {
	List(ctx context.Context, filters purchases.ListFilters, params pagination.Params) (*purchases.PurchaseList, error)
}

type purchaseListResponse struct {
	Purchases  []purchaseView `json:"purchases"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// AdminDeliverPurchase retries delivery for one purchase. Delivered purchases
// are left alone unless ?force=true.
func AdminDeliverPurchase(dispatcher PurchaseDeliverer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dispatcher == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery dispatcher unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		force, err := validators.ParseQueryBool(r, "force")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithPurchaseID(ctx, id.String())
			logg.Info(logg.WithField(ctx, "force", force), "admin.delivery.requested")
		}

		purchase, err := dispatcher.Deliver(ctx, id, delivery.DeliverOptions{Force: force})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPurchaseView(purchase))
	}
}

// AdminListPurchases pages through purchases, optionally filtered by
// delivery_status and user_id.
func AdminListPurchases(lister PurchaseLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lister == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase repository unavailable"))
			return
		}

		var filters purchases.ListFilters
		if raw := validators.QueryValue(r, "delivery_status"); raw != "" {
			status, err := enums.ParseDeliveryStatus(strings.ToLower(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery_status").
					WithDetails(map[string]any{"field": "delivery_status"}))
				return
			}
			filters.DeliveryStatus = &status
		}
		userID, err := validators.ParseQueryUUID(r, "user_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.UserID = userID

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := lister.List(r.Context(), filters, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := purchaseListResponse{Purchases: make([]purchaseView, 0, len(list.Purchases)), NextCursor: list.NextCursor}
		for i := range list.Purchases {
			out.Purchases = append(out.Purchases, newPurchaseView(&list.Purchases[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
