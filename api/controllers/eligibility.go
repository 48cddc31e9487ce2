package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopbot-backend/api/responses"
	"github.com/angelmondragon/shopbot-backend/api/validators"
	"github.com/angelmondragon/shopbot-backend/internal/eligibility"
	"github.com/angelmondragon/shopbot-backend/internal/settings"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
)

type UserFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type EligibilityChecker interface {
	Check(ctx context.Context, snap settings.Snapshot, user *models.User) (eligibility.Result, error)
}

type eligibilityResponse struct {
	UserID           uuid.UUID                    `json:"user_id"`
	CanPurchase      bool                         `json:"can_purchase"`
	CheckedChannels  int                          `json:"checked_channels"`
	RequiredChannels []eligibility.MissingChannel `json:"required_channels"`
}

// UserEligibility reports which mandatory channels a user still has to join,
// so the bot can prompt before a purchase is attempted.
func UserEligibility(users UserFinder, gate EligibilityChecker, source SettingsSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if users == nil || gate == nil || source == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "eligibility check unavailable"))
			return
		}
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithUserID(ctx, userID.String())
		}

		user, err := users.FindByID(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		snap, err := source.Load(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settings"))
			return
		}
		result, err := gate.Check(ctx, snap, user)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		missing := result.Missing
		if missing == nil {
			missing = []eligibility.MissingChannel{}
		}
		responses.WriteSuccess(w, eligibilityResponse{
			UserID:           user.ID,
			CanPurchase:      result.Eligible(),
			CheckedChannels:  result.Checked,
			RequiredChannels: missing,
		})
	}
}
