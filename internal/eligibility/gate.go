package eligibility

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/shopbot-backend/internal/settings"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/metrics"
	"github.com/angelmondragon/shopbot-backend/pkg/resilience"
)

// MembershipChecker asks the messaging platform for a user's status in a chat.
type MembershipChecker interface {
	ChatMemberStatus(ctx context.Context, chatID, userID int64) (enums.MemberStatus, error)
}

// ChannelStore is the gate's view of the required-channel tables.
type ChannelStore interface {
	ListActive(ctx context.Context) ([]models.RequiredChannel, error)
	UpsertSubscription(ctx context.Context, sub models.UserChannelSubscription) error
}

// MissingChannel is the public shape of a channel the buyer must join.
type MissingChannel struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Handle    *string `json:"handle,omitempty"`
	InviteURL *string `json:"invite_url,omitempty"`
}

// Result lists the active channels the user is not a member of, in listing
// order. An empty list means eligible.
type Result struct {
	Checked int
	Missing []MissingChannel
}

func (r Result) Eligible() bool {
	return len(r.Missing) == 0
}

// NotSubscribedDetails is attached to NOT_SUBSCRIBED errors.
type NotSubscribedDetails struct {
	CanPurchase      bool             `json:"can_purchase"`
	RequiredChannels []MissingChannel `json:"required_channels"`
}

type GateParams struct {
	Channels    ChannelStore
	Checker     MembershipChecker
	Policy      resilience.Policy
	Concurrency int
	Metrics     *metrics.PurchaseMetrics
	Logger      *logger.Logger
}

// Gate decides whether a buyer satisfies every mandatory channel membership.
// Lookup failures count as not subscribed.
type Gate struct {
	channels    ChannelStore
	checker     MembershipChecker
	policy      resilience.Policy
	concurrency int
	metrics     *metrics.PurchaseMetrics
	logg        *logger.Logger
	now         func() time.Time
}

func NewGate(params GateParams) (*Gate, error) {
	if params.Channels == nil {
		return nil, fmt.Errorf("channel store required")
	}
	if params.Checker == nil {
		return nil, fmt.Errorf("membership checker required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Gate{
		channels:    params.Channels,
		checker:     params.Checker,
		policy:      params.Policy,
		concurrency: concurrency,
		metrics:     params.Metrics,
		logg:        params.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Check evaluates the gate for the user under the given settings snapshot.
func (g *Gate) Check(ctx context.Context, snap settings.Snapshot, user *models.User) (Result, error) {
	if !snap.ChannelGateEnabled {
		return Result{}, nil
	}
	if user == nil || user.TelegramID == nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeUnresolvableIdentity, "user has no messaging identity").
			WithDetails(map[string]any{"can_purchase": false})
	}

	channels, err := g.channels.ListActive(ctx)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list required channels")
	}
	if len(channels) == 0 {
		return Result{}, nil
	}

	telegramID := *user.TelegramID
	satisfied := make([]bool, len(channels))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)
	for i, channel := range channels {
		group.Go(func() error {
			status, err := resilience.Retry(gctx, g.policy, func(actx context.Context) (enums.MemberStatus, error) {
				return g.checker.ChatMemberStatus(actx, channel.ChatID, telegramID)
			})
			if err != nil {
				g.metrics.IncGateCheck("error")
				logCtx := g.logg.WithFields(gctx, map[string]any{
					"user_id":    user.ID.String(),
					"channel_id": channel.ID.String(),
					"chat_id":    channel.ChatID,
				})
				g.logg.Warn(logCtx, fmt.Sprintf("membership check failed, treating as not subscribed: %v", err))
				status = enums.MemberStatusUnknown
			} else if status.Satisfies() {
				g.metrics.IncGateCheck("member")
			} else {
				g.metrics.IncGateCheck("not_member")
			}
			satisfied[i] = status.Satisfies()
			g.remember(gctx, user, channel, status)
			return nil
		})
	}
	_ = group.Wait()

	result := Result{Checked: len(channels)}
	for i, channel := range channels {
		if satisfied[i] {
			continue
		}
		result.Missing = append(result.Missing, MissingChannel{
			ID:        channel.ID.String(),
			Name:      channel.Name,
			Handle:    channel.Handle,
			InviteURL: channel.InviteURL,
		})
	}
	return result, nil
}

// NotSubscribedError builds the error returned when the gate denies a buyer.
func NotSubscribedError(missing []MissingChannel) error {
	return pkgerrors.New(pkgerrors.CodeNotSubscribed, "subscribe to the required channels to purchase").
		WithDetails(NotSubscribedDetails{RequiredChannels: missing})
}

func (g *Gate) remember(ctx context.Context, user *models.User, channel models.RequiredChannel, status enums.MemberStatus) {
	err := g.channels.UpsertSubscription(ctx, models.UserChannelSubscription{
		UserID:    user.ID,
		ChannelID: channel.ID,
		IsMember:  status.Satisfies(),
		Status:    string(status),
		CheckedAt: g.now(),
	})
	if err != nil {
		logCtx := g.logg.WithFields(ctx, map[string]any{
			"user_id":    user.ID.String(),
			"channel_id": channel.ID.String(),
		})
		g.logg.Error(logCtx, "cache channel subscription", err)
	}
}
