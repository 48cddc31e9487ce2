package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopbot-backend/internal/delivery"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
)

const (
	defaultSweepBatch       = 50
	defaultSweepMaxAttempts = 5
	defaultPendingGrace     = 5 * time.Minute
)

type deliveryCandidateLister interface {
	ListDeliveryCandidates(ctx context.Context, maxAttempts int, pendingBefore time.Time, limit int) ([]models.Purchase, error)
}

type purchaseDeliverer interface {
	Deliver(ctx context.Context, purchaseID uuid.UUID, opts delivery.DeliverOptions) (*models.Purchase, error)
}

type DeliverySweeperJobParams struct {
	Logger       *logger.Logger
	Purchases    deliveryCandidateLister
	Dispatcher   purchaseDeliverer
	MaxAttempts  int
	PendingGrace time.Duration
	BatchSize    int
}

// NewDeliverySweeperJob retries failed deliveries that still have attempts
// left and picks up pending purchases the background dispatcher never reached.
func NewDeliverySweeperJob(params DeliverySweeperJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Purchases == nil {
		return nil, fmt.Errorf("purchase repository required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("delivery dispatcher required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultSweepMaxAttempts
	}
	grace := params.PendingGrace
	if grace <= 0 {
		grace = defaultPendingGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &deliverySweeperJob{
		logg:        params.Logger,
		purchases:   params.Purchases,
		dispatcher:  params.Dispatcher,
		maxAttempts: maxAttempts,
		grace:       grace,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type deliverySweeperJob struct {
	logg        *logger.Logger
	purchases   deliveryCandidateLister
	dispatcher  purchaseDeliverer
	maxAttempts int
	grace       time.Duration
	batch       int
	now         func() time.Time
}

func (j *deliverySweeperJob) Name() string { return "delivery-sweeper" }

func (j *deliverySweeperJob) Run(ctx context.Context) error {
	pendingBefore := j.now().UTC().Add(-j.grace)
	candidates, err := j.purchases.ListDeliveryCandidates(ctx, j.maxAttempts, pendingBefore, j.batch)
	if err != nil {
		return fmt.Errorf("list delivery candidates: %w", err)
	}

	var delivered, failed int
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := j.dispatcher.Deliver(ctx, candidate.ID, delivery.DeliverOptions{}); err != nil {
			failed++
			continue
		}
		delivered++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"delivered":  delivered,
		"failed":     failed,
	})
	j.logg.Info(logCtx, "delivery sweep complete")
	return nil
}
