package cron

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopbot-backend/pkg/db"
	"github.com/angelmondragon/shopbot-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/outbox"
)

type pruneCall struct {
	cutoff      time.Time
	minAttempts int
}

type fakePruner struct {
	events []pruneCall
	dlq    []time.Time
	err    error
}

func (f *fakePruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttempts int) (int64, error) {
	f.events = append(f.events, pruneCall{cutoff: cutoff, minAttempts: minAttempts})
	return 3, f.err
}

func (f *fakePruner) DeleteFailedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.dlq = append(f.dlq, cutoff)
	return 1, nil
}

type inlineTx struct{}

func (inlineTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func newRetentionJob(t *testing.T, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	if params.DB == nil {
		params.DB = inlineTx{}
	}
	job, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	return job.(*outboxRetentionJob)
}

func TestOutboxRetentionJobUsesDefaults(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: pruner, DLQ: pruner})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pruner.events) != 1 {
		t.Fatalf("expected one event prune, got %d", len(pruner.events))
	}
	if want := now.Add(-defaultOutboxRetention); !pruner.events[0].cutoff.Equal(want) {
		t.Fatalf("event cutoff %s, want %s", pruner.events[0].cutoff, want)
	}
	if pruner.events[0].minAttempts != defaultMinAttempts {
		t.Fatalf("min attempts %d, want %d", pruner.events[0].minAttempts, defaultMinAttempts)
	}
	if len(pruner.dlq) != 1 || !pruner.dlq[0].Equal(now.Add(-defaultDLQRetention)) {
		t.Fatalf("unexpected dlq cutoffs %v", pruner.dlq)
	}
}

func TestOutboxRetentionJobWithoutDLQ(t *testing.T) {
	pruner := &fakePruner{}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: pruner, Retention: time.Hour, MinAttempts: 10})

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pruner.dlq) != 0 {
		t.Fatalf("dlq pruned without a repository")
	}
	if pruner.events[0].minAttempts != 10 {
		t.Fatalf("expected configured min attempts, got %d", pruner.events[0].minAttempts)
	}
}

func TestOutboxRetentionJobStopsOnEventError(t *testing.T) {
	pruner := &fakePruner{err: errors.New("boom")}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: pruner, DLQ: pruner})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(pruner.dlq) != 0 {
		t.Fatalf("dlq pruned after event prune failed")
	}
}

func TestOutboxRetentionJobAgainstRepositories(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Now().UTC()
	old := now.Add(-40 * 24 * time.Hour)
	published := old.Add(time.Hour)

	events := []models.OutboxEvent{
		{EventType: enums.EventPurchaseCompleted, AggregateType: enums.AggregatePurchase, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, PublishedAt: &published, AttemptCount: 1},
		{EventType: enums.EventPurchaseCompleted, AggregateType: enums.AggregatePurchase, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, AttemptCount: 6},
		{EventType: enums.EventPurchaseDelivered, AggregateType: enums.AggregatePurchase, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, AttemptCount: 1},
		{EventType: enums.EventPurchaseDelivered, AggregateType: enums.AggregatePurchase, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: now},
	}
	for i := range events {
		if err := conn.Create(&events[i]).Error; err != nil {
			t.Fatalf("seed outbox: %v", err)
		}
	}
	dlq := outbox.NewDLQRepository(conn)
	for _, failedAt := range []time.Time{now.Add(-100 * 24 * time.Hour), now.Add(-time.Hour)} {
		entry := models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     enums.EventPurchaseDeliveryFailed,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			FailedAt:      failedAt,
		}
		if err := dlq.InsertTx(conn, entry); err != nil {
			t.Fatalf("seed dlq: %v", err)
		}
	}

	job := newRetentionJob(t, OutboxRetentionJobParams{
		DB:         db.NewFromConn(conn),
		Repository: outbox.NewRepository(conn),
		DLQ:        dlq,
	})
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var remaining, deadLetters int64
	if err := conn.Model(&models.OutboxEvent{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected 2 events to survive retention, got %d", remaining)
	}
	if err := conn.Model(&models.OutboxDLQ{}).Count(&deadLetters).Error; err != nil {
		t.Fatalf("count dlq: %v", err)
	}
	if deadLetters != 1 {
		t.Fatalf("expected 1 dead letter to survive retention, got %d", deadLetters)
	}
}
