package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopbot-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
)

type fakeRepository struct {
	createFn func(ctx context.Context, event *models.LedgerEvent) error
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, event *models.LedgerEvent) error {
	if f.createFn != nil {
		return f.createFn(ctx, event)
	}
	return nil
}

func (f *fakeRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEvent, error) {
	return nil, nil
}

func (f *fakeRepository) FindByPurchase(ctx context.Context, purchaseID uuid.UUID, eventType enums.LedgerEventType) (*models.LedgerEvent, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) DecrementBalance(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error) {
	return true, nil
}

func (f *fakeRepository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return 0, nil
}

func newUser(t *testing.T, conn *gorm.DB, balance int64) models.User {
	t.Helper()
	user := models.User{BalanceCents: balance}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func balanceOf(t *testing.T, conn *gorm.DB, id uuid.UUID) int64 {
	t.Helper()
	var user models.User
	if err := conn.First(&user, "id = ?", id).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	return user.BalanceCents
}

func TestService_DebitAppliesAndRecordsEvent(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	user := newUser(t, conn, 500)
	purchaseID := uuid.New()

	var after int64
	err = conn.Transaction(func(tx *gorm.DB) error {
		var derr error
		after, derr = svc.Debit(context.Background(), tx, DebitInput{UserID: user.ID, PurchaseID: purchaseID, AmountCents: 200})
		return derr
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if after != 300 || balanceOf(t, conn, user.ID) != 300 {
		t.Fatalf("expected balance 300, got %d", after)
	}

	events, err := svc.ListByUser(context.Background(), user.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one ledger event, got %d", len(events))
	}
	event := events[0]
	if event.Type != enums.LedgerEventTypePurchaseDebit || event.AmountCents != -200 || event.BalanceAfterCents != 300 {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.PurchaseID == nil || *event.PurchaseID != purchaseID {
		t.Fatalf("expected purchase id on event")
	}
}

func TestService_DebitInsufficientBalance(t *testing.T) {
	conn := dbtest.Open(t)
	svc, _ := NewService(NewRepository(conn))
	user := newUser(t, conn, 50)

	err := conn.Transaction(func(tx *gorm.DB) error {
		_, derr := svc.Debit(context.Background(), tx, DebitInput{UserID: user.ID, AmountCents: 60})
		return derr
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	shortfall, ok := typed.Details().(BalanceShortfall)
	if !ok {
		t.Fatalf("expected shortfall details, got %T", typed.Details())
	}
	if shortfall.CurrentBalance != 50 || shortfall.RequiredBalance != 60 || shortfall.CanPurchase {
		t.Fatalf("unexpected shortfall %+v", shortfall)
	}
	if balanceOf(t, conn, user.ID) != 50 {
		t.Fatalf("balance must be unchanged")
	}
}

func TestService_DebitExactBalanceReachesZero(t *testing.T) {
	conn := dbtest.Open(t)
	svc, _ := NewService(NewRepository(conn))
	user := newUser(t, conn, 60)

	after, err := svc.Debit(context.Background(), conn, DebitInput{UserID: user.ID, AmountCents: 60})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if after != 0 {
		t.Fatalf("expected zero balance, got %d", after)
	}
}

func TestService_DebitUnknownUser(t *testing.T) {
	conn := dbtest.Open(t)
	svc, _ := NewService(NewRepository(conn))
	_, err := svc.Debit(context.Background(), conn, DebitInput{UserID: uuid.New(), AmountCents: 10})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_DebitValidation(t *testing.T) {
	svc, _ := NewService(&fakeRepository{})
	tests := []struct {
		name  string
		input DebitInput
	}{
		{name: "missing user", input: DebitInput{AmountCents: 10}},
		{name: "zero amount", input: DebitInput{UserID: uuid.New()}},
		{name: "negative amount", input: DebitInput{UserID: uuid.New(), AmountCents: -5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Debit(context.Background(), nil, tc.input); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_RecordEvent(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	metadata := json.RawMessage(`{"note":"manual correction"}`)
	input := RecordLedgerEventInput{
		UserID:            uuid.New(),
		Type:              enums.LedgerEventTypeAdjustment,
		AmountCents:       425,
		BalanceAfterCents: 1425,
		Metadata:          metadata,
	}

	var created *models.LedgerEvent
	repo.createFn = func(ctx context.Context, event *models.LedgerEvent) error {
		created = event
		return nil
	}

	got, err := svc.RecordEvent(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("RecordEvent error: %v", err)
	}
	if created == nil || got != created {
		t.Fatal("expected ledger event to be created and returned")
	}
	if created.UserID != input.UserID || created.Type != input.Type || created.AmountCents != input.AmountCents {
		t.Fatalf("unexpected ledger event data: %v", created)
	}
	if string(created.Metadata) != string(metadata) {
		t.Fatalf("metadata mismatch: %s", created.Metadata)
	}
}

func TestService_RecordEventValidation(t *testing.T) {
	svc, _ := NewService(&fakeRepository{})
	tests := []struct {
		name  string
		input RecordLedgerEventInput
	}{
		{name: "missing user", input: RecordLedgerEventInput{Type: enums.LedgerEventTypeDeposit, AmountCents: 1}},
		{name: "invalid type", input: RecordLedgerEventInput{UserID: uuid.New(), Type: enums.LedgerEventType("not_real"), AmountCents: 1}},
		{name: "zero amount", input: RecordLedgerEventInput{UserID: uuid.New(), Type: enums.LedgerEventTypeDeposit}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.RecordEvent(context.Background(), nil, tc.input); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestService_RecordEventRepoError(t *testing.T) {
	repo := &fakeRepository{}
	svc, _ := NewService(repo)

	expectedErr := errors.New("boom")
	repo.createFn = func(ctx context.Context, event *models.LedgerEvent) error {
		return expectedErr
	}

	if _, err := svc.RecordEvent(context.Background(), nil, RecordLedgerEventInput{
		UserID:      uuid.New(),
		Type:        enums.LedgerEventTypeDeposit,
		AmountCents: 100,
	}); !errors.Is(err, expectedErr) {
		t.Fatalf("expected repo error to bubble up, got %v", err)
	}
}

func TestService_BalanceAfterPurchase(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	user := newUser(t, conn, 1000)
	first, second := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{first, second} {
		if _, err := svc.Debit(context.Background(), conn, DebitInput{UserID: user.ID, PurchaseID: id, AmountCents: 300}); err != nil {
			t.Fatalf("debit: %v", err)
		}
	}

	got, err := svc.BalanceAfterPurchase(context.Background(), first)
	if err != nil {
		t.Fatalf("balance after purchase: %v", err)
	}
	if got != 700 {
		t.Fatalf("expected 700 after first purchase, got %d", got)
	}

	if _, err := svc.BalanceAfterPurchase(context.Background(), uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown purchase, got %v", err)
	}
}
