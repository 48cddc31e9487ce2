package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
)

// Service owns every write to a user's balance.
type Service interface {
	Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (int64, error)
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEvent, error)
	BalanceAfterPurchase(ctx context.Context, purchaseID uuid.UUID) (int64, error)
}

type service struct {
	repo Repository
}

// DebitInput describes a purchase charge.
type DebitInput struct {
	UserID      uuid.UUID
	PurchaseID  uuid.UUID
	AmountCents int64
}

// BalanceShortfall is attached to INSUFFICIENT_BALANCE errors.
type BalanceShortfall struct {
	CanPurchase     bool  `json:"can_purchase"`
	CurrentBalance  int64 `json:"current_balance"`
	RequiredBalance int64 `json:"required_balance"`
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	UserID            uuid.UUID             `json:"user_id"`
	PurchaseID        *uuid.UUID            `json:"purchase_id,omitempty"`
	Type              enums.LedgerEventType `json:"type"`
	AmountCents       int64                 `json:"amount_cents"`
	BalanceAfterCents int64                 `json:"balance_after_cents"`
	Metadata          json.RawMessage       `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// Debit subtracts the amount in the caller's transaction and returns the new
// balance. The balance is never allowed below zero.
func (s *service) Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (int64, error) {
	if input.UserID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.AmountCents <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}
	repo := s.repo.WithTx(tx)

	ok, err := repo.DecrementBalance(ctx, input.UserID, input.AmountCents)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debit balance")
	}

	balance, err := repo.Balance(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read balance")
	}
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "balance does not cover the purchase").
			WithDetails(BalanceShortfall{CurrentBalance: balance, RequiredBalance: input.AmountCents})
	}

	var purchaseID *uuid.UUID
	if input.PurchaseID != uuid.Nil {
		id := input.PurchaseID
		purchaseID = &id
	}
	if _, err := s.RecordEvent(ctx, tx, RecordLedgerEventInput{
		UserID:            input.UserID,
		PurchaseID:        purchaseID,
		Type:              enums.LedgerEventTypePurchaseDebit,
		AmountCents:       -input.AmountCents,
		BalanceAfterCents: balance,
	}); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.AmountCents == 0 {
		return nil, fmt.Errorf("amount is required")
	}

	event := &models.LedgerEvent{
		UserID:            input.UserID,
		PurchaseID:        input.PurchaseID,
		Type:              input.Type,
		AmountCents:       input.AmountCents,
		BalanceAfterCents: input.BalanceAfterCents,
		Metadata:          input.Metadata,
	}
	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEvent, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.ListByUserID(ctx, userID, limit)
}

// BalanceAfterPurchase returns the balance recorded right after the purchase
// was charged.
func (s *service) BalanceAfterPurchase(ctx context.Context, purchaseID uuid.UUID) (int64, error) {
	event, err := s.repo.FindByPurchase(ctx, purchaseID, enums.LedgerEventTypePurchaseDebit)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "purchase debit not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load purchase debit")
	}
	return event.BalanceAfterCents, nil
}
