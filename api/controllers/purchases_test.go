package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopbot-backend/internal/purchases"
	"github.com/angelmondragon/shopbot-backend/internal/settings"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
)

type stubPurchaseService struct {
	input    purchases.PurchaseInput
	snap     settings.Snapshot
	calls    int
	result   *purchases.PurchaseResult
	err      error
	purchase *models.Purchase
	getErr   error
}

func (s *stubPurchaseService) Purchase(_ context.Context, snap settings.Snapshot, input purchases.PurchaseInput) (*purchases.PurchaseResult, error) {
	s.calls++
	s.snap = snap
	s.input = input
	return s.result, s.err
}

func (s *stubPurchaseService) Get(context.Context, uuid.UUID) (*models.Purchase, error) {
	return s.purchase, s.getErr
}

func purchaseBody(userID, positionID uuid.UUID, qty string) string {
	return `{"user_id":"` + userID.String() + `","position_id":"` + positionID.String() + `","quantity":` + qty + `}`
}

func TestPurchaseCreateSuccess(t *testing.T) {
	userID, positionID := uuid.New(), uuid.New()
	purchase := &models.Purchase{
		ID:              uuid.New(),
		UserID:          userID,
		PositionID:      positionID,
		Quantity:        2,
		UnitPriceCents:  500,
		TotalPriceCents: 1000,
		DeliveryStatus:  enums.DeliveryStatusPending,
	}
	svc := &stubPurchaseService{result: &purchases.PurchaseResult{Purchase: purchase, RemainingBalanceCents: 4000}}
	handler := PurchaseCreate(svc, stubSettingsSource{snap: enabledSnapshot()}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(purchaseBody(userID, positionID, "2")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.input.UserID != userID || svc.input.PositionID != positionID || svc.input.Quantity != 2 {
		t.Fatalf("unexpected service input %+v", svc.input)
	}
	if svc.input.IdempotencyKey != "key-1" {
		t.Fatalf("expected idempotency key forwarded, got %q", svc.input.IdempotencyKey)
	}
	if svc.snap != enabledSnapshot() {
		t.Fatalf("expected loaded snapshot, got %+v", svc.snap)
	}

	var resp purchaseCreatedResponse
	decodeData(t, rec, &resp)
	if !resp.CanPurchase || resp.PurchaseID != purchase.ID {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.TotalPriceCents != 1000 || resp.RemainingBalanceCents != 4000 {
		t.Fatalf("unexpected amounts %+v", resp)
	}
	if resp.DeliveryStatus != enums.DeliveryStatusPending {
		t.Fatalf("expected pending delivery, got %s", resp.DeliveryStatus)
	}
}

func TestPurchaseCreateWithoutIdempotencyKey(t *testing.T) {
	userID, positionID := uuid.New(), uuid.New()
	purchase := &models.Purchase{
		ID:              uuid.New(),
		UserID:          userID,
		PositionID:      positionID,
		Quantity:        1,
		UnitPriceCents:  500,
		TotalPriceCents: 500,
		DeliveryStatus:  enums.DeliveryStatusPending,
	}
	svc := &stubPurchaseService{result: &purchases.PurchaseResult{Purchase: purchase, RemainingBalanceCents: 500}}
	handler := PurchaseCreate(svc, stubSettingsSource{snap: enabledSnapshot()}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(purchaseBody(userID, positionID, "1")))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.calls != 1 {
		t.Fatalf("expected one service call, got %d", svc.calls)
	}
	if svc.input.IdempotencyKey != "" {
		t.Fatalf("expected empty idempotency key, got %q", svc.input.IdempotencyKey)
	}
}

func TestPurchaseCreateRejectsInvalidBodies(t *testing.T) {
	cases := map[string]string{
		"zero quantity":    purchaseBody(uuid.New(), uuid.New(), "0"),
		"negative":         purchaseBody(uuid.New(), uuid.New(), "-3"),
		"bad user id":      `{"user_id":"nope","position_id":"` + uuid.NewString() + `","quantity":1}`,
		"price smuggled":   `{"user_id":"` + uuid.NewString() + `","position_id":"` + uuid.NewString() + `","quantity":1,"price_cents":1}`,
		"malformed json":   `{"user_id":`,
		"missing position": `{"user_id":"` + uuid.NewString() + `","quantity":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubPurchaseService{}
			handler := PurchaseCreate(svc, stubSettingsSource{snap: enabledSnapshot()}, testLogger())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body))
			req.Header.Set("Idempotency-Key", "k")
			rec := httptest.NewRecorder()
			handler(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d: %s", rec.Code, rec.Body.String())
			}
			if svc.calls != 0 {
				t.Fatalf("service should not be called")
			}
		})
	}
}

func TestPurchaseCreateMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance"), http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"},
		{pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock"), http.StatusConflict, "INSUFFICIENT_STOCK"},
		{pkgerrors.New(pkgerrors.CodeNotSubscribed, "subscribe first"), http.StatusForbidden, "NOT_SUBSCRIBED"},
		{pkgerrors.New(pkgerrors.CodePositionNotFound, "position not found"), http.StatusNotFound, "POSITION_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubPurchaseService{err: tc.err}
			handler := PurchaseCreate(svc, stubSettingsSource{snap: enabledSnapshot()}, testLogger())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(purchaseBody(uuid.New(), uuid.New(), "1")))
			req.Header.Set("Idempotency-Key", "k")
			rec := httptest.NewRecorder()
			handler(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			if env := decodeError(t, rec); env.Error.Code != tc.code {
				t.Fatalf("expected code %s got %s", tc.code, env.Error.Code)
			}
		})
	}
}

func TestPurchaseCreateSettingsFailure(t *testing.T) {
	svc := &stubPurchaseService{}
	handler := PurchaseCreate(svc, stubSettingsSource{err: errors.New("db down")}, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(purchaseBody(uuid.New(), uuid.New(), "1")))
	req.Header.Set("Idempotency-Key", "k")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("service should not run without settings")
	}
}

func TestPurchaseDetailHidesItemContent(t *testing.T) {
	id := uuid.New()
	itemID := uuid.New()
	svc := &stubPurchaseService{purchase: &models.Purchase{
		ID:             id,
		Quantity:       1,
		DeliveryStatus: enums.DeliveryStatusDelivered,
		Items:          []models.Item{{ID: itemID, Content: "secret-code"}},
	}}
	handler := PurchaseDetail(svc, testLogger())

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/purchases/"+id.String(), nil), "purchaseId", id.String())
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret-code") {
		t.Fatalf("item content leaked: %s", rec.Body.String())
	}
	var view purchaseView
	decodeData(t, rec, &view)
	if view.ID != id || len(view.ItemIDs) != 1 || view.ItemIDs[0] != itemID {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestPurchaseDetailInvalidID(t *testing.T) {
	handler := PurchaseDetail(&stubPurchaseService{}, testLogger())
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/purchases/abc", nil), "purchaseId", "abc")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestPurchaseDetailNotFound(t *testing.T) {
	id := uuid.New()
	handler := PurchaseDetail(&stubPurchaseService{getErr: pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")}, testLogger())
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "purchaseId", id.String())
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}
