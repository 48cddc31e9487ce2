package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/shopbot-backend/internal/delivery"
	"github.com/angelmondragon/shopbot-backend/internal/eligibility"
	"github.com/angelmondragon/shopbot-backend/internal/purchases"
	"github.com/angelmondragon/shopbot-backend/internal/settings"
	"github.com/angelmondragon/shopbot-backend/pkg/config"
	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/metrics"
	"github.com/angelmondragon/shopbot-backend/pkg/pagination"
	pkgredis "github.com/angelmondragon/shopbot-backend/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubSettings struct{}

func (stubSettings) Load(context.Context) (settings.Snapshot, error) {
	return settings.Snapshot{PurchasesEnabled: true, MaxQuantity: 10}, nil
}

type stubPurchases struct {
	calls int
}

func (s *stubPurchases) Purchase(_ context.Context, _ settings.Snapshot, input purchases.PurchaseInput) (*purchases.PurchaseResult, error) {
	s.calls++
	return &purchases.PurchaseResult{
		Purchase: &models.Purchase{
			ID:              uuid.New(),
			UserID:          input.UserID,
			PositionID:      input.PositionID,
			Quantity:        input.Quantity,
			UnitPriceCents:  100,
			TotalPriceCents: int64(input.Quantity) * 100,
			DeliveryStatus:  enums.DeliveryStatusPending,
		},
		RemainingBalanceCents: 900,
	}, nil
}

func (s *stubPurchases) Get(_ context.Context, id uuid.UUID) (*models.Purchase, error) {
	return &models.Purchase{ID: id, DeliveryStatus: enums.DeliveryStatusPending}, nil
}

type stubListing struct{}

func (stubListing) List(context.Context, purchases.ListFilters, pagination.Params) (*purchases.PurchaseList, error) {
	return &purchases.PurchaseList{}, nil
}

type stubUsers struct{}

func (stubUsers) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return &models.User{ID: id}, nil
}

type stubGate struct{}

func (stubGate) Check(context.Context, settings.Snapshot, *models.User) (eligibility.Result, error) {
	return eligibility.Result{Checked: 1}, nil
}

type stubDispatcher struct {
	calls int
}

func (s *stubDispatcher) Deliver(_ context.Context, id uuid.UUID, _ delivery.DeliverOptions) (*models.Purchase, error) {
	s.calls++
	return &models.Purchase{ID: id, DeliveryStatus: enums.DeliveryStatusDelivered}, nil
}

type fixture struct {
	router     http.Handler
	purchases  *stubPurchases
	dispatcher *stubDispatcher
}

func testConfig() *config.Config {
	return &config.Config{
		App:       config.AppConfig{Env: "dev"},
		Admin:     config.AdminConfig{Token: "s3cret"},
		Purchases: config.PurchasesConfig{RateLimitPerMinute: 2},
	}
}

func newFixture(t *testing.T, cfg *config.Config, withRedis bool) fixture {
	t.Helper()
	f := fixture{purchases: &stubPurchases{}, dispatcher: &stubDispatcher{}}

	var redisClient *pkgredis.Client
	if withRedis {
		mr := miniredis.RunT(t)
		raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = raw.Close() })
		redisClient = pkgredis.NewFromClient(raw)
	}

	reg := prometheus.NewRegistry()
	metrics.NewPurchaseMetrics(reg).ObservePurchase("completed", 0)

	f.router = NewRouter(Params{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         stubPinger{},
		Redis:      redisClient,
		Gatherer:   reg,
		Settings:   stubSettings{},
		Purchases:  f.purchases,
		Listing:    stubListing{},
		Users:      stubUsers{},
		Gate:       stubGate{},
		Dispatcher: f.dispatcher,
	})
	return f
}

func purchaseRequest(userID uuid.UUID, key string) *http.Request {
	body := `{"user_id":"` + userID.String() + `","position_id":"` + uuid.NewString() + `","quantity":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t, testConfig(), true)
	for _, path := range []string{"/health/live", "/health/ready", "/api/public/ping"} {
		if rec := serve(f.router, httptest.NewRequest(http.MethodGet, path, nil)); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
	}
}

func TestMetricsEndpointExportsPurchaseMetrics(t *testing.T) {
	f := newFixture(t, testConfig(), false)
	rec := serve(f.router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "purchase_outcomes_total") {
		t.Fatalf("expected purchase metrics in output")
	}
}

func TestPurchaseRouteCreates(t *testing.T) {
	f := newFixture(t, testConfig(), false)
	rec := serve(f.router, purchaseRequest(uuid.New(), "k1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if f.purchases.calls != 1 {
		t.Fatalf("expected one purchase call, got %d", f.purchases.calls)
	}
}

func TestPurchaseRouteReplaysIdempotentRequest(t *testing.T) {
	f := newFixture(t, testConfig(), true)
	userID := uuid.New()
	body := `{"user_id":"` + userID.String() + `","position_id":"` + uuid.NewString() + `","quantity":1}`

	var first string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "same-key")
		rec := serve(f.router, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d: %s", i, rec.Code, rec.Body.String())
		}
		if i == 0 {
			first = rec.Body.String()
		} else if rec.Body.String() != first {
			t.Fatalf("expected replayed body")
		}
	}
	if f.purchases.calls != 1 {
		t.Fatalf("expected service called once, got %d", f.purchases.calls)
	}
}

func TestPurchaseRouteAcceptsRequestWithoutKey(t *testing.T) {
	f := newFixture(t, testConfig(), true)
	userID := uuid.New()
	for i := 0; i < 2; i++ {
		rec := serve(f.router, purchaseRequest(userID, ""))
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
	if f.purchases.calls != 2 {
		t.Fatalf("expected each keyless request to reach the service, got %d", f.purchases.calls)
	}
}

func TestPurchaseRouteRateLimitsPerUser(t *testing.T) {
	f := newFixture(t, testConfig(), true)
	userID := uuid.New()
	for i := 0; i < 2; i++ {
		if rec := serve(f.router, purchaseRequest(userID, uuid.NewString())); rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d", i, rec.Code)
		}
	}
	rec := serve(f.router, purchaseRequest(userID, uuid.NewString()))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}

	if rec := serve(f.router, purchaseRequest(uuid.New(), uuid.NewString())); rec.Code != http.StatusCreated {
		t.Fatalf("other buyer should not be limited, got %d", rec.Code)
	}
}

func TestEligibilityRoute(t *testing.T) {
	f := newFixture(t, testConfig(), false)
	rec := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/v1/users/"+uuid.NewString()+"/eligibility", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var envelope struct {
		Data struct {
			CanPurchase bool `json:"can_purchase"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.CanPurchase {
		t.Fatalf("expected eligible user")
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t, testConfig(), false)

	rec := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	if rec := serve(f.router, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/purchases", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	if rec := serve(f.router, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.Token = ""
	f := newFixture(t, cfg, false)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	req.Header.Set("X-Admin-Token", "anything")
	if rec := serve(f.router, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestAdminDeliverRoute(t *testing.T) {
	f := newFixture(t, testConfig(), true)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/purchases/"+uuid.NewString()+"/deliver", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	req.Header.Set("Idempotency-Key", "redeliver-1")
	rec := serve(f.router, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if f.dispatcher.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", f.dispatcher.calls)
	}
}
