package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/shopbot-backend/api/responses"
	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/shopbot-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	purchaseReplayTTL   = 7 * 24 * time.Hour
	redeliveryReplayTTL = 24 * time.Hour
)

// replayRoute describes one endpoint whose responses are kept for replay.
type replayRoute struct {
	method string
	match  func(pattern string) bool
	ttl    time.Duration
	// scope namespaces the key; purchases are keyed per buyer to line up
	// with the (user_id, idempotency_key) unique index.
	scope func(r *http.Request, body []byte) string
}

var replayRoutes = []replayRoute{
	{
		method: http.MethodPost,
		match:  func(p string) bool { return p == "/api/v1/purchases" },
		ttl:    purchaseReplayTTL,
		scope:  purchaseScope,
	},
	{
		method: http.MethodPost,
		match: func(p string) bool {
			return strings.HasPrefix(p, "/api/admin/v1/purchases/") && strings.HasSuffix(p, "/deliver")
		},
		ttl: redeliveryReplayTTL,
		scope: func(r *http.Request, _ []byte) string {
			return "redeliver:" + ActorFromContext(r.Context()) + ":" + r.URL.Path
		},
	},
}

type replayRecord struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// purchase and redelivery routes. Requests without the header pass through
// untouched, a key reused with a different body is rejected, and 5xx
// responses are never stored so the buyer can retry. A positive purchaseTTL
// overrides how long purchase responses are kept.
func Idempotency(store pkgredis.IdempotencyStore, purchaseTTL time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := matchReplayRoute(r)
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if !ok || store == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ttl := route.ttl
			if route.ttl == purchaseReplayTTL && purchaseTTL > 0 {
				ttl = purchaseTTL
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			storeKey := store.IdempotencyKey(route.scope(r, body), key)

			stored, found, err := store.LoadResponse(r.Context(), storeKey)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if found {
				var record replayRecord
				if err := json.Unmarshal([]byte(stored), &record); err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
					return
				}
				if record.RequestHash != hash {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				if record.ContentType != "" {
					w.Header().Set("Content-Type", record.ContentType)
				}
				w.Header().Set(replayedHeader, "true")
				w.WriteHeader(record.Status)
				_, _ = w.Write(record.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.status >= http.StatusInternalServerError {
				return
			}

			payload, err := json.Marshal(replayRecord{
				Status:      capture.status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
				RequestHash: hash,
			})
			if err == nil {
				_, err = store.SaveResponse(r.Context(), storeKey, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(r.Context(), "persist idempotency record", err)
			}
		})
	}
}

// purchaseScope keys on the buyer named in the body. An unparseable body
// falls back to the path; the handler rejects it anyway.
func purchaseScope(r *http.Request, body []byte) string {
	if buyer := buyerFromBody(body); buyer != "" {
		return "purchase:" + buyer
	}
	return "purchase:" + r.URL.Path
}

// matchReplayRoute uses the chi pattern so path parameters don't matter. Inside
// a mounted subrouter the pattern still ends in a wildcard; the raw path is
// used then.
func matchReplayRoute(r *http.Request) (replayRoute, bool) {
	pattern := r.URL.Path
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" && !strings.Contains(p, "*") {
			pattern = p
		}
	}
	for _, route := range replayRoutes {
		if route.method == r.Method && route.match(pattern) {
			return route, true
		}
	}
	return replayRoute{}, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
