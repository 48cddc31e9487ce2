package validators

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
)

type orderBody struct {
	UserID   string `json:"user_id" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

func decode(t *testing.T, body string) (orderBody, error) {
	t.Helper()
	var dest orderBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return dest, DecodeJSONBody(httptest.NewRecorder(), req, &dest)
}

func requireValidation(t *testing.T, err error) *pkgerrors.Error {
	t.Helper()
	var typed *pkgerrors.Error
	require.True(t, errors.As(err, &typed), "expected typed error, got %v", err)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	return typed
}

func TestDecodeJSONBodyAcceptsValidObject(t *testing.T) {
	got, err := decode(t, `{"user_id":"6f1c2b8e-8d7e-4a55-9f1a-0d3c0c2b9a10","quantity":2}`)
	require.NoError(t, err)
	require.Equal(t, 2, got.Quantity)
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	_, err := decode(t, `{"user_id":"nope","quantity":0}`)
	typed := requireValidation(t, err)

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok, "unexpected details %T", typed.Details())
	require.Equal(t, "must be a valid uuid", details["user_id"])
	require.Equal(t, "must be greater than 0", details["quantity"])
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"unknown field": `{"user_id":"x","price":1}`,
		"trailing":      `{"quantity":1} {"quantity":2}`,
		"oversized":     `{"user_id":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, body)
			requireValidation(t, err)
		})
	}
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&force=true&user_id=6f1c2b8e-8d7e-4a55-9f1a-0d3c0c2b9a10&bad=x", nil)

	limit, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 10, limit)

	def, err := ParseQueryInt(req, "missing", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 25, def)

	_, err = ParseQueryInt(req, "limit", 25, 1, 5)
	requireValidation(t, err)

	force, err := ParseQueryBool(req, "force")
	require.NoError(t, err)
	require.True(t, force)

	_, err = ParseQueryBool(req, "bad")
	requireValidation(t, err)

	userID, err := ParseQueryUUID(req, "user_id")
	require.NoError(t, err)
	require.NotNil(t, userID)

	absent, err := ParseQueryUUID(req, "missing")
	require.NoError(t, err)
	require.Nil(t, absent)

	_, err = ParseQueryUUID(req, "bad")
	requireValidation(t, err)
}

func TestParseUUIDParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("purchaseId", "not-a-uuid")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	_, err := ParseUUIDParam(req, "purchaseId")
	requireValidation(t, err)

	_, err = ParseUUIDParam(req, "missing")
	requireValidation(t, err)
}
