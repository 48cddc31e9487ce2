package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/shopbot-backend/pkg/errors"
)

const maxQueryValueLen = 128

func fieldError(msg, field string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"field": field})
}

// QueryValue returns the trimmed query value, cut to maxQueryValueLen.
func QueryValue(r *http.Request, key string) string {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if len(raw) > maxQueryValueLen {
		raw = raw[:maxQueryValueLen]
	}
	return raw
}

// ParseQueryInt returns def when key is absent.
func ParseQueryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw := QueryValue(r, key)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fieldError("query parameter must be numeric", key)
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").
			WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryBool reads an optional flag such as ?force=true.
func ParseQueryBool(r *http.Request, key string) (bool, error) {
	raw := QueryValue(r, key)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fieldError("query parameter must be a boolean", key)
	}
	return value, nil
}

// ParseQueryUUID reads an optional uuid filter; nil means absent.
func ParseQueryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	raw := QueryValue(r, key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fieldError("query parameter must be a uuid", key)
	}
	return &id, nil
}

func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return uuid.Nil, fieldError("path parameter is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fieldError("path parameter must be a uuid", key)
	}
	return id, nil
}
