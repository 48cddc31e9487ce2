package controllers

import (
	"net/http"

	"github.com/angelmondragon/shopbot-backend/api/middleware"
	"github.com/angelmondragon/shopbot-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

func AdminPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{
			"scope":  "admin",
			"status": "ok",
			"actor":  middleware.ActorFromContext(r.Context()),
		})
	}
}
