package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/sakif/account-service/internal/apperror"
)

// Pinger is implemented by both user stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth reports whether the user store answers.
//
// HTTP: GET /healthz
func HandleHealth(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			WriteError(w, apperror.StoreUnavailable("health check", err))
			return
		}
		writeSuccess(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
	}
}
