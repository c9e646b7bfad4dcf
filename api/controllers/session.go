package controllers

import (
	"net/http"

	"github.com/angelmondragon/packfinderz-cart/api/responses"
	"github.com/angelmondragon/packfinderz-cart/api/validators"
	"github.com/angelmondragon/packfinderz-cart/internal/cart"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
	"github.com/angelmondragon/packfinderz-cart/pkg/logger"
)

// SessionTokens holds the bearer token of the local session.
type SessionTokens interface {
	SetToken(token string) error
	ClearToken()
	IsAuthenticated() bool
	Subject() string
}

type sessionRequest struct {
	Token string `json:"token" validate:"required"`
}

type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	Subject       string       `json:"subject,omitempty"`
	Sync          cart.Result  `json:"sync"`
	Cart          cartResponse `json:"cart"`
}

// SessionSet signs the session in and lets the cart react. A failed guest
// merge is reported in sync without failing the sign in.
func SessionSet(tokens SessionTokens, store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tokens == nil || store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session unavailable"))
			return
		}
		var payload sessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := tokens.SetToken(payload.Token); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := withLogField(r.Context(), logg, "subject", tokens.Subject())
		sync := store.SyncAuth(ctx)
		if !sync.Success && logg != nil {
			logg.Warn(logg.WithField(ctx, "error_code", string(sync.Code)), "session.sync_failed")
		}
		responses.WriteSuccess(w, sessionResponse{
			Authenticated: tokens.IsAuthenticated(),
			Subject:       tokens.Subject(),
			Sync:          sync,
			Cart:          newCartResponse(store, nil),
		})
	}
}

// SessionClear signs the session out and empties the in-memory cart.
func SessionClear(tokens SessionTokens, store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tokens == nil || store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session unavailable"))
			return
		}
		tokens.ClearToken()
		sync := store.SyncAuth(r.Context())
		responses.WriteSuccess(w, sessionResponse{
			Authenticated: false,
			Sync:          sync,
			Cart:          newCartResponse(store, nil),
		})
	}
}
