package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-cart/internal/cart"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
)

func TestSessionSetSyncsCart(t *testing.T) {
	store := newStubStore()
	tokens := &stubTokens{}

	rec, env := serve(t, http.MethodPut, "/session", "/session", SessionSet(tokens, store, nil), `{"token":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", tokens.token)
	assert.Equal(t, 1, store.syncCalls)

	var body sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.True(t, body.Authenticated)
	assert.Equal(t, "user-1", body.Subject)
	assert.True(t, body.Sync.Success)
}

func TestSessionSetReportsFailedMerge(t *testing.T) {
	store := newStubStore()
	store.syncResult = cart.Result{Error: "remote cart unavailable", Code: pkgerrors.CodeDependency}

	rec, env := serve(t, http.MethodPut, "/session", "/session", SessionSet(&stubTokens{}, store, nil), `{"token":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.False(t, body.Sync.Success)
	assert.Equal(t, pkgerrors.CodeDependency, body.Sync.Code)
}

func TestSessionSetRejectsInvalidToken(t *testing.T) {
	store := newStubStore()
	tokens := &stubTokens{err: pkgerrors.Wrap(pkgerrors.CodeUnauthorized, errors.New("bad signature"), "invalid bearer token")}

	rec, env := serve(t, http.MethodPut, "/session", "/session", SessionSet(tokens, store, nil), `{"token":"abc"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid bearer token", env.Error.Message)
	assert.Zero(t, store.syncCalls)

	rec, _ = serve(t, http.MethodPut, "/session", "/session", SessionSet(&stubTokens{}, store, nil), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionClear(t *testing.T) {
	store := newStubStore()
	tokens := &stubTokens{token: "abc", subject: "user-1"}

	rec, _ := serve(t, http.MethodDelete, "/session", "/session", SessionClear(tokens, store, nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, tokens.IsAuthenticated())
	assert.Equal(t, 1, store.syncCalls)
}
