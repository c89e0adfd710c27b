package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"namereg/internal/jwttoken"
	"namereg/internal/keyreg/service"
	"namereg/internal/keyreg/store"
	"namereg/internal/platform/logger"
	id "namereg/pkg/domain"
	"namereg/pkg/platform/audit/publisher"
	"namereg/pkg/platform/audit/store/memory"
	"namereg/pkg/platform/middleware/metadata"
)

type env struct {
	server *httptest.Server
	tokens *jwttoken.Service
	owner  id.Identity
}

func newEnv(t *testing.T) *env {
	t.Helper()
	owner := id.NewIdentity()
	log := logger.New()
	tokens := jwttoken.NewService("test-signing-key", "namereg-test")

	svc := service.New(
		store.NewInMemory(owner),
		publisher.New(memory.NewInMemoryStore()),
		service.WithLogger(log),
	)

	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.RequestTime)
	New(svc, tokens, log).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{server: srv, tokens: tokens, owner: owner}
}

func (e *env) do(t *testing.T, method, path string, body any, caller *id.Identity) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if caller != nil {
		token, err := e.tokens.GenerateToken(*caller, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRegisterAndResolve(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/keys/waku.eth",
		map[string]any{"public_key": []byte{0x01, 0x02}}, &e.owner)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/keys/waku.eth", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "waku.eth", body["name"])
	// []byte round-trips through JSON as base64.
	assert.Equal(t, "AQI=", body["public_key"])
}

func TestResolveUnknownName(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/v1/keys/missing.eth", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode(t, resp)["error"])
}

func TestMutationsRequireToken(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/keys/waku.eth",
		map[string]any{"public_key": []byte{0x01}}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/v1/keys/waku.eth", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMutationsRejectNonOwner(t *testing.T) {
	e := newEnv(t)
	intruder := id.NewIdentity()

	resp := e.do(t, http.MethodPost, "/v1/keys/waku.eth",
		map[string]any{"public_key": []byte{0x01}}, &intruder)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decode(t, resp)["error"])
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	e := newEnv(t)
	body := map[string]any{"public_key": []byte{0x01}}

	resp := e.do(t, http.MethodPost, "/v1/keys/waku.eth", body, &e.owner)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/keys/waku.eth", body, &e.owner)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_exists", decode(t, resp)["error"])
}

func TestEmptyKeyRejected(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/keys/waku.eth",
		map[string]any{"public_key": []byte{}}, &e.owner)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "empty_value", decode(t, resp)["error"])
}

func TestUpdateAndDeregister(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/keys/waku.eth",
		map[string]any{"public_key": []byte{0x01}}, &e.owner)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodPut, "/v1/keys/waku.eth",
		map[string]any{"public_key": []byte{0x02}}, &e.owner)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/v1/keys/waku.eth", nil, &e.owner)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/keys/waku.eth/exists", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["exists"])
}

func TestListKeepsRemovedNames(t *testing.T) {
	e := newEnv(t)
	body := map[string]any{"public_key": []byte{0x01}}

	require.Equal(t, http.StatusCreated,
		e.do(t, http.MethodPost, "/v1/keys/a.eth", body, &e.owner).StatusCode)
	require.Equal(t, http.StatusCreated,
		e.do(t, http.MethodPost, "/v1/keys/b.eth", body, &e.owner).StatusCode)
	require.Equal(t, http.StatusNoContent,
		e.do(t, http.MethodDelete, "/v1/keys/a.eth", nil, &e.owner).StatusCode)

	resp := e.do(t, http.MethodGet, "/v1/keys/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"a.eth", "b.eth"}, decode(t, resp)["names"])
}

func TestTransferOwnership(t *testing.T) {
	e := newEnv(t)
	next := id.NewIdentity()

	resp := e.do(t, http.MethodPost, "/v1/keys/-/owner/transfer",
		map[string]string{"new_owner": next.String()}, &e.owner)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/keys/-/owner", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, next.String(), decode(t, resp)["owner"])

	// Old owner token no longer authorizes mutations.
	resp = e.do(t, http.MethodPost, "/v1/keys/waku.eth",
		map[string]any{"public_key": []byte{0x01}}, &e.owner)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLiteralOwnerIsARegistrableName(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/keys/owner",
		map[string]any{"public_key": []byte{0x01}}, &e.owner)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The name route and the registry-owner route must not shadow each other.
	resp = e.do(t, http.MethodGet, "/v1/keys/owner", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "owner", decode(t, resp)["name"])

	resp = e.do(t, http.MethodGet, "/v1/keys/-/owner", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, e.owner.String(), decode(t, resp)["owner"])
}

func TestTransferRejectsUnparseableOwner(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/keys/-/owner/transfer",
		map[string]string{"new_owner": "not-a-uuid"}, &e.owner)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_owner", decode(t, resp)["error"])
}
