package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"namereg/internal/transport/http/shared"
	id "namereg/pkg/domain"
	dErrors "namereg/pkg/domain-errors"
	authmw "namereg/pkg/platform/middleware/auth"
	"namereg/pkg/requestcontext"
)

// Service defines the address registry operations the handler delegates to.
type Service interface {
	Register(ctx context.Context, caller id.Identity, name, addr string) error
	UpdateAddr(ctx context.Context, caller id.Identity, name, addr string) error
	Deregister(ctx context.Context, caller id.Identity, name string) error
	Resolve(ctx context.Context, name string) (string, error)
	ResolveHash(ctx context.Context, h id.NameHash) (string, error)
	Exists(ctx context.Context, name string) (bool, error)
	Canonicalize(name string) (id.NameHash, error)
	TransferOwnership(ctx context.Context, caller, newOwner id.Identity) error
	Owner(ctx context.Context) (id.Identity, error)
}

// Handler is the thin HTTP layer over the address registry.
type Handler struct {
	service   Service
	logger    *slog.Logger
	validator authmw.Validator
}

func New(service Service, validator authmw.Validator, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		logger:    logger,
		validator: validator,
	}
}

// Register registers the address registry routes with the chi router.
// Non-name endpoints live under the "-" segment so every registrable name,
// including literal "owner" or "hash", stays resolvable at /{name}.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/addresses", func(r chi.Router) {
		r.Get("/-/owner", h.handleOwner)
		r.Get("/-/hash/{hash}", h.handleResolveHash)
		r.Get("/{name}", h.handleResolve)
		r.Get("/{name}/exists", h.handleExists)
		r.Get("/{name}/hash", h.handleCanonicalize)

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireAuth(h.validator, h.logger))
			r.Post("/-/owner/transfer", h.handleTransfer)
			r.Post("/{name}", h.handleRegister)
			r.Put("/{name}", h.handleUpdate)
			r.Delete("/{name}", h.handleDeregister)
		})
	})
}

type addrRequest struct {
	Address string `json:"address"`
}

type transferRequest struct {
	NewOwner string `json:"new_owner"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, ctx)
	if !ok {
		return
	}

	var req addrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.service.Register(ctx, caller, chi.URLParam(r, "name"), req.Address); err != nil {
		h.logFailure(ctx, "register", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, ctx)
	if !ok {
		return
	}

	var req addrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.service.UpdateAddr(ctx, caller, chi.URLParam(r, "name"), req.Address); err != nil {
		h.logFailure(ctx, "update", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, ctx)
	if !ok {
		return
	}

	if err := h.service.Deregister(ctx, caller, chi.URLParam(r, "name")); err != nil {
		h.logFailure(ctx, "deregister", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	addr, err := h.service.Resolve(r.Context(), name)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    name,
		"address": addr,
	})
}

// handleResolveHash serves lookups by pre-computed hash, for clients that
// canonicalize names themselves.
func (h *Handler) handleResolveHash(w http.ResponseWriter, r *http.Request) {
	hash, err := id.ParseNameHash(chi.URLParam(r, "hash"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid name hash"))
		return
	}
	addr, err := h.service.ResolveHash(r.Context(), hash)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{
		"hash":    hash.String(),
		"address": addr,
	})
}

func (h *Handler) handleExists(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	exists, err := h.service.Exists(r.Context(), name)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"name":   name,
		"exists": exists,
	})
}

func (h *Handler) handleCanonicalize(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	hash, err := h.service.Canonicalize(name)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{
		"name": name,
		"hash": hash.String(),
	})
}

func (h *Handler) handleOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := h.service.Owner(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"owner": owner.String()})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, ctx)
	if !ok {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	newOwner, err := id.ParseIdentity(req.NewOwner)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidOwner, "new owner identity cannot be empty"))
		return
	}

	if err := h.service.TransferOwnership(ctx, caller, newOwner); err != nil {
		h.logFailure(ctx, "transfer", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) caller(w http.ResponseWriter, ctx context.Context) (id.Identity, bool) {
	caller := requestcontext.CallerID(ctx)
	if caller.IsNil() {
		// Should never happen behind RequireAuth.
		h.logger.ErrorContext(ctx, "caller identity missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.Identity{}, false
	}
	return caller, true
}

func (h *Handler) logFailure(ctx context.Context, op string, err error) {
	h.logger.WarnContext(ctx, "address registry mutation rejected",
		"op", op,
		"error", err.Error(),
		"request_id", requestcontext.RequestID(ctx),
	)
}
