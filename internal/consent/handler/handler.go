// Package handler wires the consent governance endpoints to the service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/consent/models"
	"custodia/internal/consent/service"
	"custodia/internal/credential"
	"custodia/internal/purpose"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// Service defines the governance operations the handler depends on.
type Service interface {
	ApproveField(ctx context.Context, actor models.Actor, key models.ConsentKey, granted models.ActionSet, expiry time.Time) (service.Decision, error)
	RejectField(ctx context.Context, actor models.Actor, key models.ConsentKey, reason string) (service.Decision, error)
	BatchApprove(ctx context.Context, actor models.Actor, appID, vaultID string, selections []models.BatchSelection) (models.BatchResult, error)
	BatchReject(ctx context.Context, actor models.Actor, appID, vaultID string, selections []models.BatchSelection) (models.BatchResult, error)
	RegisterRequests(ctx context.Context, actor models.Actor, appID, vaultID string, requests []models.DatasetRequest) ([]models.FieldConsent, error)
	GroupedView(ctx context.Context, appID string) (service.ApplicationView, error)
	ApprovalHistory(ctx context.Context, appID string) ([]models.Approval, error)
	ImportExternal(ctx context.Context, actor models.Actor, apps []models.ApplicationPayload) (int, error)
	RegenerateAppToken(ctx context.Context, actor models.Actor, appID string) (string, credential.AppToken, error)
}

// Handler wires consent endpoints to the governance service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a consent handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts consent endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/applications/{appID}", func(r chi.Router) {
		r.Post("/requests", h.HandleRegisterRequests)
		r.Get("/consents", h.HandleGetConsents)
		r.Post("/consents/approve", h.HandleBatchApprove)
		r.Post("/consents/reject", h.HandleBatchReject)
		r.Post("/consents/{dataset}/{field}/approve", h.HandleApproveField)
		r.Post("/consents/{dataset}/{field}/reject", h.HandleRejectField)
		r.Post("/token/regenerate", h.HandleRegenerateToken)
		r.Get("/approvals", h.HandleListApprovals)
	})
	r.Post("/consents/import", h.HandleImport)
	r.Get("/purposes", h.HandleListPurposes)
}

func actorFrom(ctx context.Context) models.Actor {
	return models.Actor{
		ID:   requestcontext.ActorID(ctx),
		Role: models.Role(requestcontext.ActorRole(ctx)),
	}
}

func consentKey(r *http.Request) models.ConsentKey {
	return models.ConsentKey{
		AppID:   chi.URLParam(r, "appID"),
		Dataset: chi.URLParam(r, "dataset"),
		Field:   chi.URLParam(r, "field"),
	}
}

// HandleApproveField handles POST /applications/{appID}/consents/{dataset}/{field}/approve.
func (h *Handler) HandleApproveField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ApproveFieldRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	granted, err := models.ParseActions(req.Actions)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	key := consentKey(r)
	decision, err := h.service.ApproveField(ctx, actorFrom(ctx), key, granted, req.Expiry)
	if err != nil {
		h.logger.ErrorContext(ctx, "field approval failed",
			"request_id", requestID,
			"consent_key", key.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "field approved",
		"request_id", requestID,
		"consent_key", key.String(),
		"dataset_status", decision.DatasetStatus,
	)
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// HandleRejectField handles POST /applications/{appID}/consents/{dataset}/{field}/reject.
func (h *Handler) HandleRejectField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RejectFieldRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	key := consentKey(r)
	decision, err := h.service.RejectField(ctx, actorFrom(ctx), key, req.Reason)
	if err != nil {
		h.logger.ErrorContext(ctx, "field rejection failed",
			"request_id", requestID,
			"consent_key", key.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "field rejected",
		"request_id", requestID,
		"consent_key", key.String(),
		"dataset_status", decision.DatasetStatus,
	)
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// HandleBatchApprove handles POST /applications/{appID}/consents/approve.
func (h *Handler) HandleBatchApprove(w http.ResponseWriter, r *http.Request) {
	h.handleBatch(w, r, h.service.BatchApprove, "batch approved")
}

// HandleBatchReject handles POST /applications/{appID}/consents/reject.
func (h *Handler) HandleBatchReject(w http.ResponseWriter, r *http.Request) {
	h.handleBatch(w, r, h.service.BatchReject, "batch rejected")
}

func (h *Handler) handleBatch(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, models.Actor, string, string, []models.BatchSelection) (models.BatchResult, error),
	msg string,
) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	appID := chi.URLParam(r, "appID")

	req, ok := httputil.DecodeAndPrepare[BatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := op(ctx, actorFrom(ctx), appID, req.VaultID, req.Selections)
	if err != nil {
		h.logger.ErrorContext(ctx, "batch decision failed",
			"request_id", requestID,
			"app_id", appID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, msg,
		"request_id", requestID,
		"app_id", appID,
		"transitioned", result.Transitioned,
		"application_status", result.AppStatus,
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleRegisterRequests handles POST /applications/{appID}/requests.
func (h *Handler) HandleRegisterRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	appID := chi.URLParam(r, "appID")

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.service.RegisterRequests(ctx, actorFrom(ctx), appID, req.VaultID, req.Datasets)
	if err != nil {
		h.logger.ErrorContext(ctx, "request registration failed",
			"request_id", requestID,
			"app_id", appID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "requests registered",
		"request_id", requestID,
		"app_id", appID,
		"created", len(created),
	)
	httputil.WriteJSON(w, http.StatusCreated, created)
}

// HandleGetConsents handles GET /applications/{appID}/consents.
func (h *Handler) HandleGetConsents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "appID")

	view, err := h.service.GroupedView(ctx, appID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleListApprovals handles GET /applications/{appID}/approvals.
func (h *Handler) HandleListApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "appID")

	approvals, err := h.service.ApprovalHistory(ctx, appID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, approvals)
}

// HandleRegenerateToken handles POST /applications/{appID}/token/regenerate.
func (h *Handler) HandleRegenerateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	appID := chi.URLParam(r, "appID")

	plaintext, record, err := h.service.RegenerateAppToken(ctx, actorFrom(ctx), appID)
	if err != nil {
		h.logger.ErrorContext(ctx, "token rotation failed",
			"request_id", requestID,
			"app_id", appID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "application token rotated",
		"request_id", requestID,
		"app_id", appID,
	)
	httputil.WriteJSON(w, http.StatusOK, fromAppToken(plaintext, record))
}

// HandleImport handles POST /consents/import.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := actorFrom(ctx)
	if !models.CanApprove(actor.Role) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "import requires a reviewing role"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[ImportRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	imported, err := h.service.ImportExternal(ctx, actor, req.Applications)
	if err != nil {
		h.logger.ErrorContext(ctx, "consent import failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "consents imported",
		"request_id", requestID,
		"imported", imported,
	)
	httputil.WriteJSON(w, http.StatusOK, ImportResponse{Imported: imported})
}

// HandleListPurposes handles GET /purposes.
func (h *Handler) HandleListPurposes(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, PurposesResponse{Purposes: purpose.All()})
}
