package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aitimetable/accounts/internal/auth"
	"github.com/aitimetable/accounts/internal/services"
	pkghttp "github.com/aitimetable/accounts/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface is the operator side of the faculty approval queue
type AdminServiceInterface interface {
	ListPendingFaculty(ctx context.Context) ([]*services.AccountResponse, error)
	ApproveFaculty(ctx context.Context, accountID, actingAdminID string) (*services.ApprovalResult, error)
}

// AdminHandler handles admin-only HTTP requests
type AdminHandler struct {
	service AdminServiceInterface
	logger  *slog.Logger
}

func NewAdminHandler(service AdminServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// ListPendingFaculty handles GET /admin/faculty/pending
func (h *AdminHandler) ListPendingFaculty(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.ListPendingFaculty(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pending)
}

// ApproveFaculty handles POST /admin/faculty/{id}/approve
func (h *AdminHandler) ApproveFaculty(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "Faculty id is required")
		return
	}

	result, err := h.service.ApproveFaculty(r.Context(), accountID, claims.AccountID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}
