package withdrawal

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pointrush/pointrush-api/internal/domain/account"
	"github.com/pointrush/pointrush-api/internal/middleware"
	"github.com/pointrush/pointrush-api/internal/pkg/response"
	"github.com/pointrush/pointrush-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

type requestBody struct {
	OptionID string `json:"option_id" validate:"required"`
	Note     string `json:"note" validate:"max=500"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req requestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fields := validator.Validate(req); fields != nil {
		response.ValidationError(w, fields)
		return
	}

	receipt, err := h.svc.Request(r.Context(), userID, req.OptionID, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownOption):
			response.BadRequest(w, "unknown withdrawal option")
		case errors.Is(err, account.ErrInsufficientBalance):
			response.Conflict(w, "insufficient balance")
		case errors.Is(err, account.ErrNotFound):
			response.NotFound(w, "account not found")
		case errors.Is(err, ErrNotificationFailed):
			response.BadGateway(w, "NOTIFICATION_FAILED", "withdrawal could not be delivered, balance restored")
		default:
			response.InternalError(w)
		}
		return
	}

	response.OK(w, receipt)
}

func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{"options": h.svc.Options()})
}

func (h *Handler) Routes(authMiddleware, rateLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/options", h.Options)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		if rateLimit != nil {
			r.Use(rateLimit)
		}
		r.Post("/", h.Request)
	})
	return r
}
