package ledger

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pointrush/pointrush-api/internal/domain/account"
	"github.com/pointrush/pointrush-api/internal/domain/lead"
	"github.com/pointrush/pointrush-api/internal/middleware"
	"github.com/pointrush/pointrush-api/internal/pkg/response"
	"github.com/pointrush/pointrush-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type startOfferRequest struct {
	OfferID   string          `json:"offer_id" validate:"required"`
	OfferName string          `json:"offer_name" validate:"max=200"`
	Points    decimal.Decimal `json:"points"`
}

type claimSocialRequest struct {
	Type string `json:"type" validate:"required,social_type"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	summary, err := h.svc.GetSummary(r.Context(), userID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			response.NotFound(w, "account not found")
			return
		}
		response.InternalError(w)
		return
	}

	available := decimal.Zero
	for _, l := range summary.Recent {
		if l.Status == lead.StatusAvailable {
			available = available.Add(l.Points)
		}
	}

	response.OK(w, map[string]interface{}{
		"user": map[string]interface{}{
			"id":       summary.Account.ID,
			"email":    summary.Account.Email,
			"username": summary.Account.Username,
		},
		"balance":            summary.Account.Balance,
		"pending":            displayPending(summary.Account.Pending),
		"available":          available,
		"level":              summary.Level,
		"bonus_just_granted": summary.BonusGranted,
		"recent_leads":       summary.Recent,
		"claimed_socials":    summary.ClaimedSocials,
	})
}

func (h *Handler) StartOffer(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req startOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fields := validator.Validate(req); fields != nil {
		response.ValidationError(w, fields)
		return
	}

	result, err := h.svc.StartOffer(r.Context(), userID, req.OfferID, req.OfferName, req.Points)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			response.BadRequest(w, "points must be greater than zero")
		case errors.Is(err, account.ErrNotFound):
			response.NotFound(w, "account not found")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, map[string]interface{}{
		"lead":    result.Lead,
		"balance": result.Balance,
		"pending": displayPending(result.Pending),
	})
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	result, err := h.svc.Sync(r.Context(), userID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			response.NotFound(w, "account not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{
		"balance":       result.Balance,
		"pending":       displayPending(result.Pending),
		"new_pending":   result.NewPending,
		"new_available": result.NewAvailable,
		"degraded":      result.Degraded,
		"leads":         result.Leads,
	})
}

func (h *Handler) ClaimSocial(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req claimSocialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fields := validator.Validate(req); fields != nil {
		response.ValidationError(w, fields)
		return
	}

	result, err := h.svc.ClaimSocialBonus(r.Context(), userID, req.Type)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownBonusType):
			response.BadRequest(w, "unknown bonus type")
		case errors.Is(err, ErrBonusAlreadyClaimed):
			response.Conflict(w, "bonus already claimed")
		case errors.Is(err, account.ErrNotFound):
			response.NotFound(w, "account not found")
		default:
			response.InternalError(w)
		}
		return
	}

	response.OK(w, map[string]interface{}{
		"balance": result.Balance,
		"lead_id": result.LeadID,
	})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/me", h.Me)
	r.Post("/offers/start", h.StartOffer)
	r.Post("/offers/sync", h.Sync)
	r.Post("/socials/claim", h.ClaimSocial)
	return r
}

// displayPending floors the view at zero; internal corrections may briefly
// leave a negative remainder before the next clamped write.
func displayPending(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}
