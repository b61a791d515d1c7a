package postback

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pointrush/pointrush-api/internal/domain/account"
	"github.com/pointrush/pointrush-api/internal/domain/ledger"
	"github.com/pointrush/pointrush-api/internal/pkg/response"
)

// Normalizer turns one network's wire format into a canonical event.
type Normalizer interface {
	Normalize(r *http.Request) (*ledger.Event, error)
}

// Handler receives network postbacks, normalizes them and applies them
// through the reconciliation engine. Networks retry until they see a 2xx,
// so duplicates answer 200 without re-crediting.
type Handler struct {
	engine  *ledger.Service
	ogads   Normalizer
	adblue  Normalizer
	taprain Normalizer
	bitlabs Normalizer
}

func NewHandler(engine *ledger.Service, ogads, adblue, taprain, bitlabs Normalizer) *Handler {
	return &Handler{
		engine:  engine,
		ogads:   ogads,
		adblue:  adblue,
		taprain: taprain,
		bitlabs: bitlabs,
	}
}

func (h *Handler) OGAds(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.ogads)
}

func (h *Handler) AdBlue(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.adblue)
}

func (h *Handler) TapRain(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.taprain)
}

func (h *Handler) BitLabs(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.bitlabs)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, n Normalizer) {
	ev, err := n.Normalize(r)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			response.Unauthorized(w, "invalid postback credentials")
		case errors.Is(err, ErrMissingIdentifier):
			response.BadRequest(w, "missing user identifier")
		case errors.Is(err, ErrInvalidAmount):
			response.BadRequest(w, "invalid amount")
		default:
			response.BadRequest(w, "malformed postback")
		}
		return
	}

	var result *ledger.ApplyResult
	if ev.Kind == ledger.KindReversal {
		result, err = h.engine.ApplyReversal(r.Context(), *ev)
	} else {
		result, err = h.engine.ApplyReward(r.Context(), *ev)
	}
	if err != nil {
		switch {
		case errors.Is(err, account.ErrNotFound):
			log.Warn().
				Str("network", ev.Network).
				Str("user_id", ev.UserID).
				Str("external_id", ev.ExternalID).
				Msg("postback for unknown account")
			response.NotFound(w, "account not found")
		case errors.Is(err, ledger.ErrInvalidAmount):
			response.BadRequest(w, "invalid amount")
		default:
			log.Error().Err(err).
				Str("network", ev.Network).
				Str("external_id", ev.ExternalID).
				Msg("postback processing failed")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, map[string]interface{}{
		"action":  result.Action,
		"lead_id": result.LeadID,
		"balance": result.Balance,
		"pending": result.Pending,
	})
}

func (h *Handler) Routes(rateLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	if rateLimit != nil {
		r.Use(rateLimit)
	}
	r.Get("/ogads", h.OGAds)
	r.Get("/adblue", h.AdBlue)
	r.Get("/taprain", h.TapRain)
	r.Post("/bitlabs", h.BitLabs)
	return r
}
