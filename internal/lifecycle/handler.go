package lifecycle

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/foxseedlab/botledger/internal/httpapi"
	"github.com/foxseedlab/botledger/internal/repository"
)

type BotResponse struct {
	BotID     string    `json:"botId"`
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func toResponse(s *repository.BotSession) BotResponse {
	return BotResponse{
		BotID:     s.BotID,
		SessionID: s.SessionID,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
	}
}

type Handler struct {
	manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

func (h *Handler) RequestBot(w http.ResponseWriter, r *http.Request) {
	var req BotRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s, err := h.manager.RequestBot(r.Context(), req)
	switch {
	case err == nil:
		httpapi.WriteJSON(w, http.StatusCreated, toResponse(s))
	case errors.Is(err, ErrInvalidRequest):
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrBotAlreadyActive):
		httpapi.WriteJSON(w, http.StatusConflict, toResponse(s))
	case errors.Is(err, ErrUsageLimitExceeded):
		httpapi.WriteError(w, http.StatusPaymentRequired, err.Error())
	default:
		httpapi.WriteError(w, http.StatusBadGateway, "failed to request bot")
	}
}

func (h *Handler) StopBot(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.StopBot(r.Context(), mux.Vars(r)["botID"])
	switch {
	case err == nil:
		httpapi.WriteJSON(w, http.StatusAccepted, toResponse(s))
	case errors.Is(err, ErrBotNotFound):
		httpapi.WriteError(w, http.StatusNotFound, err.Error())
	default:
		httpapi.WriteError(w, http.StatusBadGateway, "failed to stop bot")
	}
}
