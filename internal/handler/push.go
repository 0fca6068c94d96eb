package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/middleware"
	"github.com/hezronokwach/soshi/internal/repository"
)

type PushHandler struct {
	pushRepo       *repository.PushRepository
	vapidPublicKey string
}

func NewPushHandler(pushRepo *repository.PushRepository, vapidPublicKey string) *PushHandler {
	return &PushHandler{pushRepo: pushRepo, vapidPublicKey: vapidPublicKey}
}

// PublicKey hands the VAPID public key to the frontend's PushManager.
func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		writeError(w, http.StatusNotImplemented, "push disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidPublicKey})
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var sub repository.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}
	if err := h.pushRepo.Save(r.Context(), userID, sub); err != nil {
		logger.Errorf("save push subscription user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.pushRepo.Delete(r.Context(), userID, req.Endpoint); err != nil {
		logger.Errorf("delete push subscription user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
