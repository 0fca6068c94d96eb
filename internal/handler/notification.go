package handler

import (
	"net/http"

	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/middleware"
	"github.com/hezronokwach/soshi/internal/model"
	"github.com/hezronokwach/soshi/internal/repository"
)

type NotificationHandler struct {
	notifRepo *repository.NotificationRepository
	msgRepo   *repository.MessageRepository
}

func NewNotificationHandler(notifRepo *repository.NotificationRepository, msgRepo *repository.MessageRepository) *NotificationHandler {
	return &NotificationHandler{notifRepo: notifRepo, msgRepo: msgRepo}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	list, err := h.notifRepo.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		logger.Errorf("list notifications user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get notifications")
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.notifRepo.MarkAllRead(r.Context(), userID); err != nil {
		logger.Errorf("mark notifications read user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type unreadCountsResponse struct {
	Notifications int `json:"notifications"`
	Messages      int `json:"messages"`
}

// UnreadCounts feeds the header badges: unread notifications and unread 1:1
// messages in one round trip.
func (h *NotificationHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	notifs, err := h.notifRepo.UnreadCount(r.Context(), userID)
	if err != nil {
		logger.Errorf("unread notifications user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get counts")
		return
	}
	msgs, err := h.msgRepo.UnreadCount(r.Context(), userID)
	if err != nil {
		logger.Errorf("unread messages user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get counts")
		return
	}
	writeJSON(w, http.StatusOK, unreadCountsResponse{Notifications: notifs, Messages: msgs})
}
