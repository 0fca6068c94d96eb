package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/middleware"
	"github.com/hezronokwach/soshi/internal/model"
	"github.com/hezronokwach/soshi/internal/repository"
	"github.com/hezronokwach/soshi/internal/storage"
	"github.com/hezronokwach/soshi/internal/ws"
)

const maxMessageLength = 2000

type MessageHandler struct {
	msgRepo     *repository.MessageRepository
	userRepo    *repository.UserRepository
	contactRepo *repository.ContactRepository
	notifRepo   *repository.NotificationRepository
	hub         *ws.Hub
	cache       storage.SessionCacheStore
}

func NewMessageHandler(
	msgRepo *repository.MessageRepository,
	userRepo *repository.UserRepository,
	contactRepo *repository.ContactRepository,
	notifRepo *repository.NotificationRepository,
	hub *ws.Hub,
	cache storage.SessionCacheStore,
) *MessageHandler {
	return &MessageHandler{
		msgRepo:     msgRepo,
		userRepo:    userRepo,
		contactRepo: contactRepo,
		notifRepo:   notifRepo,
		hub:         hub,
		cache:       cache,
	}
}

// GetConversations returns the user's 1:1 conversation list, most recent
// first. Pending requests are included with is_request=true.
func (h *MessageHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	conversations, err := h.msgRepo.Conversations(r.Context(), userID)
	if err != nil {
		logger.Errorf("get conversations user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get conversations")
		return
	}
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// GetMessages returns one page of a 1:1 thread in ascending time order.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID := urlID(r, "peerID")
	if peerID == 0 {
		writeError(w, http.StatusBadRequest, "invalid peer id")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit > 100 {
		limit = 100
	}

	messages, err := h.msgRepo.GetConversation(r.Context(), userID, peerID, limit, offset)
	if err != nil {
		logger.Errorf("get messages user=%d peer=%d: %v", userID, peerID, err)
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
}

// SendMessage persists a 1:1 message and fans the authoritative copy out over
// the socket to both participants. The HTTP response also carries the stored
// message so the sender can reconcile without the socket.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	allowed, err := h.cache.CheckMessageRate(r.Context(), userID)
	if err != nil {
		logger.Errorf("message rate check user=%d: %v", userID, err)
	} else if !allowed {
		writeError(w, http.StatusTooManyRequests, "sending too fast")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.RecipientID == 0 || req.RecipientID == userID {
		writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if req.Content == "" || len(req.Content) > maxMessageLength {
		writeError(w, http.StatusBadRequest, "message must be 1-2000 characters")
		return
	}

	recipient, err := h.userRepo.GetByID(r.Context(), req.RecipientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipient not found")
			return
		}
		logger.Errorf("send message recipient lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	sender, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		logger.Errorf("send message sender lookup user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	// Replying accepts the sender's side implicitly; the recipient's side
	// stays a request until they accept or reply.
	wasAccepted, err := h.contactRepo.IsAccepted(r.Context(), req.RecipientID, userID)
	if err != nil {
		logger.Errorf("send message contact check: %v", err)
	}

	msg := &model.Message{
		SenderID:    userID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
	}
	if err := h.msgRepo.Create(r.Context(), msg); err != nil {
		logger.Errorf("send message persist user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	senderPublic := sender.ToPublic()
	msg.Sender = &senderPublic

	if err := h.contactRepo.Ensure(r.Context(), userID, req.RecipientID, true); err != nil {
		logger.Errorf("send message contact ensure: %v", err)
	}
	if err := h.contactRepo.Ensure(r.Context(), req.RecipientID, userID, false); err != nil {
		logger.Errorf("send message contact ensure reverse: %v", err)
	}

	// The socket copy goes to BOTH sides: the recipient renders it, the
	// sender's other tabs reconcile their optimistic copy against it.
	env := ws.PrivateMessage(msg)
	h.hub.SendToUser(req.RecipientID, env)
	h.hub.SendToUser(userID, env)

	h.notifyRecipient(r.Context(), sender, recipient, msg, !wasAccepted)

	writeJSON(w, http.StatusCreated, msg)
}

// notifyRecipient raises a message-request notification on first contact and
// pushes to the recipient's devices when no socket is open.
func (h *MessageHandler) notifyRecipient(ctx context.Context, sender, recipient *model.User, msg *model.Message, isRequest bool) {
	displayName := sender.Nickname
	if displayName == "" {
		displayName = sender.Username
	}

	if isRequest {
		n := &model.Notification{
			UserID:  recipient.ID,
			Type:    model.NotificationMessageRequest,
			Content: fmt.Sprintf("%s wants to message you", displayName),
			ActorID: sender.ID,
		}
		if err := h.notifRepo.Create(ctx, n); err != nil {
			logger.Errorf("message request notification: %v", err)
		} else {
			h.hub.SendToUser(recipient.ID, ws.Notification(n))
		}
	}

	if !h.hub.IsOnline(recipient.ID) {
		preview := msg.Content
		if len(preview) > 80 {
			preview = preview[:80]
		}
		// Detached from the request context: the push outlives the response.
		h.hub.Push(context.Background(), recipient.ID, displayName, preview, map[string]string{
			"sender_id": fmt.Sprintf("%d", sender.ID),
		})
	}
}

// MarkAsRead clears the unread state of every message the peer sent to the
// caller.
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID := urlID(r, "peerID")
	if peerID == 0 {
		writeError(w, http.StatusBadRequest, "invalid peer id")
		return
	}
	if err := h.msgRepo.MarkAsRead(r.Context(), userID, peerID); err != nil {
		logger.Errorf("mark read user=%d peer=%d: %v", userID, peerID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AcceptRequest flips a pending message request to an accepted conversation.
func (h *MessageHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID := urlID(r, "peerID")
	if peerID == 0 {
		writeError(w, http.StatusBadRequest, "invalid peer id")
		return
	}
	if err := h.contactRepo.Accept(r.Context(), userID, peerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no pending request")
			return
		}
		logger.Errorf("accept request user=%d peer=%d: %v", userID, peerID, err)
		writeError(w, http.StatusInternalServerError, "failed to accept request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
