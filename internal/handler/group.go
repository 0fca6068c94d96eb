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

type GroupHandler struct {
	groupRepo *repository.GroupRepository
	userRepo  *repository.UserRepository
	notifRepo *repository.NotificationRepository
	hub       *ws.Hub
	cache     storage.SessionCacheStore
}

func NewGroupHandler(
	groupRepo *repository.GroupRepository,
	userRepo *repository.UserRepository,
	notifRepo *repository.NotificationRepository,
	hub *ws.Hub,
	cache storage.SessionCacheStore,
) *GroupHandler {
	return &GroupHandler{groupRepo: groupRepo, userRepo: userRepo, notifRepo: notifRepo, hub: hub, cache: cache}
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 100 {
		writeError(w, http.StatusBadRequest, "group name must be 1-100 characters")
		return
	}

	group := &model.Group{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		CreatorID:   userID,
	}
	if err := h.groupRepo.Create(r.Context(), group); err != nil {
		logger.Errorf("create group user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groups, err := h.groupRepo.ListByUser(r.Context(), userID)
	if err != nil {
		logger.Errorf("list groups user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

type addMemberRequest struct {
	UserID int64 `json:"user_id"`
}

// AddMember invites a user into the group. Any member can add; the invited
// user gets a notification on their socket and a badge entry.
func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := urlID(r, "groupID")
	if groupID == 0 {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if ok := h.requireMember(w, r, groupID, userID); !ok {
		return
	}

	group, err := h.groupRepo.GetByID(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		logger.Errorf("add member group lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	if _, err := h.userRepo.GetByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("add member user lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}

	if err := h.groupRepo.AddMember(r.Context(), groupID, req.UserID); err != nil {
		logger.Errorf("add member group=%d user=%d: %v", groupID, req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}

	n := &model.Notification{
		UserID:  req.UserID,
		Type:    model.NotificationGroupAdded,
		Content: fmt.Sprintf("You were added to %s", group.Name),
		ActorID: userID,
	}
	if err := h.notifRepo.Create(r.Context(), n); err != nil {
		logger.Errorf("group added notification: %v", err)
	} else {
		h.hub.SendToUser(req.UserID, ws.Notification(n))
		if !h.hub.IsOnline(req.UserID) {
			h.hub.Push(context.Background(), req.UserID, group.Name, n.Content, nil)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetMessages returns one page of the group thread in ascending time order.
func (h *GroupHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := urlID(r, "groupID")
	if groupID == 0 {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	if ok := h.requireMember(w, r, groupID, userID); !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit > 100 {
		limit = 100
	}

	messages, err := h.groupRepo.GetMessages(r.Context(), groupID, limit, offset)
	if err != nil {
		logger.Errorf("get group messages group=%d: %v", groupID, err)
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendGroupMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage persists a group message and broadcasts the authoritative copy
// to every member, the sender included.
func (h *GroupHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := urlID(r, "groupID")
	if groupID == 0 {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	allowed, err := h.cache.CheckMessageRate(r.Context(), userID)
	if err != nil {
		logger.Errorf("message rate check user=%d: %v", userID, err)
	} else if !allowed {
		writeError(w, http.StatusTooManyRequests, "sending too fast")
		return
	}

	var req sendGroupMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || len(req.Content) > maxMessageLength {
		writeError(w, http.StatusBadRequest, "message must be 1-2000 characters")
		return
	}

	if ok := h.requireMember(w, r, groupID, userID); !ok {
		return
	}

	sender, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		logger.Errorf("send group message sender lookup user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	msg := &model.Message{
		SenderID: userID,
		GroupID:  groupID,
		Content:  req.Content,
	}
	if err := h.groupRepo.CreateMessage(r.Context(), msg); err != nil {
		logger.Errorf("send group message persist group=%d: %v", groupID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	senderPublic := sender.ToPublic()
	msg.Sender = &senderPublic

	h.hub.BroadcastToGroup(r.Context(), groupID, ws.GroupMessage(msg))

	writeJSON(w, http.StatusCreated, msg)
}

func (h *GroupHandler) requireMember(w http.ResponseWriter, r *http.Request, groupID, userID int64) bool {
	isMember, err := h.groupRepo.IsMember(r.Context(), groupID, userID)
	if err != nil {
		logger.Errorf("group membership check group=%d user=%d: %v", groupID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return false
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return false
	}
	return true
}
