package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/middleware"
	"github.com/hezronokwach/soshi/internal/model"
	"github.com/hezronokwach/soshi/internal/repository"
	"github.com/hezronokwach/soshi/internal/storage"
)

const sessionCookieMaxAge = 30 * 24 * 3600

type AuthHandler struct {
	userRepo     *repository.UserRepository
	sessionRepo  *repository.SessionRepository
	cache        storage.SessionCacheStore
	secureCookie bool
}

func NewAuthHandler(userRepo *repository.UserRepository, sessionRepo *repository.SessionRepository, cache storage.SessionCacheStore, secureCookie bool) *AuthHandler {
	return &AuthHandler{userRepo: userRepo, sessionRepo: sessionRepo, cache: cache, secureCookie: secureCookie}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "username, email and password (8+ chars) are required")
		return
	}

	hash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		logger.Errorf("register hash: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		Nickname:     req.Nickname,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.userRepo.Create(r.Context(), user); err != nil {
		// Unique violation on username/email surfaces as a generic conflict.
		writeError(w, http.StatusConflict, "username or email already taken")
		return
	}

	if err := h.startSession(w, r, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, user.ToPublic())
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.userRepo.GetByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("login lookup: %v", err)
		}
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	match, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil || !match {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err := h.startSession(w, r, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, user.ToPublic())
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	if sessionID != "" {
		if err := h.sessionRepo.Revoke(r.Context(), sessionID); err != nil {
			logger.Errorf("logout revoke session_id=%s: %v", middleware.MaskSessionID(sessionID), err)
		}
		if err := h.cache.DeleteSession(r.Context(), sessionID); err != nil {
			logger.Errorf("logout cache delete session_id=%s: %v", middleware.MaskSessionID(sessionID), err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, userID int64) error {
	now := time.Now().UTC()
	session := &model.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := h.sessionRepo.Create(r.Context(), session); err != nil {
		logger.Errorf("create session user=%d: %v", userID, err)
		return err
	}
	if err := h.cache.CacheSession(r.Context(), session.ID, userID); err != nil {
		logger.Errorf("cache session user=%d: %v", userID, err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		MaxAge:   sessionCookieMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
