package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/repository"
	"github.com/hezronokwach/soshi/internal/storage"
)

// SessionCookieName is the auth cookie set on login.
const SessionCookieName = "soshi_session"

// SessionAuth resolves the session cookie to a user id and puts both ids on
// the request context. The cache (Redis, or in-memory in -dev) is consulted
// first; the sessions table stays authoritative and a DB hit refills the
// cache. Revoked or unknown sessions get 401.
func SessionAuth(sessionRepo *repository.SessionRepository, cache storage.SessionCacheStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			sessionID := cookie.Value

			userID, ok, err := cache.GetSession(r.Context(), sessionID)
			if err != nil {
				logger.Errorf("session cache get session_id=%s: %v", MaskSessionID(sessionID), err)
			}
			if !ok {
				session, err := sessionRepo.GetByID(r.Context(), sessionID)
				if err != nil {
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
				userID = session.UserID
				if err := cache.CacheSession(r.Context(), sessionID, userID); err != nil {
					logger.Errorf("session cache set session_id=%s: %v", MaskSessionID(sessionID), err)
				}
				if err := sessionRepo.UpdateLastSeen(r.Context(), sessionID, time.Now().UTC()); err != nil {
					logger.Errorf("session UpdateLastSeen session_id=%s: %v", MaskSessionID(sessionID), err)
				}
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, SessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
