package handler

import (
	"context"
	"net/http"
	"time"

	"pawpool/internal/middleware"
)

// TokenRevoker blacklists a bearer token until it expires.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
}

// SessionHandler lets a caller revoke the token it is using.
type SessionHandler struct {
	revoker TokenRevoker
	logger  Logger
	maxTTL  time.Duration
}

// NewSessionHandler revokes tokens without an exp claim for maxTTL.
func NewSessionHandler(revoker TokenRevoker, log Logger, maxTTL time.Duration) *SessionHandler {
	return &SessionHandler{revoker: revoker, logger: log, maxTTL: maxTTL}
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	token, expiresAt, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(h.maxTTL)
	}

	if err := h.revoker.Revoke(r.Context(), token, expiresAt); err != nil {
		h.logger.Error("Failed to revoke token", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		respondError(w, http.StatusServiceUnavailable, "Token revocation unavailable")
		return
	}

	h.logger.Info("Token revoked", map[string]interface{}{
		"user_id":    userID,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Token revoked"})
}
