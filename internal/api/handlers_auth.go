package api

import (
	"crypto/subtle"
	"net/http"
)

// CreateSessionRequest is the payload for POST /api/auth/sessions. The
// endpoint is called by the trusted frontend backend, authenticated with the
// shared service key rather than a user session.
type CreateSessionRequest struct {
	UserID string `json:"userId"`
}

// handleCreateSession handles POST /api/auth/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.serviceKey == "" {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Session issuing is not configured", nil)
		return
	}
	provided := r.Header.Get("X-Service-Key")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.serviceKey)) != 1 {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid service key", nil)
		return
	}

	var req CreateSessionRequest
	if err := parseJSONBody(r, &req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "userId is required", nil)
		return
	}

	session, err := s.sessionStore.Create(r.Context(), req.UserID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create session")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to create session", nil)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

// handleDeleteSession handles DELETE /api/auth/sessions, revoking the
// caller's own token.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	if err := s.sessionStore.Delete(r.Context(), token); err != nil {
		s.logger.WithError(err).Error("Failed to delete session")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to delete session", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}
