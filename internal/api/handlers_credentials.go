package api

import (
	"errors"
	"net/http"

	"github.com/portfolio-bridge/internal/storage"
	"github.com/portfolio-bridge/internal/types"
)

// PutCredentialsRequest is the payload for PUT /api/credentials.
type PutCredentialsRequest struct {
	APIKey     string `json:"apiKey"`
	APISecret  string `json:"apiSecret"`
	UseTestnet bool   `json:"useTestnet"`
	Label      string `json:"label"`
}

// handlePutCredentials handles PUT /api/credentials
func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	var req PutCredentialsRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.APIKey == "" || req.APISecret == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "apiKey and apiSecret are required", nil)
		return
	}

	userID := UserIDFromContext(r.Context())
	err := s.credentialStore.Upsert(r.Context(), userID, &types.Credentials{
		APIKey:     req.APIKey,
		APISecret:  req.APISecret,
		UseTestnet: req.UseTestnet,
		Label:      req.Label,
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store credentials")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to store credentials", nil)
		return
	}

	meta, err := s.credentialStore.GetMetadata(r.Context(), userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read back stored credentials")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to store credentials", nil)
		return
	}

	respondJSON(w, http.StatusOK, meta)
}

// handleGetCredentials handles GET /api/credentials. Returns masked metadata
// only; the secret never leaves the server.
func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	meta, err := s.credentialStore.GetMetadata(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialsNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "No exchange credentials stored", nil)
			return
		}
		s.logger.WithError(err).Error("Failed to load credentials metadata")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to load credentials", nil)
		return
	}

	respondJSON(w, http.StatusOK, meta)
}

// handleDeleteCredentials handles DELETE /api/credentials
func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	if err := s.credentialStore.Delete(r.Context(), userID); err != nil {
		if errors.Is(err, storage.ErrCredentialsNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "No exchange credentials stored", nil)
			return
		}
		s.logger.WithError(err).Error("Failed to delete credentials")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to delete credentials", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
