package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/portfolio-bridge/internal/logging"
	"github.com/portfolio-bridge/internal/service"
	"github.com/portfolio-bridge/internal/storage"
	"github.com/portfolio-bridge/internal/types"
)

// BalancesResponse is the payload for GET /api/portfolio/balances.
type BalancesResponse struct {
	*service.BalanceResult
	CredentialsMetadata *types.CredentialsMetadata `json:"credentialsMetadata"`
}

// HistoryResponse is the payload for GET /api/portfolio/history. On internal
// failure Data is empty and Error explains why, at HTTP 200.
type HistoryResponse struct {
	Data     []types.ChartDatum     `json:"data"`
	Metadata *types.HistoryMetadata `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// resolveClient loads the user's credentials and builds an exchange client.
func (s *Server) resolveClient(r *http.Request) (service.ExchangeClient, *types.Credentials, error) {
	userID := UserIDFromContext(r.Context())
	creds, err := s.credentialStore.Get(r.Context(), userID)
	if err != nil {
		return nil, nil, err
	}
	return s.clientFactory(creds), creds, nil
}

// handleGetBalances handles GET /api/portfolio/balances
func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	client, creds, err := s.resolveClient(r)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialsNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "No exchange credentials stored", nil)
			return
		}
		logging.FromContext(r.Context()).WithError(err).Error("Failed to load credentials")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to load credentials", nil)
		return
	}

	result, err := s.balanceService.GetHoldings(r.Context(), client)
	if err != nil {
		status, payload := mapExchangeError(err)
		logging.FromContext(r.Context()).WithError(err).WithField("status", status).Warn("Balance aggregation failed")
		respondJSON(w, status, payload)
		return
	}

	respondJSON(w, http.StatusOK, BalancesResponse{
		BalanceResult: result,
		CredentialsMetadata: &types.CredentialsMetadata{
			MaskedKey:  types.MaskKey(creds.APIKey),
			Label:      creds.Label,
			UseTestnet: creds.UseTestnet,
			UpdatedAt:  creds.UpdatedAt,
		},
	})
}

// handleGetHistory handles GET /api/portfolio/history. The chart is a
// non-critical enhancement, so internal failures degrade to an empty series
// at HTTP 200 instead of a 5xx.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	timeRange, err := service.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "range must be one of 1Hr, 1D, 1W, 1M, 1Y", nil)
		return
	}

	var currentValue float64
	if raw := r.URL.Query().Get("currentValue"); raw != "" {
		currentValue, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "currentValue must be a number", nil)
			return
		}
	}

	client, _, err := s.resolveClient(r)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("History request could not resolve credentials")
		respondJSON(w, http.StatusOK, HistoryResponse{
			Data:  []types.ChartDatum{},
			Error: "No exchange credentials available",
		})
		return
	}

	result, err := s.historyService.GetHistory(r.Context(), client, timeRange, currentValue)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("History aggregation failed, degrading to empty series")
		respondJSON(w, http.StatusOK, HistoryResponse{
			Data:  []types.ChartDatum{},
			Error: "Failed to reconstruct portfolio history",
		})
		return
	}

	respondJSON(w, http.StatusOK, HistoryResponse{
		Data:     result.Data,
		Metadata: &result.Metadata,
	})
}
