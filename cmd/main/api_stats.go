package main

import (
	"log/slog"
	"net/http"

	"github.com/CTAG07/markovdb/pkg/markov"
)

// StatsAPI serves database-wide statistics.
type StatsAPI struct {
	chain  *markov.Chain
	logger *slog.Logger
}

// NewStatsAPI creates a new instance of the StatsAPI.
func NewStatsAPI(chain *markov.Chain, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		chain:  chain,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for the /api/stats endpoint.
func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats", s.handleStats)
}

func (s *StatsAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeChainRead) {
		return
	}

	stats, err := s.chain.DBStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to get database stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}
