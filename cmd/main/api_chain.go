package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/markovdb/pkg/markov"
)

// ChainAPI holds the dependencies for the chain API handlers.
type ChainAPI struct {
	chain  *markov.Chain
	config *ConfigManager
	logger *slog.Logger
}

// NewChainAPI creates a new instance of the ChainAPI.
func NewChainAPI(chain *markov.Chain, config *ConfigManager, logger *slog.Logger) *ChainAPI {
	return &ChainAPI{
		chain:  chain,
		config: config,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/chains endpoints. The
// import route shadows a chain named "import".
func (c *ChainAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/chains", c.handleListAndCreateChains)
	mux.HandleFunc("/api/chains/", c.handleChainByID)
	mux.HandleFunc("/api/chains/import", c.handleImport)
}

type CreateChainRequest struct {
	ID        string `json:"id"`
	StateSize int    `json:"stateSize"`
}

type GenerateRequest struct {
	MaxTries    int `json:"maxTries"`
	Count       int `json:"count"`
	Parallelism int `json:"parallelism"`
}

type RemoveRequest struct {
	Strings []string `json:"strings"`
}

// ChainInfo is a root together with its current counts.
type ChainInfo struct {
	markov.Root
	Stats *markov.CorpusStats `json:"stats"`
}

// chainErrorStatus maps library errors to HTTP status codes.
func chainErrorStatus(err error) int {
	var invalid *markov.InvalidInputError
	var exhausted *markov.GenerationExhaustedError
	switch {
	case errors.Is(err, markov.ErrRootNotFound):
		return http.StatusNotFound
	case errors.As(err, &invalid), errors.Is(err, markov.ErrInvalidStateSize), errors.Is(err, markov.ErrMalformedImport):
		return http.StatusBadRequest
	case errors.Is(err, markov.ErrEmptyCorpus), errors.Is(err, markov.ErrNoFragment), errors.As(err, &exhausted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondWithChainError writes err with the status chainErrorStatus picks,
// logging anything that is not the caller's fault.
func (c *ChainAPI) respondWithChainError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	code := chainErrorStatus(err)
	if code == http.StatusInternalServerError {
		c.logger.Error(msg, append(attrs, "error", err)...)
	}
	respondWithError(w, code, fmt.Sprintf("%s: %v", msg, err))
}

// handleListAndCreateChains handles GET for listing and POST for creating chains.
func (c *ChainAPI) handleListAndCreateChains(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeChainRead) {
			return
		}
		roots, err := c.chain.Roots(r.Context())
		if err != nil {
			c.respondWithChainError(w, "Failed to retrieve chains", err)
			return
		}
		if roots == nil {
			roots = make([]markov.Root, 0)
		}
		respondWithJSON(w, http.StatusOK, roots)

	case http.MethodPost:
		if !requireScope(w, r, scopeChainWrite) {
			return
		}
		var req CreateChainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if req.StateSize == 0 {
			req.StateSize = c.config.Get().Chain.DefaultStateSize
		}
		if req.ID != "" {
			if _, err := c.chain.GetRoot(r.Context(), req.ID); err == nil {
				respondWithError(w, http.StatusConflict, fmt.Sprintf("Chain %q already exists", req.ID))
				return
			}
		}

		root, err := c.chain.CreateRoot(r.Context(), markov.Root{ID: req.ID, StateSize: req.StateSize})
		if err != nil {
			c.respondWithChainError(w, "Failed to create chain", err, "id", req.ID)
			return
		}
		respondWithJSON(w, http.StatusCreated, root)

	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleChainByID routes actions for a specific chain, e.g., ingest, generate, export, delete.
func (c *ChainAPI) handleChainByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/chains/"), "/")
	parts := strings.Split(path, "/")
	chainID := parts[0]

	if chainID == "" {
		respondWithError(w, http.StatusBadRequest, "Chain id not specified")
		return
	}

	root, err := c.chain.GetRoot(r.Context(), chainID)
	if err != nil {
		c.respondWithChainError(w, "Failed to get chain", err, "id", chainID)
		return
	}

	if len(parts) == 1 { // Path is just /api/chains/{id}
		switch r.Method {
		case http.MethodGet:
			c.handleStats(w, r, root, true)
		case http.MethodDelete:
			if !requireScope(w, r, scopeChainWrite) {
				return
			}
			if err = c.chain.DeleteRoot(r.Context(), root); err != nil {
				c.respondWithChainError(w, "Failed to remove chain", err, "id", chainID)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	action := parts[1]
	method := map[string]string{
		"ingest":   http.MethodPost,
		"generate": http.MethodPost,
		"remove":   http.MethodPost,
		"export":   http.MethodGet,
		"stats":    http.MethodGet,
	}[action]
	if method == "" || len(parts) > 2 {
		respondWithError(w, http.StatusNotFound, "Action not found")
		return
	}
	if r.Method != method {
		w.Header().Set("Allow", method)
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch action {
	case "ingest":
		c.handleIngest(w, r, root)
	case "generate":
		c.handleGenerate(w, r, root)
	case "remove":
		c.handleRemove(w, r, root)
	case "export":
		c.handleExport(w, r, root)
	case "stats":
		c.handleStats(w, r, root, false)
	}
}

func (c *ChainAPI) handleIngest(w http.ResponseWriter, r *http.Request, root markov.Root) {
	if !requireScope(w, r, scopeChainWrite) {
		return
	}

	items, err := markov.DecodeItems(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid items: %v", err))
		return
	}
	if err = c.chain.Ingest(r.Context(), root, items...); err != nil {
		c.respondWithChainError(w, "Ingest failed", err, "id", root.ID)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"ingested": len(items)})
}

func (c *ChainAPI) handleGenerate(w http.ResponseWriter, r *http.Request, root markov.Root) {
	if !requireScope(w, r, scopeChainRead) {
		return
	}

	cfg := c.config.Get().Chain
	req := GenerateRequest{MaxTries: cfg.MaxTries, Count: 1, Parallelism: cfg.Parallelism}
	// An empty body keeps the configured defaults.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if req.Count < 1 || req.Count > cfg.MaxBatch {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", cfg.MaxBatch))
		return
	}
	if req.MaxTries < 1 {
		respondWithError(w, http.StatusBadRequest, "maxTries must be positive")
		return
	}

	opts := []markov.GenerateOption{markov.WithMaxTries(req.MaxTries)}
	if req.Count == 1 {
		res, err := c.chain.Generate(r.Context(), root, opts...)
		if err != nil {
			c.respondWithChainError(w, "Generation failed", err, "id", root.ID)
			return
		}
		respondWithJSON(w, http.StatusOK, res)
		return
	}

	results, err := c.chain.GenerateBatch(r.Context(), root, req.Count, req.Parallelism, opts...)
	if err != nil {
		c.respondWithChainError(w, "Generation failed", err, "id", root.ID)
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}

func (c *ChainAPI) handleRemove(w http.ResponseWriter, r *http.Request, root markov.Root) {
	if !requireScope(w, r, scopeChainWrite) {
		return
	}

	var req RemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	removed, err := c.chain.RemoveStrings(r.Context(), root, req.Strings...)
	if err != nil {
		c.respondWithChainError(w, "Remove failed", err, "id", root.ID)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (c *ChainAPI) handleExport(w http.ResponseWriter, r *http.Request, root markov.Root) {
	if !requireScope(w, r, scopeChainRead) {
		return
	}

	// Build the export first so a failure can still produce an error response.
	exported, err := c.chain.Export(r.Context(), root)
	if err != nil {
		c.respondWithChainError(w, "Export failed", err, "id", root.ID)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", root.ID))
	respondWithJSON(w, http.StatusOK, exported)
}

func (c *ChainAPI) handleStats(w http.ResponseWriter, r *http.Request, root markov.Root, withRoot bool) {
	if !requireScope(w, r, scopeChainRead) {
		return
	}

	stats, err := c.chain.Stats(r.Context(), root)
	if err != nil {
		c.respondWithChainError(w, "Failed to get stats", err, "id", root.ID)
		return
	}
	if withRoot {
		respondWithJSON(w, http.StatusOK, ChainInfo{Root: root, Stats: stats})
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// handleImport imports a chain from an uploaded JSON export. The format query
// parameter selects the legacy flat-map shape; the id parameter overrides the
// target chain.
func (c *ChainAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeChainWrite) {
		return
	}

	var src markov.ImportSource
	switch format := r.URL.Query().Get("format"); format {
	case "", "current":
		data, err := markov.ReadExport(r.Body)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		src = markov.CurrentImport{Data: data}
	case "legacy":
		data, err := markov.ReadLegacyExport(r.Body)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		src = markov.LegacyImport{Data: data}
	default:
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown import format %q", format))
		return
	}

	root, err := c.chain.Import(r.Context(), r.URL.Query().Get("id"), src)
	if err != nil {
		c.respondWithChainError(w, "Import failed", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, root)
}
