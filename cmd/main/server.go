package main

import (
	"log/slog"
	"net/http"

	"github.com/CTAG07/markovdb/pkg/markov"
)

// Server wires the chain library to the HTTP API.
type Server struct {
	config    *ConfigManager
	db        *database
	logger    *slog.Logger
	chain     *markov.Chain
	authAPI   *AuthAPI
	chainAPI  *ChainAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

// NewServer builds the API handlers on top of an open database.
func NewServer(config *ConfigManager, logger *slog.Logger, db *database, actionChan chan string) *Server {
	chain := markov.NewChain(db.store)
	chain.SetLogger(logger)

	server := &Server{
		config:    config,
		db:        db,
		logger:    logger,
		chain:     chain,
		authAPI:   NewAuthAPI(db.db, logger),
		chainAPI:  NewChainAPI(chain, config, logger),
		statsAPI:  NewStatsAPI(chain, logger),
		serverAPI: NewServerAPI(config, actionChan, logger),
		apiMux:    http.NewServeMux(),
	}

	apiMux := http.NewServeMux()

	server.authAPI.RegisterRoutes(apiMux)
	server.chainAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)

	server.apiMux.Handle("/api/", authedAPI)

	return server
}

// Handler returns the root handler for the API server.
func (s *Server) Handler() http.Handler {
	return s.apiMux
}
