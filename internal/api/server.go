// Package api is the request-serving layer: a thin HTTP façade mapping 1:1
// onto store, engine and synthesizer operations. It holds no business logic
// and shares no memory with the agent loop; the persisted store is the only
// thing the two have in common.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"finsight/internal/analyst"
	"finsight/internal/config"
	"finsight/internal/execution"
	"finsight/internal/marketdata"
	"finsight/internal/news"
	"finsight/internal/portfolio"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

const priceRefreshInterval = 60 * time.Second

// Server wires the HTTP routes to the core components.
type Server struct {
	store  *portfolio.Store
	engine execution.Engine
	market marketdata.Source
	news   news.Source
	synth  *analyst.Synthesizer
	cfg    *config.AgentConfigStore
	router *mux.Router

	mu          sync.Mutex
	lastRefresh time.Time
}

func NewServer(store *portfolio.Store, engine execution.Engine, market marketdata.Source, newsSource news.Source, synth *analyst.Synthesizer, cfg *config.AgentConfigStore) *Server {
	s := &Server{
		store:  store,
		engine: engine,
		market: market,
		news:   newsSource,
		synth:  synth,
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/account", s.handleAccount).Methods("GET")
	s.router.HandleFunc("/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/trade", s.handleTrade).Methods("POST")
	s.router.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	s.router.HandleFunc("/performance", s.handlePerformance).Methods("GET")
	s.router.HandleFunc("/market/status/{symbol}", s.handleMarketStatus).Methods("GET")
	s.router.HandleFunc("/agent/config", s.handleGetAgentConfig).Methods("GET")
	s.router.HandleFunc("/agent/config", s.handleUpdateAgentConfig).Methods("POST")
	s.router.HandleFunc("/agent/allocation", s.handleSetAllocation).Methods("POST")
}

// Handler returns the full handler chain including CORS.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start(addr string) error {
	log.Printf("API server listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("ERROR: encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
