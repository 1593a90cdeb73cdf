package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"MarketLedger/internal/ingestion"
	"MarketLedger/internal/observability"
	"MarketLedger/internal/query"
)

// Server handles the REST API: operation submission and read-only queries.
// Submissions are validated, stamped with the receive time, and enqueued on
// the same channel the NATS subscriber feeds; the response is 202 Accepted
// with the operation id. Results are observable via the outbound stream and
// the query endpoints.
type Server struct {
	queries    *query.Service
	submitChan chan<- ingestion.RawOp
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	router     *mux.Router
	log        zerolog.Logger
}

func NewServer(
	queries *query.Service,
	submitChan chan<- ingestion.RawOp,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		queries:    queries,
		submitChan: submitChan,
		health:     health,
		metrics:    metrics,
		router:     mux.NewRouter(),
		log:        observability.NewLogger("http"),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Operation submission
	api.HandleFunc("/markets", s.handleCreateMarket).Methods("POST")
	api.HandleFunc("/markets/{id}/close", s.handleCloseMarket).Methods("POST")
	api.HandleFunc("/markets/{id}/decide", s.handleDecideWinner).Methods("POST")
	api.HandleFunc("/markets/{id}/bets", s.handlePlaceBet).Methods("POST")
	api.HandleFunc("/markets/{id}/claims", s.handleClaimReward).Methods("POST")

	// Queries
	api.HandleFunc("/markets", s.handleListMarkets).Methods("GET")
	api.HandleFunc("/markets/{id}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{id}/bets", s.handleListBets).Methods("GET")
	api.HandleFunc("/markets/{id}/bets/{address}", s.handleGetBet).Methods("GET")
	api.HandleFunc("/markets/{id}/transfers", s.handleListTransfers).Methods("GET")
	api.HandleFunc("/integrity", s.handleVerifyIntegrity).Methods("GET")

	// Health
	s.router.HandleFunc("/healthz", s.health.LivenessHandler).Methods("GET")
	s.router.HandleFunc("/readyz", s.health.ReadinessHandler).Methods("GET")
}

// Handler returns the route tree without the CORS wrapper, for tests and
// embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the API server. Blocks until the listener fails.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	handler := c.Handler(s.router)

	s.log.Info().Str("addr", addr).Msg("http server starting")
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Submission handlers
// ==============================

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	// Market creation is the one submission with no id in the path; the
	// body must carry it explicitly.
	s.submit(w, r, "CreateMarket", 0, false)
}

func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMarketID(w, r)
	if !ok {
		return
	}
	s.submit(w, r, "PlaceBet", id, true)
}

func (s *Server) handleCloseMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMarketID(w, r)
	if !ok {
		return
	}
	s.submit(w, r, "CloseMarket", id, true)
}

func (s *Server) handleDecideWinner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMarketID(w, r)
	if !ok {
		return
	}
	s.submit(w, r, "DecideWinner", id, true)
}

func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMarketID(w, r)
	if !ok {
		return
	}
	s.submit(w, r, "ClaimReward", id, true)
}

// submit validates the payload, assigns an operation id when the caller did
// not supply one, and enqueues the raw operation for the engine.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind string, marketID int64, fromPath bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return
	}

	opID, _ := fields["op_id"].(string)
	if opID == "" {
		opID = uuid.New().String()
		fields["op_id"] = opID
	}
	if fromPath {
		// The path id is authoritative; a conflicting body id is ignored.
		fields["market_id"] = marketID
	} else if fields["market_id"] == nil {
		respondError(w, http.StatusBadRequest, "missing market_id", "")
		return
	}

	data, err := json.Marshal(fields)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode failed", err.Error())
		return
	}

	subject, ok := ingestion.SubjectForKind(kind)
	if !ok {
		respondError(w, http.StatusInternalServerError, "unroutable operation kind", kind)
		return
	}

	raw := ingestion.RawOp{
		Subject:    subject,
		Data:       data,
		ReceivedAt: time.Now(),
		AckFunc:    func() {},
		NakFunc:    func() {},
	}

	// Full parse up front so malformed submissions fail here, not in the
	// engine goroutine.
	if _, err := ingestion.ParseRawOp(raw, kind); err != nil {
		respondError(w, http.StatusBadRequest, "invalid operation", err.Error())
		return
	}

	select {
	case s.submitChan <- raw:
	case <-r.Context().Done():
		respondError(w, http.StatusServiceUnavailable, "submission cancelled", "")
		return
	}

	s.log.Debug().Str("kind", kind).Str("op_id", opID).Msg("operation accepted")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "accepted",
		"op_id":  opID,
	})
}

// ==============================
// Query handlers
// ==============================

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 100)
	afterID := int64(queryInt(r, "after", 0))

	markets, err := s.queries.ListMarkets(r.Context(), status, limit, afterID)
	if err != nil {
		s.recordQuery("list_markets", "error")
		respondError(w, http.StatusInternalServerError, "query failed", err.Error())
		return
	}
	if markets == nil {
		markets = []query.MarketResponse{}
	}

	s.recordQuery("list_markets", "ok")
	respondJSON(w, markets)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMarketID(w, r)
	if !ok {
		return
	}

	m, err := s.queries.GetMarket(r.Context(), id)
	if err != nil {
		s.recordQuery("get_market", "error")
		respondError(w, http.StatusInternalServerError, "query failed", err.Error())
		return
	}
	if m == nil {
		s.recordQuery("get_market", "not_found")
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}

	s.recordQuery("get_market", "ok")
	respondJSON(w, m)
}

func (s *Server) handleListBets(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMarketID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)

	bets, err := s.queries.ListBets(r.Context(), id, limit)
	if err != nil {
		s.recordQuery("list_bets", "error")
		respondError(w, http.StatusInternalServerError, "query failed", err.Error())
		return
	}
	if bets == nil {
		bets = []query.BetResponse{}
	}

	s.recordQuery("list_bets", "ok")
	respondJSON(w, bets)
}

func (s *Server) handleGetBet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMarketID(w, r)
	if !ok {
		return
	}
	address := mux.Vars(r)["address"]

	bet, err := s.queries.GetBet(r.Context(), id, address)
	if err != nil {
		s.recordQuery("get_bet", "error")
		respondError(w, http.StatusInternalServerError, "query failed", err.Error())
		return
	}
	if bet == nil {
		s.recordQuery("get_bet", "not_found")
		respondError(w, http.StatusNotFound, "bet not found", "")
		return
	}

	s.recordQuery("get_bet", "ok")
	respondJSON(w, bet)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMarketID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)

	transfers, err := s.queries.ListTransfers(r.Context(), id, limit)
	if err != nil {
		s.recordQuery("list_transfers", "error")
		respondError(w, http.StatusInternalServerError, "query failed", err.Error())
		return
	}
	if transfers == nil {
		transfers = []query.TransferResponse{}
	}

	s.recordQuery("list_transfers", "ok")
	respondJSON(w, transfers)
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "verification failed", err.Error())
		return
	}
	respondJSON(w, report)
}

// ==============================
// Helpers
// ==============================

func (s *Server) recordQuery(endpoint, status string) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	}
}

func pathMarketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid market id", err.Error())
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  message,
		"detail": detail,
	})
}
