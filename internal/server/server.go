package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mortgagedapp/internal/config"
	"mortgagedapp/internal/controller"
	"mortgagedapp/internal/hmacauth"
	"mortgagedapp/internal/idempotency"
	"mortgagedapp/internal/mortgage"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	headerIdempotencyKey = "X-Idempotency-Key"
	headerRequestID      = "X-Request-Id"
	headerReplayed       = "Idempotent-Replay"
)

type Server struct {
	cfg         *config.AppConfig
	ctrl        *controller.Controller
	store       idempotency.Store
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	logger      *log.Logger
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

// NewServer wires the HTTP API over a controller that drives gw. Gateway calls
// are instrumented before the controller sees them.
func NewServer(cfg *config.AppConfig, gw mortgage.Gateway, store idempotency.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	metrics := newMetricsRegistry()
	ctrl := controller.New(instrument(gw, metrics), logger)
	metrics.watchBusy(func() bool { return ctrl.Snapshot().Busy })

	s := &Server{
		cfg:   cfg,
		ctrl:  ctrl,
		store: store,
		hmac: &hmacauth.Verifier{
			Secret:          cfg.Service.HMACSecret,
			MaxSkew:         cfg.Service.HMACClockSkew,
			SignatureHeader: cfg.Service.HMACSignatureHeader,
			TimestampHeader: cfg.Service.HMACTimestampHeader,
		},
		metrics: metrics,
		logger:  logger.WithPrefix("http"),
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := gw.(mortgage.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/connect", s.mutating(mortgage.OpConnect, s.handleConnect))
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.Handle("PUT /api/v1/tab", s.hmac.Middleware(http.HandlerFunc(s.handleTab)))
	mux.HandleFunc("GET /api/v1/mortgages", s.handleList)
	mux.Handle("POST /api/v1/mortgages", s.mutating(mortgage.OpCreate, s.handleCreate))
	mux.Handle("POST /api/v1/mortgages/{id}/approve", s.mutating(mortgage.OpApprove, s.handleApprove))
	mux.Handle("POST /api/v1/mortgages/{id}/payments", s.mutating(mortgage.OpPay, s.handlePay))
	mux.Handle("GET /api/v1/metrics", metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type mortgageView struct {
	ID         uint64 `json:"id"`
	Borrower   string `json:"borrower"`
	Amount     string `json:"amount"`
	PaidAmount string `json:"paidAmount"`
	Approved   bool   `json:"approved"`
}

type stateResponse struct {
	Tab        string            `json:"tab"`
	Amount     string            `json:"amount"`
	PayAmounts map[string]string `json:"payAmounts"`
	Connected  bool              `json:"connected"`
	Account    string            `json:"account,omitempty"`
	Busy       bool              `json:"busy"`
	Mortgages  []mortgageView    `json:"mortgages"`
	Notice     string            `json:"notice,omitempty"`
	Message    string            `json:"message,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Notice string `json:"notice,omitempty"`
}

type amountRequest struct {
	Amount amountField `json:"amount"`
}

type tabRequest struct {
	Tab string `json:"tab"`
}

// amountField accepts both "1000" and 1000 and keeps the literal text, so the
// controller validates exactly what the client sent.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountField(s)
		return nil
	}
	if string(b) == "null" {
		*a = ""
		return nil
	}
	*a = amountField(b)
	return nil
}

func toStateResponse(st controller.State) stateResponse {
	resp := stateResponse{
		Tab:        string(st.Tab),
		Amount:     st.Amount,
		PayAmounts: make(map[string]string, len(st.PayAmounts)),
		Connected:  st.Connected,
		Busy:       st.Busy,
		Mortgages:  make([]mortgageView, 0, len(st.Mortgages)),
		Notice:     st.Notice,
	}
	if st.Connected {
		resp.Account = st.Account.Hex()
	}
	for id, v := range st.PayAmounts {
		resp.PayAmounts[strconv.FormatUint(id, 10)] = v
	}
	for _, m := range st.Mortgages {
		resp.Mortgages = append(resp.Mortgages, mortgageView{
			ID:         m.ID,
			Borrower:   m.Borrower.Hex(),
			Amount:     m.Amount.String(),
			PaidAmount: m.PaidAmount.String(),
			Approved:   m.Approved,
		})
	}
	if len(resp.Mortgages) == 0 {
		resp.Message = controller.EmptyListMessage
	}
	return resp
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Connect(txContext(r)); err != nil {
		s.writeError(w, mortgage.OpConnect, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleTab(w http.ResponseWriter, r *http.Request) {
	var payload tabRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, "tab", &controller.InputError{Message: "Invalid JSON payload.", Err: err})
		return
	}
	if err := s.ctrl.SetTab(controller.Tab(payload.Tab)); err != nil {
		s.writeError(w, "tab", err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Refresh(r.Context()); err != nil {
		s.writeError(w, mortgage.OpList, err)
		return
	}
	s.metrics.incAction(mortgage.OpList, "ok")
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload amountRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, mortgage.OpCreate, &controller.InputError{Message: "Invalid JSON payload.", Err: err})
		return
	}
	if err := s.ctrl.Create(txContext(r), string(payload.Amount)); err != nil {
		s.writeError(w, mortgage.OpCreate, err)
		return
	}
	s.writeState(w, http.StatusCreated)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, mortgage.OpApprove, err)
		return
	}
	if err := s.ctrl.Approve(txContext(r), id); err != nil {
		s.writeError(w, mortgage.OpApprove, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, mortgage.OpPay, err)
		return
	}
	var payload amountRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, mortgage.OpPay, &controller.InputError{Message: "Invalid JSON payload.", Err: err})
		return
	}
	if err := s.ctrl.Pay(txContext(r), id, string(payload.Amount)); err != nil {
		s.writeError(w, mortgage.OpPay, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func pathID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &controller.InputError{Message: "Invalid mortgage id.", Err: err}
	}
	return id, nil
}

// txContext keeps a submitted transaction waiting for its receipt even if the
// client hangs up; the outcome still lands in the controller state.
func txContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) writeState(w http.ResponseWriter, status int) {
	writeJSON(w, status, toStateResponse(s.ctrl.Snapshot()))
}

func (s *Server) writeError(w http.ResponseWriter, action string, err error) {
	status, class := classify(err)
	s.metrics.incAction(action, class)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "action", action, "err", err)
	} else {
		s.logger.Warn("request rejected", "action", action, "err", err)
	}
	writeJSON(w, status, errorResponse{
		Error:  err.Error(),
		Notice: s.ctrl.Snapshot().Notice,
	})
}

// classify maps the error taxonomy onto HTTP status codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, controller.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, mortgage.ErrTransactionRejected):
		return http.StatusForbidden, "rejected"
	case errors.Is(err, controller.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, mortgage.ErrNetworkMismatch):
		return http.StatusConflict, "network_mismatch"
	case errors.Is(err, mortgage.ErrNotConnected):
		return http.StatusPreconditionRequired, "not_connected"
	case errors.Is(err, mortgage.ErrContractError):
		return http.StatusBadGateway, "contract_error"
	case errors.Is(err, mortgage.ErrWalletUnavailable):
		return http.StatusServiceUnavailable, "wallet_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// mutating signs, deduplicates and counts a state-changing route.
func (s *Server) mutating(action string, h http.HandlerFunc) http.Handler {
	return s.hmac.Middleware(s.idempotent(action, h))
}

// idempotent replays the stored response when X-Idempotency-Key repeats. A key
// reused with a different route or body is refused. Only successful outcomes
// are stored, so a failed transaction can be submitted again.
func (s *Server) idempotent(action string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		if key == "" {
			rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next(rec, r)
			if rec.status < 300 {
				s.metrics.incAction(action, "ok")
			}
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, action, &controller.InputError{Message: "Unreadable request body.", Err: err})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		fingerprint := idempotency.Fingerprint(r.Method, r.URL.Path, body)

		ctx := r.Context()
		existing, err := s.store.Get(ctx, key)
		if err != nil {
			s.logger.Error("idempotency lookup failed", "key", key, "err", err)
		}
		if existing != nil {
			if existing.Fingerprint != fingerprint {
				s.metrics.incAction(action, "key_conflict")
				writeJSON(w, http.StatusConflict, errorResponse{Error: "idempotency key already used for a different request"})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerReplayed, "true")
			w.WriteHeader(existing.StatusCode)
			_, _ = w.Write(existing.Response)
			s.metrics.incAction(action, "replayed")
			return
		}

		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if rec.status >= 300 {
			return
		}
		s.metrics.incAction(action, "ok")

		now := time.Now()
		record := idempotency.Record{
			Fingerprint: fingerprint,
			StatusCode:  rec.status,
			Response:    rec.body.Bytes(),
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
		}
		if err := s.store.Save(ctx, key, record); err != nil {
			s.logger.Error("idempotency save failed", "key", key, "err", err)
		}
	})
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err := s.rpcHealthFn(rpcCtx)
		switch {
		case err == nil:
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		case errors.Is(err, mortgage.ErrNotConnected):
			// No wallet session yet; nothing to check.
			rpcInfo.Error = err.Error()
		default:
			rpcInfo.Error = err.Error()
			overallHealthy = false
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	st := s.ctrl.Snapshot()
	walletInfo := struct {
		Connected bool   `json:"connected"`
		Account   string `json:"account,omitempty"`
		Busy      bool   `json:"busy"`
	}{Connected: st.Connected, Busy: st.Busy}
	if st.Connected {
		walletInfo.Account = st.Account.Hex()
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
		Wallet   interface{} `json:"wallet"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		Wallet:   walletInfo,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"request_id", id,
		)
	})
}
