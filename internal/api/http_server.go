package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"storesync/internal/config"
	"storesync/internal/coordinator"
	"storesync/internal/domain"
	"storesync/internal/metrics"
	"storesync/internal/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Kicker requests an asynchronous drain pass.
type Kicker interface {
	Kick()
}

// HTTPServer exposes the submission and sync endpoints consumed by the
// forms UI and by operational tooling.
type HTTPServer struct {
	cfg         config.APIConfig
	coordinator *coordinator.Coordinator
	store       domain.SubmissionStore
	reach       domain.Reachability
	snapshots   domain.SnapshotRepository
	worker      Kicker
	logger      *zerolog.Logger
	server      *http.Server
	auth        *HTTPAuth
}

func NewHTTPServer(
	cfg config.APIConfig,
	coord *coordinator.Coordinator,
	store domain.SubmissionStore,
	reach domain.Reachability,
	snapshots domain.SnapshotRepository,
	worker Kicker,
	promEnabled bool,
	logger *zerolog.Logger,
) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:         cfg,
		coordinator: coord,
		store:       store,
		reach:       reach,
		snapshots:   snapshots,
		worker:      worker,
		logger:      logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/submissions/count", srv.handleCount)
	mux.HandleFunc("/api/v1/submissions", srv.handleSubmissions)
	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/healthz", srv.handleHealthz)
	if promEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleSubmissions dispatches POST (submit) and GET (list pending).
func (s *HTTPServer) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("submissions")
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type submitBody struct {
	Type      string          `json:"type"`
	StoreID   string          `json:"store_id"`
	SessionID string          `json:"session_id"`
	Session   models.Record   `json:"session"`
	Items     []models.Record `json:"items"`
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var body submitBody
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Session == nil {
		writeError(w, http.StatusBadRequest, "session is required")
		return
	}

	req := coordinator.SubmitRequest{
		Type:      models.SubmissionType(body.Type),
		StoreID:   body.StoreID,
		SessionID: body.SessionID,
		Session:   body.Session,
		Items:     body.Items,
	}

	var (
		okMsg  string
		errMsg string
	)
	s.coordinator.Submit(r.Context(), req,
		func(msg string) { okMsg = msg },
		func(msg string) { errMsg = msg },
	)

	if errMsg != "" {
		writeError(w, http.StatusUnprocessableEntity, errMsg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": okMsg})
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read pending submissions")
		return
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt < subs[j].CreatedAt })
	if subs == nil {
		subs = []models.PendingSubmission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

func (s *HTTPServer) handleCount(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("count")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count, err := s.store.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count pending submissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// handleSync runs a drain pass inline and reports the summary. The UI's
// "sync now" button lands here.
func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.coordinator.Drain(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("drain failed: %v", err))
		return
	}

	// Background worker refreshes the snapshot and queue gauge.
	if s.worker != nil {
		s.worker.Kick()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	online := false
	if s.reach != nil {
		online = s.reach.Online()
	}

	resp := map[string]any{"online": online}
	if s.snapshots != nil {
		if snap, err := s.snapshots.GetSnapshot(r.Context()); err == nil && snap != nil {
			resp["snapshot"] = snap
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HTTPAuth provides API-key auth and per-key rate limiting.
type HTTPAuth struct {
	cfg      config.APIConfig
	clients  map[string]config.APIClientKey
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if err == errPermissionDenied {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

var errPermissionDenied = fmt.Errorf("permission denied")

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	header := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = "x-api-key"
	}

	apiKey := strings.TrimSpace(r.Header.Get(header))
	if apiKey == "" {
		return fmt.Errorf("missing api key header")
	}

	client, ok := a.clients[apiKey]
	if !ok || subtle.ConstantTimeCompare([]byte(client.Key), []byte(apiKey)) != 1 {
		return fmt.Errorf("invalid api key")
	}

	return a.checkPermissions(client, r)
}

func (a *HTTPAuth) checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermission(r)
	if required == "" {
		return nil
	}
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	switch {
	case r.URL.Path == "/api/v1/sync":
		return "sync"
	case r.URL.Path == "/api/v1/submissions" && r.Method == http.MethodPost:
		return "write:submissions"
	case strings.HasPrefix(r.URL.Path, "/api/v1/"):
		return "read:submissions"
	}
	return ""
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	key := a.clientKey(r)
	lim := a.getLimiter(key)
	if !lim.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	header := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = "x-api-key"
	}

	if apiKey := strings.TrimSpace(r.Header.Get(header)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *HTTPAuth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
