// Package httpapi exposes the service over HTTP: JSON command/query routes,
// the identity webhook, the ride chat websocket, health and metrics.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/efebausal/bilshare/internal/allocator"
	"github.com/efebausal/bilshare/internal/apperr"
	"github.com/efebausal/bilshare/internal/chat"
	"github.com/efebausal/bilshare/internal/directory"
	"github.com/efebausal/bilshare/internal/identity"
	"github.com/efebausal/bilshare/internal/reports"
	"github.com/efebausal/bilshare/internal/rides"
)

type Server struct {
	logger    *slog.Logger
	tokens    *identity.TokenVerifier
	webhook   *identity.WebhookVerifier // nil when no secret is configured
	directory *directory.Service
	registry  *rides.Registry
	allocator *allocator.Service
	chat      *chat.Service
	reports   *reports.Service
	mux       *mux.Router
}

func NewServer(
	logger *slog.Logger,
	tokens *identity.TokenVerifier,
	webhook *identity.WebhookVerifier,
	dir *directory.Service,
	registry *rides.Registry,
	alloc *allocator.Service,
	chatSvc *chat.Service,
	reps *reports.Service,
) *Server {
	s := &Server{
		logger:    logger,
		tokens:    tokens,
		webhook:   webhook,
		directory: dir,
		registry:  registry,
		allocator: alloc,
		chat:      chatSvc,
		reports:   reps,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleListRides).Methods("GET")
	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleCancelRide).Methods("DELETE")
	api.HandleFunc("/rides/{id}/requests", s.handleJoinRide).Methods("POST")
	api.HandleFunc("/rides/{id}/messages", s.handleSendMessage).Methods("POST")
	api.HandleFunc("/requests/{id}/response", s.handleRespond).Methods("POST")
	api.HandleFunc("/requests/{id}", s.handleCancelRequest).Methods("DELETE")
	api.HandleFunc("/reports", s.handleFileReport).Methods("POST")
	api.HandleFunc("/profile", s.handleGetProfile).Methods("GET")
	api.HandleFunc("/profile", s.handleUpdateProfile).Methods("PUT")
	api.HandleFunc("/dashboard", s.handleDashboard).Methods("GET")
	api.HandleFunc("/webhooks/identity", s.handleIdentityWebhook).Methods("POST")

	s.mux.HandleFunc("/ws/rides/{id}", s.handleChatWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	body := map[string]string{"error": kind.String(), "message": err.Error()}
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", "path", r.URL.Path, "error", err, "request_id", requestIDFromContext(r.Context()))
		body["message"] = "internal error"
	}
	s.writeJSON(w, status, body)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
