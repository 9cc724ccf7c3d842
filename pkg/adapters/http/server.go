// Package http exposes the engine over HTTP: the channel webhook, the
// conversation admin API, health and metrics.
package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/stepwise/internal/logging"
	"github.com/aretw0/stepwise/pkg/adapters/channel"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SignatureHeader carries the HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

const maxBodySize = 1 << 20

var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	ErrBadPayload   = errors.New("malformed webhook payload")
)

// Dispatcher handles one inbound event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) (domain.Outcome, error)
}

// Sessions is the conversation lifecycle API.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*domain.ConversationRecord, error)
	Abandon(ctx context.Context, id domain.Identity) error
	Inspect(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error)
	List(ctx context.Context) ([]domain.Identity, error)
	Delete(ctx context.Context, id domain.Identity) error
}

// Server routes HTTP requests to the engine and the session manager.
type Server struct {
	engine   Dispatcher
	sessions Sessions
	logger   *slog.Logger

	secret       string
	verifyToken  string
	adminToken   string
	maxInputSize int
	version      string
	metrics      http.Handler
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSecret enables webhook signature checks against SignatureHeader.
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithVerifyToken answers the channel's subscription handshake (GET /webhook).
func WithVerifyToken(token string) Option {
	return func(s *Server) {
		s.verifyToken = token
	}
}

// WithAdminToken requires a bearer token on /conversations.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// WithMaxInputSize overrides DefaultMaxInputSize.
func WithMaxInputSize(n int) Option {
	return func(s *Server) {
		s.maxInputSize = n
	}
}

// WithVersion is reported by GET /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates a server. sessions may be nil to disable the admin API.
func NewServer(engine Dispatcher, sessions Sessions, opts ...Option) *Server {
	s := &Server{
		engine:       engine,
		sessions:     sessions,
		logger:       logging.NewNop(),
		maxInputSize: DefaultMaxInputSize,
		version:      "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/info", s.info)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Get("/webhook", s.verify)
	r.Post("/webhook", s.webhook)

	if s.sessions != nil {
		r.Route("/conversations", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/", s.listConversations)
			r.Post("/", s.startConversation)
			r.Get("/{identity}", s.getConversation)
			r.Delete("/{identity}", s.deleteConversation)
			r.Post("/{identity}/abandon", s.abandonConversation)
		})
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "stepwise",
		"version": strings.TrimSpace(s.version),
	})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != s.verifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// DeliveryResult reports the outcome of each event of one webhook delivery.
type DeliveryResult struct {
	Outcomes []EventOutcome `json:"outcomes"`
}

// EventOutcome is the result of dispatching one event.
type EventOutcome struct {
	EventID string         `json:"event_id"`
	Outcome domain.Outcome `json:"outcome"`
}

// Deliver verifies and dispatches one webhook body. Failed turns are already
// answered with an apology by the engine, so only signature and payload
// problems are returned as errors.
func (s *Server) Deliver(ctx context.Context, body []byte, signature string) (DeliveryResult, error) {
	if s.secret != "" && !validSignature(body, signature, s.secret) {
		return DeliveryResult{}, ErrBadSignature
	}
	events, err := channel.ParseWebhook(body)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}

	res := DeliveryResult{Outcomes: make([]EventOutcome, 0, len(events))}
	for _, ev := range events {
		clean, err := sanitizeEvent(ev, s.maxInputSize)
		if err != nil {
			s.logger.WarnContext(ctx, "inbound event rejected", "event_id", ev.ID, "identity", ev.Identity, "size", len(ev.Text), "error", err)
			res.Outcomes = append(res.Outcomes, EventOutcome{EventID: ev.ID, Outcome: domain.OutcomeInvalid})
			continue
		}
		ev = clean
		outcome, err := s.engine.Dispatch(ctx, ev)
		if err != nil {
			s.logger.ErrorContext(ctx, "turn failed", "event_id", ev.ID, "identity", ev.Identity, "error", err)
		}
		res.Outcomes = append(res.Outcomes, EventOutcome{EventID: ev.ID, Outcome: outcome})
	}
	return res, nil
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	res, err := s.Deliver(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, ErrBadSignature):
		s.logger.WarnContext(r.Context(), "webhook rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	case err != nil:
		s.logger.WarnContext(r.Context(), "webhook rejected", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Sign computes the SignatureHeader value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validSignature(body []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !hmac.Equal([]byte(got), []byte(s.adminToken)) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sessions.List(r.Context())
	if err != nil {
		s.fail(w, r, "list conversations", err)
		return
	}
	if ids == nil {
		ids = []domain.Identity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"identities": ids})
}

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rec, err := s.sessions.Start(r.Context(), req)
	if err != nil && rec == nil {
		s.fail(w, r, "start conversation", err)
		return
	}
	if err != nil {
		// Created, but the first prompt did not go out.
		s.logger.WarnContext(r.Context(), "conversation started without prompt", "identity", rec.Identity, "error", err)
		writeJSON(w, http.StatusAccepted, rec)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Inspect(r.Context(), identityParam(r))
	if err != nil {
		s.fail(w, r, "inspect conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), identityParam(r)); err != nil {
		s.fail(w, r, "delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) abandonConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Abandon(r.Context(), identityParam(r)); err != nil {
		s.fail(w, r, "abandon conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func identityParam(r *http.Request) domain.Identity {
	return domain.Normalize(chi.URLParam(r, "identity"))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownConversationType), errors.Is(err, session.ErrIdentityRequired):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
