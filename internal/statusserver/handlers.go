package statusserver

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/storage"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type healthPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type statsPayload struct {
	Payments models.PaymentSummary `json:"payments"`
	Node     metrics.Snapshot      `json:"node"`
	Server   MetricsSnapshot       `json:"server"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.HealthChecks.Add(1)
		if s.db == nil {
			writeJSON(w, http.StatusServiceUnavailable, healthPayload{Status: "error", Message: "database unavailable"})
			return
		}
		if err := s.db.PingContext(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health ping failed")
			writeJSON(w, http.StatusServiceUnavailable, healthPayload{Status: "error", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, healthPayload{Status: "ok", Message: "ok"})
	}
}

func (s *Server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.LoginAttempts.Add(1)
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.opts.Username)) == 1
		passErr := bcrypt.CompareHashAndPassword([]byte(s.opts.PasswordHash), []byte(req.Password))
		if !userOK || passErr != nil {
			s.metrics.FailedLogins.Add(1)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		token, err := s.issuer.Issue(req.Username)
		if err != nil {
			http.Error(w, "token error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: req.Username})
	}
}

func (s *Server) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.backend.GetPaymentSummary(r.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("payment summary failed")
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, statsPayload{
			Payments: summary,
			Node:     s.node.Snapshot(),
			Server:   s.metrics.Snapshot(),
		})
	}
}

func (s *Server) activityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultActivityLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxActivityLimit)
		}
		entries, err := s.journal.Recent(limit)
		if err != nil {
			s.log.Error().Err(err).Msg("read journal failed")
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []storage.Activity{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
