package statusserver

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const slowRequest = 500 * time.Millisecond

type ctxUserKey struct{}

// statusRecorder remembers the response code so requests can be classified
// after the handler returns.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// countRequests feeds the server counters and flags slow routes. Access
// logging itself is left to httplog.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Requests.Add(1)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		switch {
		case rec.status >= 500:
			s.metrics.ServerErrors.Add(1)
		case rec.status >= 400:
			s.metrics.ClientErrors.Add(1)
		}
		if rec.status == http.StatusSwitchingProtocols {
			return
		}
		if took := time.Since(start); took > slowRequest {
			s.log.Warn().
				Str("route", chi.RouteContext(r.Context()).RoutePattern()).
				Dur("took", took).
				Str("remote", r.RemoteAddr).
				Msg("slow status request")
		}
	})
}

// authenticated accepts a bearer token, or a token query parameter for
// browser websockets that cannot set headers.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		username, err := s.issuer.Validate(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey{}, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(h string) string {
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
