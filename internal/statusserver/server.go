// Package statusserver is the operator's read-only view of a running node:
// health, sale statistics, recent activity and live websocket feeds.
package statusserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/authutil"
	"github.com/yzernik/squeakroad-sub000/internal/control"
	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/storage"
)

// Backend is the slice of control.Controller the status server reads.
type Backend interface {
	GetPaymentSummary(ctx context.Context) (models.PaymentSummary, error)
	SubscribeReceivedPayments() (*eventbus.Iterator[models.ReceivedPayment], error)
	SubscribeSqueakEntries() (*control.EntryIterator, error)
}

type Journal interface {
	Recent(limit int) ([]storage.Activity, error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Options struct {
	Username       string
	PasswordHash   string
	AllowedOrigins []string
}

type Server struct {
	backend Backend
	journal Journal
	db      Pinger
	issuer  *authutil.Issuer
	node    *metrics.Metrics
	opts    Options
	log     zerolog.Logger

	metrics  *Metrics
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func New(backend Backend, journal Journal, db Pinger, issuer *authutil.Issuer, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		backend: backend,
		journal: journal,
		db:      db,
		issuer:  issuer,
		node:    m,
		opts:    opts,
		log:     logger.With().Str("component", "statusserver").Logger(),
		metrics: &Metrics{},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// MetricsSnapshot exposes the server's own counters.
func (s *Server) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(s.log))
	r.Use(s.countRequests)

	r.Get("/healthz", s.healthHandler())
	r.Post("/login", s.loginHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated)
		r.Get("/stats", s.statsHandler())
		r.Get("/activity", s.activityHandler())
		r.Get("/ws/payments", s.paymentsSocket())
		r.Get("/ws/squeaks", s.squeaksSocket())
	})
	return r
}

// Serve blocks until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
