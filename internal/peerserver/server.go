// Package peerserver serves squeaks, secret keys and offers to other nodes.
package peerserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

const defaultMaxConcurrent = 64

// Backend answers peer requests; control.Controller implements it.
type Backend interface {
	GetSqueak(ctx context.Context, hash squeak.Hash) (*squeak.Squeak, error)
	GetSecretKeyForPeer(ctx context.Context, hash squeak.Hash, peer models.PeerAddress) (*squeak.SecretKey, error)
	GetOfferForPeer(ctx context.Context, hash squeak.Hash, peer models.PeerAddress) (*models.Offer, error)
	LookupSqueaks(ctx context.Context, authors []squeak.PubKey, minBlock, maxBlock int32) ([]squeak.Hash, error)
}

type Server struct {
	backend       Backend
	metrics       *metrics.Metrics
	log           zerolog.Logger
	maxConcurrent int

	httpSrv *http.Server
}

func New(backend Backend, m *metrics.Metrics, maxConcurrent int, logger zerolog.Logger) *Server {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	s := &Server{
		backend:       backend,
		metrics:       m,
		log:           logger.With().Str("component", "peerserver").Logger(),
		maxConcurrent: maxConcurrent,
	}
	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router wires the peer protocol routes. Requests beyond maxConcurrent wait
// for a free slot.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.ThrottleBacklog(s.maxConcurrent, s.maxConcurrent*4, 30*time.Second))
	r.Use(s.countRequests)

	r.Get("/squeak/{hash}", s.squeakHandler())
	r.Get("/secretkey/{hash}", s.secretKeyHandler())
	r.Get("/offer/{hash}", s.offerHandler())
	r.Get("/lookup", s.lookupHandler())
	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.IncPeerRequests()
		next.ServeHTTP(w, r)
	})
}

// Serve blocks until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("peer server listening")
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
