package statusserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/models"
)

var (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// stream yields the next value to push, blocking until one exists.
type stream[T any] interface {
	Next(ctx context.Context) (T, error)
	Cancel()
}

func (s *Server) paymentsSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := s.backend.SubscribeReceivedPayments()
		if err != nil {
			http.Error(w, "subscribe failed", http.StatusInternalServerError)
			return
		}
		serveSocket[models.ReceivedPayment](s, w, r, it)
	}
}

func (s *Server) squeaksSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := s.backend.SubscribeSqueakEntries()
		if err != nil {
			http.Error(w, "subscribe failed", http.StatusInternalServerError)
			return
		}
		serveSocket[models.SqueakEntry](s, w, r, it)
	}
}

// serveSocket upgrades the request and forwards it until the client leaves
// or the iterator ends.
func serveSocket[T any](s *Server, w http.ResponseWriter, r *http.Request, it stream[T]) {
	defer it.Cancel()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	s.metrics.SocketsOpened.Add(1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	values := make(chan T)
	go func() {
		defer close(values)
		for {
			v, err := it.Next(ctx)
			if err != nil {
				if !errors.Is(err, eventbus.ErrClosed) && !errors.Is(err, context.Canceled) {
					s.log.Warn().Err(err).Msg("websocket stream failed")
				}
				return
			}
			select {
			case values <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-values:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				return
			}
			s.metrics.SocketMessages.Add(1)
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
