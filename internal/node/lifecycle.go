package node

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yzernik/squeakroad-sub000/internal/ui"
)

const shutdownTimeout = 5 * time.Second

// Start binds the listeners and launches background loops.
func (a *App) Start(ctx context.Context) error {
	var err error
	a.startOnce.Do(func() {
		a.ctx, a.cancel = context.WithCancel(ctx)
		err = a.start()
	})
	return err
}

func (a *App) start() error {
	cfg := a.Cfg
	peerLn, err := net.Listen("tcp", cfg.Server.ListenAddr())
	if err != nil {
		return err
	}
	a.goServe("peer server", func() error { return a.peerSrv.Serve(peerLn) })

	if a.statusSrv != nil {
		statusLn, err := net.Listen("tcp", cfg.Status.ListenAddr())
		if err != nil {
			return err
		}
		a.goServe("status server", func() error { return a.statusSrv.Serve(statusLn) })
	}

	if err := startRecorder(a.ctx, &a.wg, a.bus, a.journal, a.log); err != nil {
		return err
	}
	if err := startFollowWatcher(a.ctx, &a.wg, a.bus, a.Controller, a.log); err != nil {
		return err
	}
	a.ledger.Start(a.ctx)
	for _, w := range a.workers {
		w.Start(a.ctx)
	}
	if a.dashboard != nil {
		if err := a.startDashboard(); err != nil {
			return err
		}
	}
	a.log.Info().Str("network", a.Params.Name).Str("addr", cfg.Server.ListenAddr()).Msg("node started")
	return nil
}

func (a *App) goServe(name string, serve func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := serve(); err != nil {
			a.log.Error().Err(err).Str("server", name).Msg("server stopped")
			a.closeDone()
		}
	}()
}

func (a *App) startDashboard() error {
	squeaks, err := a.Controller.SubscribeSqueakEntries()
	if err != nil {
		return err
	}
	payments, err := a.Controller.SubscribeReceivedPayments()
	if err != nil {
		squeaks.Cancel()
		return err
	}
	feed := &ui.Feed{
		Squeaks:  squeaks,
		Payments: payments,
		Counters: a.Metrics.Snapshot,
		Interval: time.Second,
		Log:      a.log,
	}
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		feed.Run(a.ctx, a.dashboard)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.dashboard.Run(a.ctx); err != nil {
			a.log.Error().Err(err).Msg("dashboard failed")
		}
		a.closeDone()
	}()
	return nil
}

// Shutdown stops servers and loops, then releases connections.
func (a *App) Shutdown() {
	if a == nil {
		return
	}
	a.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if a.peerSrv != nil {
			if err := a.peerSrv.Shutdown(ctx); err != nil {
				a.log.Warn().Err(err).Msg("peer server shutdown")
			}
		}
		if a.statusSrv != nil {
			if err := a.statusSrv.Shutdown(ctx); err != nil {
				a.log.Warn().Err(err).Msg("status server shutdown")
			}
		}
		for _, w := range a.workers {
			w.Close()
		}
		if a.ledger != nil {
			a.ledger.Stop()
		}
		if a.cancel != nil {
			a.cancel()
		}
		if a.bus != nil {
			a.bus.Close()
		}
		a.wg.Wait()
		a.closeResources()
		a.closeDone()
		a.log.Info().Msg("node stopped")
	})
}

func (a *App) closeResources() {
	if a.offers != nil {
		_ = a.offers.Close()
	}
	if a.closeLN != nil {
		_ = a.closeLN()
	}
	a.bitcoin.Close()
	_ = a.journal.Close()
	_ = a.store.Close()
}

// WaitForShutdown blocks on SIGINT/SIGTERM or the node stopping by itself,
// then shuts it down.
func WaitForShutdown(app *App) {
	if app == nil {
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case <-sig:
	case <-app.Done():
	}
	app.log.Info().Msg("shutting down...")
	app.Shutdown()
}
