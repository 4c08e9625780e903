// Package node assembles and runs a squeaknode from its configuration.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/authutil"
	"github.com/yzernik/squeakroad-sub000/internal/bitcoin"
	"github.com/yzernik/squeakroad-sub000/internal/config"
	"github.com/yzernik/squeakroad-sub000/internal/control"
	"github.com/yzernik/squeakroad-sub000/internal/engine"
	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/ledger"
	"github.com/yzernik/squeakroad-sub000/internal/lightning"
	"github.com/yzernik/squeakroad-sub000/internal/logging"
	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/offercache"
	"github.com/yzernik/squeakroad-sub000/internal/peerclient"
	"github.com/yzernik/squeakroad-sub000/internal/peerserver"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
	"github.com/yzernik/squeakroad-sub000/internal/statusserver"
	"github.com/yzernik/squeakroad-sub000/internal/storage"
	"github.com/yzernik/squeakroad-sub000/internal/ui"
	"github.com/yzernik/squeakroad-sub000/internal/workers"
)

// App owns every long-lived component of a node.
type App struct {
	Cfg        *config.Config
	Params     squeak.Params
	Controller *control.Controller
	Metrics    *metrics.Metrics

	store     *storage.Store
	journal   *storage.Journal
	bitcoin   *bitcoin.Client
	lightning lightning.Client
	closeLN   func() error
	offers    offercache.Cache
	bus       *eventbus.Bus
	ledger    *ledger.Ledger
	peerSrv   *peerserver.Server
	statusSrv *statusserver.Server
	dashboard *ui.Dashboard
	workers   []*workers.Worker
	log       zerolog.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	wg           sync.WaitGroup
	startOnce    sync.Once
	shutdownOnce sync.Once
	doneOnce     sync.Once
}

// NewApp connects to the database, bitcoind and the lightning node and wires
// the components. Nothing runs until Start.
func NewApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	params, err := squeak.ParamsForNetwork(cfg.Node.Network)
	if err != nil {
		return nil, err
	}
	a := &App{
		Cfg:     cfg,
		Params:  params,
		Metrics: metrics.New(),
		log:     logging.For(logger, "node"),
		done:    make(chan struct{}),
	}
	if err := a.open(ctx, logger); err != nil {
		a.closeResources()
		return nil, err
	}
	a.wire(logger)
	return a, nil
}

func (a *App) open(ctx context.Context, logger zerolog.Logger) error {
	cfg := a.Cfg
	var err error
	if a.store, err = storage.Open(ctx, cfg.DB); err != nil {
		return err
	}
	if err := a.store.Init(ctx); err != nil {
		return err
	}
	if a.journal, err = storage.OpenJournal(cfg.Journal.Path); err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if a.bitcoin, err = bitcoin.Dial(cfg.Bitcoin, logging.For(logger, "bitcoin")); err != nil {
		return err
	}
	if err := a.bitcoin.CheckNetwork(ctx, a.Params); err != nil {
		return err
	}
	if a.lightning, a.closeLN, err = dialLightning(cfg, logging.For(logger, "lightning")); err != nil {
		return err
	}
	if a.offers, err = openOfferCache(ctx, cfg); err != nil {
		return err
	}
	return nil
}

func dialLightning(cfg *config.Config, logger zerolog.Logger) (lightning.Client, func() error, error) {
	switch cfg.Lightning.Backend {
	case "lnd":
		c, err := lightning.DialLND(cfg.Lightning, cfg.Node.InvoiceExpiryS, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case "clightning":
		c := lightning.NewCLightningClient(cfg.Lightning.CLightningRPCFile, cfg.Node.InvoiceExpiryS, logger)
		return c, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown lightning backend %q", cfg.Lightning.Backend)
}

func openOfferCache(ctx context.Context, cfg *config.Config) (offercache.Cache, error) {
	switch cfg.OfferCache.Backend {
	case "", "memory":
		return offercache.NewMemory(), nil
	case "redis":
		return offercache.NewRedis(ctx, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return nil, fmt.Errorf("unknown offer cache backend %q", cfg.OfferCache.Backend)
}

func (a *App) wire(logger zerolog.Logger) {
	cfg := a.Cfg
	a.bus = eventbus.New(logger)
	eng := engine.New(a.store, a.bitcoin, a.lightning, a.bus, a.Metrics, engine.Config{
		MaxSqueaks:                     cfg.Node.MaxSqueaks,
		MaxSqueaksPerPublicKeyPerBlock: cfg.Node.MaxSqueaksPerPublicKeyPerBlock,
		SqueakRetention:                cfg.Node.SqueakRetention(),
		SentOfferRetentionS:            cfg.Node.SentOfferRetentionS,
		ReceivedOfferRetentionS:        cfg.Node.ReceivedOfferRetentionS,
		LightningExternalHost:          cfg.Lightning.ExternalHost,
		LightningExternalPort:          cfg.Lightning.ExternalPort,
	}, logger)
	a.ledger = ledger.New(a.store, a.lightning, a.bus, a.Metrics, cfg.Node.SubscribeInvoicesRetry(), logger)

	peers, err := peerclient.New(peerclient.Options{
		Timeout:           cfg.PeerClient.Timeout(),
		RequestsPerSecond: cfg.PeerClient.RequestsPerSecond,
		TorProxyAddr:      cfg.Tor.TorProxyAddr(),
	}, logger)
	if err != nil {
		a.log.Warn().Err(err).Msg("tor proxy unavailable, onion peers disabled")
		peers, _ = peerclient.New(peerclient.Options{
			Timeout:           cfg.PeerClient.Timeout(),
			RequestsPerSecond: cfg.PeerClient.RequestsPerSecond,
		}, logger)
	}

	a.Controller = control.New(control.Deps{
		Store:  a.store,
		Engine: eng,
		Chain:  a.bitcoin,
		Offers: a.offers,
		Peers:  peers,
		Ledger: a.ledger,
		Bus:    a.bus,
	}, control.Config{
		Params:                a.Params,
		Username:              cfg.Node.Username,
		PriceMsat:             cfg.Node.PriceMsat,
		ExternalAddress:       cfg.Server.ExternalAddress,
		ExternalPort:          uint16(cfg.Server.ExternalPort),
		InterestBlockInterval: cfg.Node.InterestBlockInterval,
	}, logger)

	a.peerSrv = peerserver.New(a.Controller, a.Metrics, cfg.Server.MaxConcurrentRequests, logger)

	if cfg.Status.Enabled {
		issuer, err := authutil.NewIssuer(cfg.Status.TokenSecret, 0)
		if err != nil {
			a.log.Error().Err(err).Msg("status server disabled")
		} else {
			a.statusSrv = statusserver.New(a.Controller, a.journal, a.store.DB(), issuer, a.Metrics, statusserver.Options{
				Username:       cfg.Status.Username,
				PasswordHash:   cfg.Status.PasswordHash,
				AllowedOrigins: cfg.Status.AllowedOrigins,
			}, logger)
		}
	}
	if cfg.UI.Enabled {
		a.dashboard = ui.NewDashboard(a.Params.Name)
	}
	a.workers = newWorkers(cfg, a.Controller, a.journal, logger)
}

// Done is closed when the node stops on its own, for example when the
// operator quits the dashboard.
func (a *App) Done() <-chan struct{} { return a.done }

func (a *App) closeDone() {
	a.doneOnce.Do(func() { close(a.done) })
}
