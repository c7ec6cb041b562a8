package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"hl-grid-bot/internal/account"
	"hl-grid-bot/internal/alerts"
	"hl-grid-bot/internal/audit"
	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/engine"
	"hl-grid-bot/internal/hl/exchange"
	"hl-grid-bot/internal/hl/rest"
	"hl-grid-bot/internal/hl/ws"
	"hl-grid-bot/internal/metrics"
	"hl-grid-bot/internal/state/sqlite"
	"hl-grid-bot/internal/status"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App owns the long lived collaborators of one bot process and the
// goroutines that serve status around the engine loop.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	exchange *exchange.Client
	engine   *engine.Engine
	hub      *status.Hub
	server   *status.Server
	mirror   *status.Mirror
	redis    *redis.Client
	reporter *alerts.Reporter
	audit    *audit.Writer
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	return newApp(context.Background(), cfg, log)
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	creds := cfg.Credentials
	if creds.WalletAddress == "" {
		return nil, errors.New("HL_WALLET_ADDRESS is required")
	}
	if creds.PrivateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	signer, err := exchange.NewSigner(creds.PrivateKey, cfg.IsMainnet())
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(creds.WalletAddress, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", creds.WalletAddress, signer.Address().Hex())
	}
	user := creds.AccountAddress
	if user == "" {
		user = creds.WalletAddress
	}

	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, store: store}
	if err := a.build(ctx, signer, user); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, signer *exchange.Signer, user string) error {
	cfg, log := a.cfg, a.log
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, cfg.REST.MaxRetries, log)
	exClient, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, cfg.Credentials.VaultAddress, log)
	if err != nil {
		return err
	}
	a.exchange = exClient

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	a.audit, err = audit.New(cfg.Audit, log)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	a.hub = status.NewHub(cfg.Status.Backlog, log)
	eng, err := engine.New(cfg, engine.Deps{
		Info:     restClient,
		Account:  account.New(restClient, log, user),
		Trader:   exClient,
		Leverage: exClient,
		Feed:     ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log),
		Store:    a.store,
		Audit:    a.audit,
		Hub:      a.hub,
		Metrics:  m,
	}, log)
	if err != nil {
		return err
	}
	a.engine = eng

	if cfg.Status.EnabledValue() {
		a.server = status.NewServer(cfg.Status.Address, a.hub, metricsHandler(prom), cfg.Metrics.Path, log)
		if cfg.Status.RedisURL != "" {
			a.mirror, a.redis, err = status.NewRedisMirror(ctx, cfg.Status.RedisURL, cfg.Status.RedisKey, cfg.Status.RedisTTL, log)
			if err != nil {
				return fmt.Errorf("status mirror: %w", err)
			}
		}
	}

	if telegram := alerts.NewTelegram(cfg.Telegram, log); telegram.Enabled() {
		a.reporter = alerts.NewReporter(telegram, cfg.Telegram.Workers, log)
	}
	return nil
}

// metricsHandler keeps a nil *Prometheus from becoming a non-nil handler.
func metricsHandler(prom *metrics.Prometheus) http.Handler {
	if prom == nil {
		return nil
	}
	return prom.Handler()
}

// Run drives the engine until ctx ends or it stops on a fatal error. The
// status server, mirror, reporter and audit writer live exactly as long.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if st, ok := a.exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled", zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
	}

	bgCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if a.audit != nil {
		a.audit.Start(bgCtx)
	}
	if a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.server.Run(bgCtx); err != nil {
				a.log.Error("status server stopped", zap.Error(err))
			}
		}()
	}
	if a.mirror != nil {
		sub := a.hub.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.mirror.Run(bgCtx, sub)
		}()
	}
	if a.reporter != nil {
		sub := a.hub.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.reporter.Run(bgCtx, sub)
		}()
	}

	a.log.Info("grid bot starting",
		zap.String("strategy", a.cfg.Strategy.Type),
		zap.String("symbol", a.cfg.Strategy.Symbol),
		zap.String("network", a.cfg.Network),
	)
	err := a.engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("engine stopped", zap.Error(err))
	}
	return err
}

func (a *App) close() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
