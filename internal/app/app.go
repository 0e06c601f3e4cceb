// Package app assembles the gateway process: config, event store, the UFX
// adapter over either the native dialer or the simulated counter, and the
// optional ops HTTP server.
package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"ufxgate/internal/broker/native"
	"ufxgate/internal/broker/sim"
	"ufxgate/internal/config"
	"ufxgate/internal/gateway"
	"ufxgate/internal/gateway/ufx"
	"ufxgate/internal/logger"
	opshttp "ufxgate/internal/transport/http/ops"
)

// App owns the wired components for one gateway process.
type App struct {
	cfg   config.Config
	store *Store
	gw    *ufx.Gateway
	srv   *opshttp.Server
}

// NewApp wires the process from config. An optional downstream publisher
// receives the gateway's event stream after the store has recorded it.
func NewApp(cfg config.Config, next gateway.EventPublisher) (*App, error) {
	store := NewStore(next)

	var (
		dialer ufx.Dialer
		md     ufx.MarketData
	)
	if cfg.App.DryRun {
		broker := sim.New(sim.Options{
			Account:   cfg.UFX.FundAccount,
			Password:  cfg.UFX.Password,
			FillDelay: 50 * time.Millisecond,
		})
		dialer, md = broker, broker
		logger.Warnf("dry-run mode: using simulated counter, no real orders will be placed")
	} else {
		dialer = native.Dialer{}
	}

	gw := ufx.New(cfg.UFX, dialer, md, store)

	app := &App{cfg: cfg, store: store, gw: gw}
	if cfg.HTTP.Enabled {
		router, err := opshttp.NewRouter(gw, store)
		if err != nil {
			return nil, err
		}
		srv, err := opshttp.NewServer(cfg.HTTP.Addr, router)
		if err != nil {
			return nil, err
		}
		app.srv = srv
	}
	return app, nil
}

// Gateway exposes the adapter, mainly for embedding hosts.
func (a *App) Gateway() *ufx.Gateway { return a.gw }

// Store exposes the state snapshot the ops API reads.
func (a *App) Store() *Store { return a.store }

// Run starts the background loops, connects the session and blocks until ctx
// is cancelled. Shutdown tears the session down before returning.
func (a *App) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return a.gw.Run(ctx) })
	if a.srv != nil {
		grp.Go(func() error { return a.srv.Run(ctx) })
	}

	if err := a.gw.Connect(); err != nil {
		return err
	}
	for _, symbol := range a.cfg.Subscribe.Symbols {
		if err := a.gw.Subscribe(gateway.SubscribeRequest{Symbol: symbol}); err != nil {
			logger.Warnf("subscribe %s failed: %v", symbol, err)
		}
	}

	<-ctx.Done()
	a.gw.Disconnect()
	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
