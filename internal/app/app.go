// Package app wires the service together: config, logging, storage, the
// annotation store, the broadcast forwarder, the HTTP gateway, and the
// maintenance schedule.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"pindrop/internal/config"
	"pindrop/internal/eventbus"
	"pindrop/internal/forwarder"
	"pindrop/internal/gateway"
	"pindrop/internal/runtime/supervisor"
	"pindrop/internal/storage"
	"pindrop/internal/store"
	logx "pindrop/pkg/logx"
)

const stopTimeout = 10 * time.Second

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	backend storage.Backend
	bus     eventbus.Bus
	store   *store.Store
	fwd     *forwarder.Forwarder

	httpSrv *http.Server
	addr    string

	cron *cron.Cron
	sup  *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.LoggingSettings())
	mgr.SetLogger(log.With(logx.String("component", "config")))

	storageCfg, err := cfg.StorageSettings()
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(storageCfg, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	broadcastCfg, err := cfg.BroadcastSettings()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	bus := eventbus.New()
	st := store.New(backend, bus, log.With(logx.String("component", "store")))
	fwd := forwarder.New(broadcastCfg, bus, log.With(logx.String("component", "forwarder")))

	a := &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		backend: backend,
		bus:     bus,
		store:   st,
		fwd:     fwd,
		addr:    cfg.Server.Addr,
	}

	gw := gateway.New(gateway.Config{
		Secret:     cfg.Server.Secret,
		CORSOrigin: cfg.Server.CORSOrigin,
	}, st, log.With(logx.String("component", "gateway")), a.healthSnapshot)

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	// Bind before declaring readiness so a bad addr fails startup.
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.addr, err)
	}

	a.sup.Go("http", func(ctx context.Context) error {
		err := a.httpSrv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	a.sup.Go("forwarder", a.fwd.Run)
	a.sup.Go("config-watch", a.cfgMgr.Watch)
	a.sup.Go0("config-apply", a.applyLoop)

	a.startMaintenance()

	// No-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("pindrop started",
		logx.String("addr", a.addr),
		logx.Bool("broadcast", a.fwd.Enabled()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	if a.httpSrv != nil {
		_ = a.httpSrv.Shutdown(ctx)
	}
	if a.cron != nil {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if a.backend != nil {
		_ = a.backend.Close()
	}
	a.log.Info("pindrop stopped")
	_ = a.logSvc.Close()
	return err
}

// applyLoop picks up config reloads. Only the logging section applies live;
// everything else takes effect on restart.
func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.logSvc.Apply(cfg.LoggingSettings())
			a.log.Info("logging config applied")
		}
	}
}

func (a *App) startMaintenance() {
	cfg := a.cfgMgr.Get()
	enabled, schedule := cfg.MaintenanceSettings()
	if !enabled {
		return
	}

	log := a.log.With(logx.String("component", "maintenance"))
	a.cron = cron.New()
	_, err := a.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := a.backend.Maintain(ctx); err != nil {
			log.Warn("backend maintenance failed", logx.Err(err))
			return
		}
		n, err := a.backend.Count(ctx)
		if err != nil {
			log.Warn("backend count failed", logx.Err(err))
			return
		}
		log.Info("backend maintenance done", logx.Int("annotations", n))
	})
	if err != nil {
		log.Warn("invalid maintenance schedule; maintenance disabled", logx.String("schedule", schedule), logx.Err(err))
		a.cron = nil
		return
	}
	a.cron.Start()
}

func (a *App) healthSnapshot() any {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snapshot := map[string]any{"status": "ok"}
	if n, err := a.backend.Count(ctx); err == nil {
		snapshot["annotations"] = n
	} else {
		snapshot["status"] = "degraded"
	}
	sent, dropped := a.fwd.Stats()
	snapshot["broadcast"] = map[string]any{
		"enabled": a.fwd.Enabled(),
		"state":   a.fwd.State().String(),
		"sent":    sent,
		"dropped": dropped,
	}
	return snapshot
}
