package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CZERTAINLY/Modulus/internal/boss"
	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/command"
	"github.com/CZERTAINLY/Modulus/internal/metrics"
	"github.com/CZERTAINLY/Modulus/internal/model"
	"github.com/CZERTAINLY/Modulus/internal/modules/payloads"
	"github.com/CZERTAINLY/Modulus/internal/modules/security"
	"github.com/CZERTAINLY/Modulus/internal/modules/storage/dasd"
	"github.com/CZERTAINLY/Modulus/internal/modules/storage/devicetree"
	"github.com/CZERTAINLY/Modulus/internal/store"
)

// installer holds the bus with the published modules and the boss.
type installer struct {
	bus    *bus.Bus
	boss   *boss.Boss
	db     *sql.DB
	pruner gocron.Scheduler
	server *http.Server
}

func newInstaller(ctx context.Context, cfg model.Config) (*installer, error) {
	inst := &installer{bus: bus.New()}
	exe := command.Exec{}

	var paths []string
	if cfg.Modules.Storage {
		bd := dasd.CommandBlockdev{Exec: exe, SysfsRoot: cfg.SysfsRoot}
		m := dasd.New(bd, dasd.WithScan(func() (*devicetree.Tree, error) {
			return devicetree.Scan(bd.SysfsRoot)
		}))
		if err := m.Rescan(); err != nil {
			return nil, fmt.Errorf("scanning storage: %w", err)
		}
		if _, err := dasd.Publish(inst.bus, m); err != nil {
			return nil, fmt.Errorf("publishing storage: %w", err)
		}
		paths = append(paths, bus.DASD.ObjectPath())
	}
	if cfg.Modules.Payloads {
		svc := payloads.New(exe, cfg.Sysroot, cfg.MountDir)
		if _, err := payloads.Publish(inst.bus, svc); err != nil {
			return nil, fmt.Errorf("publishing payloads: %w", err)
		}
		paths = append(paths, bus.Payloads.ObjectPath())
	}
	if cfg.Modules.Security {
		svc := security.New(cfg.Sysroot, exe)
		if _, err := security.Publish(inst.bus, svc); err != nil {
			return nil, fmt.Errorf("publishing security: %w", err)
		}
		paths = append(paths, bus.Security.ObjectPath())
	}

	progress, err := cfg.Service.ProgressEachDuration()
	if err != nil {
		return nil, fmt.Errorf("parsing service.progress_each: %w", err)
	}
	opts := boss.Options{ProgressEvery: progress}

	if cfg.Store != nil {
		db, err := store.InitDB(ctx, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		inst.db = db
		opts.DB = db
		keep, err := cfg.Store.KeepDuration()
		if err != nil {
			inst.Close(ctx)
			return nil, fmt.Errorf("parsing store.keep: %w", err)
		}
		inst.pruner, err = store.NewPruner(ctx, db, cfg.Store.Prune, keep)
		if err != nil {
			inst.Close(ctx)
			return nil, err
		}
	}

	inst.boss = boss.New(inst.bus, opts, paths...)
	if _, err := boss.Publish(inst.bus, inst.boss); err != nil {
		inst.Close(ctx)
		return nil, fmt.Errorf("publishing boss: %w", err)
	}

	if err := metrics.Watch(ctx, inst.bus); err != nil {
		inst.Close(ctx)
		return nil, err
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		inst.serveMetrics(ctx, cfg.Metrics.Listen)
	}
	return inst, nil
}

func (inst *installer) serveMetrics(ctx context.Context, listen string) {
	metrics.RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	inst.server = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.InfoContext(ctx, "serving metrics", "listen", listen)
		if err := inst.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "metrics server failed", "error", err)
		}
	}()
}

func (inst *installer) Close(ctx context.Context) {
	if inst.server != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := inst.server.Shutdown(sctx); err != nil {
			slog.ErrorContext(ctx, "shutting down metrics server", "error", err)
		}
	}
	if inst.pruner != nil {
		if err := inst.pruner.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		}
	}
	if inst.db != nil {
		if err := inst.db.Close(); err != nil {
			slog.ErrorContext(ctx, "closing store", "error", err)
		}
	}
}
