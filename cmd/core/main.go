// Package main runs the Phaeton sync core: the local-first engine that
// keeps this device's CRM data reconciled with the remote store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/config"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/db"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/device"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/logging"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/realtime"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/remote"
	synccore "github.com/Sugarbait/PhaetonAICRM-sub017/internal/sync"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/sync/queue"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/sync/scheduler"
)

// Version is set at build time
var Version = "0.1.0"

// app holds the wired sync core.
type app struct {
	cfg       *config.Config
	database  *db.DB
	entities  *db.EntityStore
	session   *synccore.Session
	scheduler *scheduler.Scheduler
	channel   *realtime.Channel
}

// buildApp wires storage, device identity, queue, remote client and the
// session from configuration.
func buildApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	meta := db.NewMetaStore(database)
	deviceID, err := device.NewIdentity(meta).DeviceID()
	if err != nil {
		database.Close()
		return nil, err
	}

	token, err := device.NewCredentialStore(meta, deviceID).AuthToken()
	if err != nil {
		database.Close()
		return nil, err
	}

	q, err := queue.Open(db.NewQueueStore(database),
		queue.WithMaxRetries(cfg.Queue.MaxRetries),
		queue.WithMaxSize(cfg.Queue.MaxSize))
	if err != nil {
		database.Close()
		return nil, err
	}

	remoteClient := remote.NewClient(&remote.Config{
		BaseURL:   cfg.Remote.BaseURL,
		AuthToken: token,
		DeviceID:  deviceID,
		Timeout:   cfg.Remote.Timeout.AsDuration(),
	})

	entities := db.NewEntityStore(database)
	session := synccore.NewSession(synccore.Options{
		DeviceID:         deviceID,
		Queue:            q,
		Local:            entities,
		Remote:           remoteClient,
		Schemas:          models.DefaultSchemaRegistry(),
		PolicyFor:        cfg.PolicyFor,
		RemoteTimeout:    cfg.Remote.Timeout.AsDuration(),
		DraftQuietPeriod: cfg.Draft.QuietPeriod.AsDuration(),
	})

	a := &app{
		cfg:       cfg,
		database:  database,
		entities:  entities,
		session:   session,
		scheduler: scheduler.New(session, nil),
	}
	if cfg.Realtime.URL != "" {
		// The live channel doubles as the connectivity signal: a
		// (re)connect drains the offline queue, a drop flips the
		// session offline so new writes queue locally.
		a.channel = realtime.NewChannel(cfg.Realtime.URL, func(connected bool) {
			session.SetRealtimeConnected(connected)
			if err := session.SetOnline(context.Background(), connected); err != nil {
				logging.Error("Reconnect reconciliation failed", err, nil)
			}
		})
	}
	return a, nil
}

// run starts the core and blocks until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	if a.channel != nil {
		refs, err := a.entities.Refs()
		if err != nil {
			return err
		}
		if _, err := a.session.AttachRealtime(a.channel, refs); err != nil {
			return err
		}
		if err := a.channel.Connect(ctx); err != nil {
			// The channel reconnects on its own once the first dial
			// succeeds; a dead endpoint at startup is not fatal.
			logging.Warn("Realtime endpoint unreachable at startup",
				map[string]interface{}{"url": a.cfg.Realtime.URL, "error": err.Error()})
		}
	}

	a.scheduler.Start(ctx)
	logging.Info("Sync core started", map[string]interface{}{"version": Version})

	<-ctx.Done()

	a.scheduler.Stop()
	a.session.Close()
	if a.channel != nil {
		a.channel.Close()
	}
	return a.database.Close()
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(os.Stdout, logging.LogLevel(cfg.Log.Level))

	a, err := buildApp(cfg)
	if err != nil {
		logging.Error("Startup failed", err, nil)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx); err != nil {
		logging.Error("Shutdown error", err, nil)
		os.Exit(1)
	}
}
