package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AaronLay10/SentientTree/internal/api"
	"github.com/AaronLay10/SentientTree/internal/asset"
	"github.com/AaronLay10/SentientTree/internal/blackboard"
	"github.com/AaronLay10/SentientTree/internal/bt"
	"github.com/AaronLay10/SentientTree/internal/config"
	"github.com/AaronLay10/SentientTree/internal/events"
	"github.com/AaronLay10/SentientTree/internal/metrics"
	"github.com/AaronLay10/SentientTree/internal/mqtt"
	"github.com/AaronLay10/SentientTree/internal/runner"
	"github.com/AaronLay10/SentientTree/internal/storage/postgres"
	redisstore "github.com/AaronLay10/SentientTree/internal/storage/redis"
)

var stopOnCompletion bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the configured tree and tick it until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if !debug {
			lvl, err := zapcore.ParseLevel(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("log.level: %w", err)
			}
			logLevel.SetLevel(lvl)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runEngine(ctx, cfg)
	},
}

func init() {
	runCmd.Flags().BoolVar(&stopOnCompletion, "stop-on-completion", false, "Exit once the root node succeeds or fails")
	rootCmd.AddCommand(runCmd)
}

// engine holds the collaborators started for one run so they can be
// released in reverse order.
type engine struct {
	cfg     *config.Config
	log     *events.Log
	metrics *metrics.Collector

	pg     *postgres.Client
	redis  *redisstore.Store
	mqtt   *mqtt.Client
	bus    bt.EventBus
	store  blackboard.Store
	checks []api.Check
}

func runEngine(ctx context.Context, cfg *config.Config) error {
	instanceID := cfg.InstanceID()
	logger := logger.With(zap.String("instance", instanceID))

	e := &engine{
		cfg:     cfg,
		log:     events.NewLog(cfg.Engine.EventBuffer),
		metrics: metrics.New(),
	}
	e.metrics.WatchEventLog(e.log)
	defer e.close(logger)

	if err := e.openStorage(ctx, instanceID, logger); err != nil {
		return err
	}
	e.openBus(logger)

	var bbOpts []blackboard.Option
	if cfg.Engine.ThreadSafeBlackboard {
		bbOpts = append(bbOpts, blackboard.ThreadSafe())
	}
	bb := blackboard.New(bbOpts...)
	if e.store != nil {
		n, err := runner.Restore(ctx, e.store, cfg.Persistence.Backend, instanceID, bb, e.log)
		if err != nil {
			return err
		}
		logger.Info("blackboard restored", zap.String("backend", cfg.Persistence.Backend), zap.Int("keys", n))
	}

	tree, err := e.buildTree(bb, instanceID, logger)
	if err != nil {
		return err
	}

	r := runner.New(tree, runner.Options{
		TickRate:         cfg.Engine.TickRate,
		Store:            e.store,
		Backend:          cfg.Persistence.Backend,
		Scope:            instanceID,
		SaveInterval:     cfg.Persistence.SaveInterval,
		StopOnCompletion: stopOnCompletion,
		Log:              e.log,
		Metrics:          e.metrics,
		Logger:           logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.API.Enabled {
		checks := append([]api.Check{{
			Name: "engine",
			Probe: func(context.Context) error {
				if !r.Running() {
					return errors.New("runner not ticking")
				}
				return nil
			},
		}}, e.checks...)

		server = api.New(api.Options{
			Port: cfg.API.Port,
			Auth: api.NewAuth(api.Credentials{
				AdminUser:    cfg.API.AdminUser,
				AdminPass:    cfg.API.AdminPass,
				OperatorUser: cfg.API.OperatorUser,
				OperatorPass: cfg.API.OperatorPass,
			}),
			TLS:     &api.TLSConfig{CertFile: cfg.API.TLSCert, KeyFile: cfg.API.TLSKey},
			Log:     e.log,
			Metrics: e.metrics,
			Tree:    tree,
			Aborter: r,
			Checks:  checks,
			Logger:  logger,
		})
		go func() {
			if err := server.ListenAndServe(); err != nil {
				serverErr <- err
				cancel()
			}
		}()
	}

	runErr := r.Run(runCtx)

	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api shutdown failed", zap.Error(err))
		}
	}

	select {
	case err := <-serverErr:
		return errors.Join(fmt.Errorf("api server: %w", err), runErr)
	default:
		return runErr
	}
}

func (e *engine) openStorage(ctx context.Context, instanceID string, logger *zap.Logger) error {
	cfg := e.cfg

	if cfg.Postgres.Enabled {
		pg, err := postgres.Open(ctx, postgres.DSN(cfg.Postgres.Password), instanceID)
		e.metrics.SetConnected("postgres", err == nil)
		switch {
		case err != nil && cfg.Persistence.Backend == config.BackendPostgres:
			return err
		case err != nil:
			logger.Warn("postgres unavailable, continuing without it", zap.Error(err))
		default:
			e.pg = pg
			if cfg.Postgres.Events {
				e.log.SetSink(pg)
			}
			e.checks = append(e.checks, api.Check{
				Name:     "postgres",
				Optional: cfg.Persistence.Backend != config.BackendPostgres,
				Probe:    pg.Ping,
			})
		}
	}

	switch cfg.Persistence.Backend {
	case config.BackendPostgres:
		if e.pg != nil {
			e.store = e.pg
		}
	case config.BackendRedis:
		opts := []redisstore.Option{redisstore.WithPrefix(cfg.Redis.Prefix)}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, redisstore.WithTTL(cfg.Redis.TTL))
		}
		rs := redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			e.metrics.SetConnected("redis", false)
			rs.Close()
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		e.metrics.SetConnected("redis", true)
		e.redis = rs
		e.store = rs
		e.checks = append(e.checks, api.Check{Name: "redis", Probe: rs.Ping})
	}
	return nil
}

func (e *engine) openBus(logger *zap.Logger) {
	cfg := e.cfg
	if !cfg.MQTT.Enabled {
		e.bus = events.NewBus()
		return
	}

	var bus *mqtt.Bus
	e.mqtt = mqtt.NewClient(mqtt.Options{
		URL:      cfg.MQTT.URL,
		ClientID: cfg.MQTTClientID(),
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		OnConnect: func() {
			e.metrics.SetConnected("mqtt", true)
			if bus != nil {
				bus.Resubscribe()
			}
		},
		Logger: logger,
	})
	bus = mqtt.NewBus(e.mqtt, cfg.MQTT.TopicPrefix, logger)
	e.bus = bus
	if !e.mqtt.Start() {
		e.metrics.SetConnected("mqtt", false)
	}

	client := e.mqtt
	e.checks = append(e.checks, api.Check{
		Name:     "mqtt",
		Optional: true,
		Probe: func(context.Context) error {
			if !client.IsConnected() {
				return errors.New("mqtt not connected")
			}
			return nil
		},
	})
}

func (e *engine) buildTree(bb *blackboard.Blackboard, instanceID string, logger *zap.Logger) (*bt.Tree, error) {
	cfg := e.cfg
	doc, err := asset.Load(cfg.Engine.Asset)
	if err != nil {
		return nil, err
	}
	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}

	opts := []bt.Option{
		bt.WithID(instanceID),
		bt.WithBlackboard(bb),
		bt.WithLogger(logger),
		bt.WithEventLog(e.log),
		bt.WithMetrics(e.metrics),
		bt.WithEventBus(e.bus),
	}
	if cfg.Engine.Seed != 0 {
		opts = append(opts, bt.WithSeed(cfg.Engine.Seed))
	}

	tree, err := asset.Build(doc, reg, cfg.Engine.Tree, opts...)
	if err != nil {
		return nil, err
	}

	_, _ = e.log.Emit("info", "tree.loaded", "", map[string]interface{}{
		"tree":     cfg.Engine.Tree,
		"instance": instanceID,
		"asset":    cfg.Engine.Asset,
		"nodes":    len(tree.Nodes()),
	})
	logger.Info("tree loaded", zap.String("tree", cfg.Engine.Tree), zap.Int("nodes", len(tree.Nodes())))
	return tree, nil
}

func (e *engine) close(logger *zap.Logger) {
	if e.mqtt != nil {
		e.mqtt.Disconnect()
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if e.pg != nil {
		e.log.SetSink(nil)
		if err := e.pg.Close(); err != nil {
			logger.Warn("postgres close failed", zap.Error(err))
		}
	}
}
