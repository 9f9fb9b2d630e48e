// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/examguard/internal/analytics"
	"github.com/tomtom215/examguard/internal/api"
	"github.com/tomtom215/examguard/internal/auth"
	"github.com/tomtom215/examguard/internal/authz"
	"github.com/tomtom215/examguard/internal/cache"
	"github.com/tomtom215/examguard/internal/config"
	"github.com/tomtom215/examguard/internal/flagging"
	"github.com/tomtom215/examguard/internal/ingest"
	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/models"
	"github.com/tomtom215/examguard/internal/notify"
	"github.com/tomtom215/examguard/internal/registry"
	"github.com/tomtom215/examguard/internal/session"
	"github.com/tomtom215/examguard/internal/sessionlock"
	"github.com/tomtom215/examguard/internal/store"
	"github.com/tomtom215/examguard/internal/supervisor"
	"github.com/tomtom215/examguard/internal/supervisor/services"
	ws "github.com/tomtom215/examguard/internal/websocket"
)

// busReadyTimeout bounds how long startup waits for the notification router.
const busReadyTimeout = 10 * time.Second

// app holds every long-lived component of the server.
type app struct {
	cfg *config.Config

	store     *store.Resilient
	badger    *store.BadgerStore
	registry  *registry.Registry
	engine    *flagging.Engine
	enforcer  *authz.Enforcer
	machine   *session.Machine
	bus       *notify.Bus
	evaluator *ingest.Evaluator
	pipeline  *ingest.Pipeline
	analytics *analytics.Aggregator
	hub       *ws.Hub
	server    *http.Server

	// closers run in reverse order on shutdown.
	closers []io.Closer
}

// newApp builds the component graph from cfg. Nothing is started.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.buildStore(); err != nil {
		return nil, err
	}
	if err := a.buildDomain(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.buildSinks(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.buildHTTP(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildStore() error {
	var inner store.Store
	switch a.cfg.Store.Backend {
	case "memory":
		inner = store.NewMemoryStore()
		logging.Warn().Msg("Using in-memory store; sessions are lost on restart")
	default:
		bs, err := store.OpenBadger(badgerConfig(&a.cfg.Store))
		if err != nil {
			return fmt.Errorf("open badger store: %w", err)
		}
		a.badger = bs
		inner = bs
		logging.Info().Str("path", a.cfg.Store.Path).Bool("in_memory", a.cfg.Store.InMemory).Msg("Badger store opened")
	}
	a.store = store.NewResilient(inner, resilienceConfig(&a.cfg.Store))
	a.closers = append(a.closers, a.store)
	return nil
}

func (a *app) buildDomain() error {
	engine, err := flagging.NewEngineFromSettings(a.cfg.Flagging)
	if err != nil {
		return fmt.Errorf("build flagging engine: %w", err)
	}
	a.engine = engine

	enforcer, err := authz.NewEnforcer(enforcerConfig(&a.cfg.Security))
	if err != nil {
		return fmt.Errorf("build authorization enforcer: %w", err)
	}
	a.enforcer = enforcer
	a.closers = append(a.closers, closerFunc(func() error { enforcer.Close(); return nil }))

	locks := sessionlock.New()
	a.bus = notify.NewBus(busConfig(&a.cfg.Notify))
	a.closers = append(a.closers, a.bus)

	a.machine = session.NewMachine(a.store, locks, a.bus, enforcer, session.WithPolicy(sessionPolicy(&a.cfg.Session)))
	a.evaluator = ingest.NewEvaluator(engine, a.store, a.machine, evaluatorConfig(&a.cfg.Ingest))

	a.registry = registry.New(a.store)
	a.registry.OnConnectionLost(a.connectionLost)

	a.pipeline = ingest.NewPipeline(a.store, a.registry, locks, a.evaluator, pipelineConfig(&a.cfg.Ingest))
	a.analytics = analytics.NewAggregator(a.store, a.cfg.Analytics.CacheSize)
	a.hub = ws.NewHub(a.registry, a.pipeline, a.analytics, hubConfig(&a.cfg.WebSocket))
	return nil
}

// connectionLost hands registry disconnects to the state machine. It runs on
// the goroutine that dropped the connection, so it gets its own context.
func (a *app) connectionLost(conn models.Connection, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WebSocket.OperationTimeout)
	defer cancel()
	ctx = logging.ContextWithSessionID(logging.ContextWithNewCorrelationID(ctx), conn.SessionID)

	if err := a.machine.ConnectionLost(ctx, conn, reason); err != nil {
		logging.CtxErr(ctx, err).Str("connection_id", conn.ID).Msg("Failed to record connection loss")
	}
}

func (a *app) buildSinks() error {
	a.bus.AddSink(notify.NewHubSink(a.hub, a.cfg.Notify.DedupSize))
	a.bus.AddSink(ingest.NewRetentionSink(a.pipeline))

	if url := a.cfg.Notify.RedisURL; url != "" {
		sink, err := notify.NewRedisSink(url, a.cfg.Notify.RedisChannel)
		if err != nil {
			return fmt.Errorf("redis sink: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sink.Ping(ctx); err != nil {
			// Deliveries retry through the bus once Redis comes back.
			logging.Warn().Err(err).Msg("Redis not reachable at startup")
		}
		cancel()
		a.bus.AddSink(sink)
		a.closers = append(a.closers, sink)
	}

	if len(a.cfg.Notify.KafkaBrokers) > 0 {
		sink, err := notify.NewKafkaSink(kafkaConfig(&a.cfg.Notify))
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		a.bus.AddSink(sink)
		a.closers = append(a.closers, sink)
	}
	return nil
}

func (a *app) buildHTTP() error {
	jwtManager, err := auth.NewJWTManager(&a.cfg.Security)
	if err != nil {
		return fmt.Errorf("build JWT manager: %w", err)
	}

	handler := api.NewHandler(api.HandlerDeps{
		Sessions: a.machine,
		Reader:   a.store,
		Summary:  a.analytics,
		Rules:    a.engine,
		Breaker:  a.store,
		Hub:      a.hub,
		Config:   a.cfg,
		Caches: map[string]func() cache.Stats{
			"ingest_dedup":    a.pipeline.DedupStats,
			"analytics_cache": a.analytics.CacheStats,
		},
	})
	router := api.NewRouter(handler,
		api.NewChiMiddlewareFromSecurity(&a.cfg.Security),
		auth.NewMiddleware(jwtManager, api.WriteAuthFailure),
		authz.NewMiddleware(a.enforcer, api.WriteAuthFailure),
	)

	a.server = &http.Server{
		Addr:              net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.Timeout,
		IdleTimeout:       2 * a.cfg.Server.Timeout,
	}
	return nil
}

// run starts the supervisor tree and blocks until ctx is cancelled or the
// tree stops on its own.
func (a *app) run(ctx context.Context) error {
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeConfig(&a.cfg.Supervisor))
	if err != nil {
		return err
	}

	if a.badger != nil {
		tree.AddDataService(store.NewGCService(a.badger))
	}
	tree.AddMessagingService(a.bus)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	if err := tree.AwaitReady(ctx, a.bus.String(), a.bus.Running(), busReadyTimeout); err != nil {
		cancel()
		<-errCh
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	for _, svc := range []suture.Service{
		a.evaluator,
		a.hub,
		registry.NewSweeper(a.registry, a.cfg.Registry.SweepInterval, a.cfg.Registry.IdleTimeout,
			registry.WithSweptHandler(func(conn models.Connection) {
				a.hub.CloseConnection(conn.ID, registry.ReasonIdleTimeout)
			})),
	} {
		tree.AddMessagingService(svc)
	}
	tree.AddAPIService(services.NewHTTPServerService(a.server, a.cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", a.server.Addr).
		Str("store", a.cfg.Store.Backend).
		Int("rules", len(a.engine.Rules())).
		Msg("Examguard started")

	err = <-errCh
	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// close releases resources in reverse creation order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logging.Warn().Err(err).Msg("Error during shutdown")
		}
	}
	a.closers = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
