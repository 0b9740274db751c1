package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"sentinel-sos/internal/admin"
	"sentinel-sos/internal/gate"
	incidenthandler "sentinel-sos/internal/incident/handler"
	incidentmetrics "sentinel-sos/internal/incident/metrics"
	incidentservice "sentinel-sos/internal/incident/service"
	incidentstore "sentinel-sos/internal/incident/store"
	jwttoken "sentinel-sos/internal/jwt_token"
	"sentinel-sos/internal/ledger"
	"sentinel-sos/internal/notify"
	"sentinel-sos/internal/operator"
	"sentinel-sos/internal/platform/config"
	"sentinel-sos/internal/platform/httpserver"
	"sentinel-sos/internal/platform/kafka"
	"sentinel-sos/internal/platform/metrics"
	"sentinel-sos/internal/platform/postgres"
	"sentinel-sos/internal/ratelimit"
	redisclient "sentinel-sos/internal/platform/redis"
	subjecthandler "sentinel-sos/internal/subject/handler"
	subjectmetrics "sentinel-sos/internal/subject/metrics"
	"sentinel-sos/internal/subject/nonce"
	subjectservice "sentinel-sos/internal/subject/service"
	subjectstore "sentinel-sos/internal/subject/store"
	audit "sentinel-sos/pkg/platform/audit"
	"sentinel-sos/pkg/platform/audit/publisher"
	auditkafka "sentinel-sos/pkg/platform/audit/store/kafka"
	auditmemory "sentinel-sos/pkg/platform/audit/store/memory"
	auditpostgres "sentinel-sos/pkg/platform/audit/store/postgres"
	"sentinel-sos/pkg/platform/circuit"
	"sentinel-sos/pkg/platform/middleware/metadata"
	request "sentinel-sos/pkg/platform/middleware/request"
	"sentinel-sos/pkg/platform/middleware/requesttime"
)

// subjectRegistry is what both the subject service and the incident service
// need from subject storage.
type subjectRegistry interface {
	subjectservice.Store
	incidentservice.SubjectDirectory
}

// resources collects everything opened during wiring so it can be released
// in reverse order.
type resources struct {
	closers []func()
}

func (r *resources) add(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	res := &resources{}
	defer res.close()

	// The authority key is loaded before anything listens; a bad key never
	// serves a single request.
	authority, err := loadGate(cfg)
	if err != nil {
		return err
	}

	var db *sql.DB
	if cfg.Storage.Driver == "postgres" {
		db, err = postgres.Open(ctx, cfg.Storage.DatabaseURL, cfg.Storage.MaxConns)
		if err != nil {
			return err
		}
		res.add(func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	incidents, subjects, err := openStores(cfg, db, res)
	if err != nil {
		return err
	}

	auditPublisher, auditLister, err := buildAudit(ctx, cfg, db, log, res)
	if err != nil {
		return err
	}

	nonces, err := buildNonceStore(ctx, cfg, log, res)
	if err != nil {
		return err
	}

	chain, err := ledger.Dial(ctx, cfg.Ledger.RPCURL)
	if err != nil {
		return err
	}
	res.add(chain.Close)
	breaker := circuit.New("ledger",
		circuit.WithFailureThreshold(cfg.Ledger.BreakerFailures),
		circuit.WithCooldown(cfg.Ledger.BreakerCooldown),
	)
	verifier := ledger.New(chain, common.HexToAddress(cfg.Ledger.ContractAddress),
		ledger.WithLogger(log),
		ledger.WithMetrics(ledger.NewMetrics(prometheus.DefaultRegisterer)),
		ledger.WithBreaker(breaker),
		ledger.WithAttemptTimeout(cfg.Ledger.RequestTimeout),
		ledger.WithMaxRetries(int(cfg.Ledger.MaxRetries)),
	)

	hub := notify.NewHub(
		notify.WithLogger(log),
		notify.WithMetrics(notify.NewMetrics()),
		notify.WithAuditPublisher(auditPublisher),
		notify.WithSessionBuffer(cfg.Notifier.SessionBuffer),
		notify.WithWriteTimeout(cfg.Notifier.WriteTimeout),
	)
	hub.Start()
	res.add(hub.Stop)

	tokens := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	validator := jwttoken.NewJWTServiceAdapter(tokens)

	subjectSvc := subjectservice.New(subjects, nonces, tokens, authority,
		subjectservice.WithLogger(log),
		subjectservice.WithAuditPublisher(auditPublisher),
		subjectservice.WithMetrics(subjectmetrics.New()),
		subjectservice.WithNotifier(hub),
		subjectservice.WithNonceTTL(cfg.Auth.NonceTTL),
		subjectservice.WithTokenTTL(cfg.Auth.SubjectTokenTTL),
	)
	incidentSvc := incidentservice.New(incidents, subjects, verifier, authority,
		incidentservice.WithLogger(log),
		incidentservice.WithAuditPublisher(auditPublisher),
		incidentservice.WithMetrics(incidentmetrics.New()),
		incidentservice.WithNotifier(hub),
		incidentservice.WithCounterCrossCheck(cfg.Ledger.CrossCheckCounts),
	)
	statusResolver := incidentservice.NewStatusResolver(incidents, subjects)

	seeds := make([]operator.Seed, 0, len(cfg.Operators))
	for _, s := range cfg.Operators {
		seeds = append(seeds, operator.Seed{Email: s.Email, PasswordHash: s.PasswordHash, Role: s.Role})
	}
	operatorSvc, err := operator.New(seeds, tokens,
		operator.WithLogger(log),
		operator.WithAuditPublisher(auditPublisher),
		operator.WithTokenTTL(cfg.Auth.OperatorTokenTTL),
	)
	if err != nil {
		return err
	}
	if operatorSvc.Count() == 0 {
		log.Warn("no operators configured; dashboard logins will fail")
	}

	proxies, err := metadata.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	httpMetrics := metrics.New()
	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata(proxies...))
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	r.Use(request.LatencyMiddleware(httpMetrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	// The websocket stream is long-lived, so it sits outside the timeout and
	// JSON content-type middleware.
	notify.NewHandler(hub, validator, log).Register(r)

	limitStore := ratelimit.NewMemoryStore()
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Auth.NonceSweep, func() { limitStore.Sweep() }); err != nil {
		return fmt.Errorf("schedule rate limit sweep: %w", err)
	}
	sweeper.Start()
	res.add(func() { <-sweeper.Stop().Done() })
	limiter := ratelimit.NewMiddleware(limitStore, map[ratelimit.EndpointClass]ratelimit.Limit{
		ratelimit.ClassAuth:   {Requests: cfg.RateLimit.AuthPerMinute, Window: time.Minute},
		ratelimit.ClassSubmit: {Requests: cfg.RateLimit.SubmitPerMinute, Window: time.Minute},
	}, log, prometheus.DefaultRegisterer)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Limit(classifyEndpoint))
		r.Use(request.Timeout(cfg.Server.RequestTimeout))
		r.Use(request.ContentTypeJSON)
		subjecthandler.New(subjectSvc, validator, log).Register(r)
		operator.NewHandler(operatorSvc, log).Register(r)
		incidenthandler.New(incidentSvc, statusResolver, validator, log).Register(r)
		if auditLister != nil {
			admin.New(auditLister, cfg.Server.AdminToken, log).Register(r)
		}
	})

	srv := httpserver.New(cfg.Server.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	return g.Wait()
}

func classifyEndpoint(r *http.Request) (ratelimit.EndpointClass, bool) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/auth/"), r.URL.Path == "/api/operators/login":
		return ratelimit.ClassAuth, true
	case r.Method == http.MethodPost && r.URL.Path == "/api/sos":
		return ratelimit.ClassSubmit, true
	}
	return "", false
}

func loadGate(cfg *config.Config) (*gate.Gate, error) {
	pem, err := cfg.AuthorityPEM()
	if err != nil {
		return nil, err
	}
	var opts []gate.GateOption
	if cfg.Authority.LegacyOAEP {
		opts = append(opts, gate.WithLegacyOAEP())
	}
	return gate.New(pem, opts...)
}

func openStores(cfg *config.Config, db *sql.DB, res *resources) (incidentservice.Store, subjectRegistry, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return incidentstore.NewPostgres(db), subjectstore.NewPostgres(db), nil
	case "badger":
		bdb, err := incidentstore.OpenBadger(cfg.Storage.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		res.add(func() { _ = bdb.Close() })
		// Subjects are few and re-register on restart; incidents are the
		// records that must survive.
		return incidentstore.NewBadger(bdb), subjectstore.NewInMemoryStore(), nil
	default:
		return incidentstore.NewInMemoryStore(), subjectstore.NewInMemoryStore(), nil
	}
}

func buildNonceStore(ctx context.Context, cfg *config.Config, log *slog.Logger, res *resources) (subjectservice.NonceStore, error) {
	if cfg.Auth.NonceStore == "redis" {
		client, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		res.add(func() { _ = client.Close() })
		return nonce.NewRedisStore(client.Client), nil
	}
	store := nonce.NewMemoryStore()
	stopSweeper, err := store.StartSweeper(cfg.Auth.NonceSweep, log)
	if err != nil {
		return nil, fmt.Errorf("start nonce sweeper: %w", err)
	}
	res.add(stopSweeper)
	return store, nil
}

// buildAudit picks the primary audit store (postgres when available, memory
// otherwise) and fans out to Kafka when brokers are configured.
func buildAudit(ctx context.Context, cfg *config.Config, db *sql.DB, log *slog.Logger, res *resources) (*publisher.Publisher, audit.Lister, error) {
	var primary audit.Store
	if db != nil {
		primary = auditpostgres.New(db)
	} else {
		primary = auditmemory.NewInMemoryStore()
	}

	var secondaries []audit.Store
	producer, err := kafka.New(ctx, cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	if producer != nil {
		res.add(producer.Close)
		if err := auditkafka.EnsureTopic(ctx, producer, cfg.Kafka.AuditTopic, 3, 1); err != nil {
			return nil, nil, err
		}
		secondaries = append(secondaries, auditkafka.New(producer, cfg.Kafka.AuditTopic))
	}

	store := audit.Fanout(primary, secondaries...)
	p := publisher.NewPublisher(store,
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log),
	)
	res.add(p.Close)

	lister, _ := store.(audit.Lister)
	return p, lister, nil
}
