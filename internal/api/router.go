package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Harshitk-cp/memlayer/internal/api/handlers"
	mw "github.com/Harshitk-cp/memlayer/internal/api/middleware"
	"github.com/Harshitk-cp/memlayer/internal/auth"
	"github.com/Harshitk-cp/memlayer/internal/buildconfig"
	"github.com/Harshitk-cp/memlayer/internal/config"
	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/embedding"
	"github.com/Harshitk-cp/memlayer/internal/metrics"
	"github.com/Harshitk-cp/memlayer/internal/notify"
	"github.com/Harshitk-cp/memlayer/internal/service"
	"github.com/Harshitk-cp/memlayer/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router  *chi.Mux
	Expirer *service.ExpirerService
	Hub     *notify.Hub
	Metrics *metrics.Metrics

	redis         *redis.Client
	stopRateLimit func()
}

// Services bundles the engine for callers that need it without HTTP, such as
// memctl.
type Services struct {
	Lifecycle *service.LifecycleService
	Gate      *service.GateService
	Audit     *service.AuditService
	Context   *service.ContextService
	Episodic  *service.EpisodicService
	Sessions  *service.SessionService
	Expirer   *service.ExpirerService
}

// NewServices builds the services over Postgres stores from the environment.
// Notifications go to n when it is non-nil.
func NewServices(db *pgxpool.Pool, n service.Notifier, logger *zap.Logger) (*Services, error) {
	memoryStore := store.NewMemoryStore(db)
	auditStore := store.NewAuditStore(db)
	candidateStore := store.NewCandidateStore(db)
	sessionStore := store.NewSessionStore(db)
	embeddingIndex := store.NewEmbeddingIndex(db)

	embeddingProvider := config.EmbeddingProvider()
	embeddingClient, err := embedding.NewClient(embeddingProvider, config.EmbeddingAPIKey(), config.EmbeddingBaseURL())
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	if embeddingClient != nil {
		logger.Info("embedding client initialized", zap.String("provider", embeddingProvider))
	}

	var index domain.EmbeddingIndex
	if embeddingClient != nil {
		index = embeddingIndex
	}
	matcher, err := service.NewMatcher(config.MatchProvider(), embeddingClient, index, logger)
	if err != nil {
		return nil, err
	}

	unredact, err := service.ParseUnredactPolicy(config.UnredactPolicy())
	if err != nil {
		return nil, err
	}
	gateCfg := service.GateConfig{
		Threshold:                   config.GateThreshold(),
		AutoStoreAboveThreshold:     config.GateAutoStore(),
		RequireReviewBelowThreshold: config.GateRequireReview(),
		DefaultImportance:           config.DefaultImportance(),
		DefaultDecayRate:            config.DefaultDecayRate(),
	}
	if err := gateCfg.Validate(); err != nil {
		return nil, err
	}
	weights := service.ContextWeights{
		Strength:   config.ContextWeightStrength(),
		Importance: config.ContextWeightImportance(),
		Match:      config.ContextWeightMatch(),
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	lifecycle := service.NewLifecycleService(memoryStore, auditStore, service.LifecycleConfig{
		AuditReads:     config.AuditReads(),
		UnredactPolicy: unredact,
	}, logger)
	gate := service.NewGateService(memoryStore, candidateStore, gateCfg, logger)
	if embeddingClient != nil {
		lifecycle.SetEmbedding(embeddingClient, embeddingIndex)
		gate.SetEmbedding(embeddingClient, embeddingIndex)
	}
	if n != nil {
		lifecycle.SetNotifier(n)
		gate.SetNotifier(n)
	}

	expirer := service.NewExpirerService(lifecycle, gate, logger)
	expirer.SetInterval(config.ExpirerInterval())
	expirer.SetPendingTTL(config.PendingTTL())

	return &Services{
		Lifecycle: lifecycle,
		Gate:      gate,
		Audit:     service.NewAuditService(memoryStore, auditStore, logger),
		Context:   service.NewContextService(memoryStore, matcher, service.ContextConfig{TopK: config.ContextTopK(), Weights: weights}, logger),
		Episodic:  service.NewEpisodicService(memoryStore, logger),
		Sessions:  service.NewSessionService(sessionStore, logger),
		Expirer:   expirer,
	}, nil
}

// NewResolver builds the bearer-token resolver with its cached role lookup.
func NewResolver(db *pgxpool.Pool, logger *zap.Logger) (*auth.JWT, error) {
	roles := auth.NewRoleCache(store.NewRoleStore(db), config.RoleCacheTTL(), logger)
	return auth.NewJWT(config.JWTSecret(), config.JWTIssuer(), roles)
}

func NewApp(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	hub := notify.NewHub(config.NotifyBuffer(), logger)
	m := metrics.New()
	hub.Subscribe(m.ObserveEvent)

	var rdb *redis.Client
	if url := config.RedisURL(); url != "" {
		var err error
		rdb, err = notify.NewRedisClient(ctx, url)
		if err != nil {
			return nil, err
		}
		hub.Subscribe(notify.NewRedisSink(rdb, config.RedisChannelPrefix(), logger).Handle)
		logger.Info("forwarding notifications to redis", zap.String("prefix", config.RedisChannelPrefix()))
	}

	svcs, err := NewServices(db, hub, logger)
	if err != nil {
		return nil, err
	}
	svcs.Gate.SetObserver(m)
	svcs.Expirer.SetObserver(m)

	resolver, err := NewResolver(db, logger)
	if err != nil {
		return nil, err
	}

	memoryHandler := handlers.NewMemoryHandler(svcs.Lifecycle, svcs.Audit)
	candidateHandler := handlers.NewCandidateHandler(svcs.Gate, svcs.Audit)
	contextHandler := handlers.NewContextHandler(svcs.Context)
	episodeHandler := handlers.NewEpisodeHandler(svcs.Episodic)
	sessionHandler := handlers.NewSessionHandler(svcs.Sessions)

	rateLimit, stopRateLimit := mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst())

	r := chi.NewRouter()
	app := &App{
		Router:        r,
		Expirer:       svcs.Expirer,
		Hub:           hub,
		Metrics:       m,
		redis:         rdb,
		stopRateLimit: stopRateLimit,
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Metrics(m))
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(rateLimit)

	r.Get("/health", healthHandler(db))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.Authenticate(resolver, logger))

		r.Route("/candidates", func(r chi.Router) {
			r.Post("/", candidateHandler.Submit)
			r.Get("/", candidateHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", candidateHandler.Get)
				r.Post("/approve", candidateHandler.Approve)
				r.Post("/reject", candidateHandler.Reject)
				r.Get("/audit", candidateHandler.Audit)
			})
		})

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", memoryHandler.List)
			r.Delete("/", memoryHandler.Clear)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", memoryHandler.Get)
				r.Patch("/", memoryHandler.Edit)
				r.Delete("/", memoryHandler.Delete)
				r.Post("/verify", memoryHandler.Verify)
				r.Post("/unverify", memoryHandler.Unverify)
				r.Post("/redact", memoryHandler.Redact)
				r.Post("/unredact", memoryHandler.Unredact)
				r.Get("/audit", memoryHandler.Audit)
			})
		})

		r.Post("/context", contextHandler.Reconstruct)
		r.Get("/episodes", episodeHandler.View)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Start)
			r.Get("/", sessionHandler.List)
			r.Get("/{id}", sessionHandler.Get)
			r.Post("/{id}/end", sessionHandler.End)
		})
	})

	return app, nil
}

// Start launches the notification hub and the expiry sweep.
func (app *App) Start() {
	app.Hub.Start()
	app.Expirer.Start()
}

// Stop halts background work. Pending notifications are drained first.
func (app *App) Stop() {
	app.Expirer.Stop()
	app.Hub.Stop()
	app.stopRateLimit()
	if app.redis != nil {
		_ = app.redis.Close()
	}
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		version, err := store.SchemaVersion(r.Context(), db)
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		body := map[string]any{"status": "ok", "schema_version": version}
		for k, v := range buildconfig.VersionInfo() {
			body[k] = v
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.MemoryStore     = (*store.MemoryStore)(nil)
	_ domain.AuditStore      = (*store.AuditStore)(nil)
	_ domain.CandidateStore  = (*store.CandidateStore)(nil)
	_ domain.SessionStore    = (*store.SessionStore)(nil)
	_ domain.RoleStore       = (*store.RoleStore)(nil)
	_ domain.EmbeddingIndex  = (*store.EmbeddingIndex)(nil)
	_ domain.EmbeddingClient = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient = (*embedding.MockClient)(nil)
	_ auth.Resolver          = (*auth.JWT)(nil)
	_ service.Notifier       = (*notify.Hub)(nil)
)
