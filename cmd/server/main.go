package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/formrules/forms"
	"github.com/liamcoop/formrules/internal/config"
	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/rules"
)

type Server struct {
	db          *sql.DB       // nil when running on in-memory stores
	redis       *redis.Client // nil when rule caches are in-memory
	manager     *forms.Manager
	router      *chi.Mux
	slowRequest time.Duration
}

// NewServer connects the stores and caches named by cfg and loads every form
func NewServer(cfg *config.Server) (*Server, error) {
	var db *sql.DB
	var store forms.Store

	if cfg.InMemory() {
		logger.Warn("DATABASE_URL not set, forms are kept in memory only")
		store = forms.NewInMemoryStore()
	} else {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store = forms.NewPostgresStore(db)
	}

	cacheCfg := rules.CacheConfig{TTL: cfg.RulesCacheTTL}
	newCache := func(string) rules.RulesCache {
		return rules.NewInMemoryRulesCache(cacheCfg)
	}

	var client *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		newCache = func(formID string) rules.RulesCache {
			return rules.NewRedisRulesCache(client, formID, cacheCfg)
		}
	}

	s, err := newServer(store, newCache)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.redis = client
	if cfg.SlowRequest > 0 {
		s.slowRequest = cfg.SlowRequest
	}
	return s, nil
}

// NewServerWithDB serves the forms stored in db with in-memory rule caches
func NewServerWithDB(db *sql.DB) (*Server, error) {
	s, err := newServer(forms.NewPostgresStore(db), nil)
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

func newServer(store forms.Store, newCache forms.CacheFactory) (*Server, error) {
	var manager *forms.Manager
	if newCache == nil {
		manager = forms.NewManager(store)
	} else {
		manager = forms.NewManagerWithCache(store, newCache)
	}

	if err := manager.LoadAllForms(); err != nil {
		return nil, fmt.Errorf("failed to load forms: %w", err)
	}

	s := &Server{
		manager:     manager,
		slowRequest: 500 * time.Millisecond,
	}
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	// Evaluation
	r.Post("/api/v1/preview", s.handlePreview)
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/forms", func(r chi.Router) {
		r.Get("/", s.handleListForms)
		r.Post("/", s.handleCreateForm)

		r.Route("/{formId}", func(r chi.Router) {
			r.Get("/", s.handleGetForm)
			r.Put("/", s.handleUpdateForm)
			r.Delete("/", s.handleDeleteForm)

			r.Post("/submit", s.handleSubmit)

			// Rule management
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger writes one debug line per request and counts slow ones
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", elapsed.String(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if elapsed > s.slowRequest {
			logger.WarnSlowRequest()
			logger.Info("slow request", args...)
			return
		}
		logger.Debug("request", args...)
	})
}

func (s *Server) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "Optional YAML or JSON settings file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	logOpts := logger.OptionsFromEnv()
	logOpts.Level = cfg.LogLevel
	if err := logger.Configure(logOpts); err != nil {
		logger.Error("logger setup failed", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Port, "in_memory", cfg.InMemory())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "log flush failed: %v\n", err)
	}
}
