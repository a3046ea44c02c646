package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/complyarc/grc/internal/auth"
	"github.com/complyarc/grc/internal/blob"
	"github.com/complyarc/grc/internal/cache"
	"github.com/complyarc/grc/internal/config"
	"github.com/complyarc/grc/internal/insights"
	"github.com/complyarc/grc/internal/notifications"
	"github.com/complyarc/grc/internal/reports"
	"github.com/complyarc/grc/internal/scheduler"
	"github.com/complyarc/grc/internal/store"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	authService *auth.Service
	userStore   auth.UserStore

	aggregator *reports.Aggregator
	insights   *insights.Engine
	exporter   *reports.Exporter

	reportCache *cache.Cache
	evidence    blob.ObjectStore

	snapshotter *scheduler.Snapshotter
	scheduler   *scheduler.Scheduler

	notificationService *notifications.Service
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithEvidenceStore overrides the evidence blob backend; used by tests.
func WithEvidenceStore(st blob.ObjectStore) ServerOption {
	return func(s *Server) {
		s.evidence = st
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		store:  st,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	s.aggregator = reports.NewAggregator(st.DB(), s.logger)
	s.insights = insights.NewEngine(st.DB(), s.logger)
	s.exporter = reports.NewExporter(s.aggregator)

	if cfg.Redis.Enabled {
		c, err := cache.New(cache.Config{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.ReportTTL,
		}, s.logger)
		if err != nil {
			s.logger.Warn("report cache unavailable, serving uncached", "error", err)
		} else {
			s.reportCache = c
		}
	}

	if s.evidence == nil && cfg.Evidence.Bucket != "" {
		es, err := blob.NewS3Store(context.Background(), blob.Config{
			Bucket:    cfg.Evidence.Bucket,
			Region:    cfg.Evidence.Region,
			KeyPrefix: cfg.Evidence.KeyPrefix,
			Endpoint:  cfg.Evidence.Endpoint,
		})
		if err != nil {
			s.logger.Warn("evidence store unavailable, uploads disabled", "error", err)
		} else {
			s.evidence = es
		}
	}

	s.notificationService = notifications.NewService(notifications.Config{
		Slack: notifications.SlackConfig{
			WebhookURL:  cfg.Notifications.Slack.WebhookURL,
			Channel:     cfg.Notifications.Slack.Channel,
			Username:    "Compliance Bot",
			IconEmoji:   ":clipboard:",
			Enabled:     cfg.Notifications.Slack.Enabled,
			MinSeverity: "low",
		},
		Email: notifications.EmailConfig{
			SMTPHost:    cfg.Notifications.Email.SMTPHost,
			SMTPPort:    cfg.Notifications.Email.SMTPPort,
			Username:    cfg.Notifications.Email.Username,
			Password:    cfg.Notifications.Email.Password,
			From:        cfg.Notifications.Email.From,
			To:          cfg.Notifications.Email.To,
			Enabled:     cfg.Notifications.Email.Enabled,
			MinSeverity: "low",
		},
	}, s.logger)

	var invalidator scheduler.Invalidator
	if s.reportCache != nil {
		invalidator = s.reportCache
	}
	s.snapshotter = scheduler.NewSnapshotter(
		st.DB(), st, s.notificationService, invalidator,
		cfg.Snapshots.AlertThreshold, s.logger,
	)
	s.scheduler = scheduler.New(scheduler.Config{
		Enabled:  cfg.Snapshots.Enabled,
		Schedule: cfg.Snapshots.Schedule,
	}, s.snapshotter, s.logger)

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
				r.Delete("/users/{userID}", s.deleteUser)
			})

			r.Route("/entities", func(r chi.Router) {
				r.Get("/", s.listEntities)
				r.Post("/", s.createEntity)
				r.Get("/{entityID}", s.getEntity)
				r.Delete("/{entityID}", s.deactivateEntity)
				r.Get("/{entityID}/frameworks", s.listEntityFrameworks)
				r.Post("/{entityID}/frameworks", s.assignFramework)
				r.Delete("/{entityID}/frameworks/{frameworkID}", s.unassignFramework)
				r.Get("/{entityID}/controls", s.listControlAssignments)
				r.Post("/{entityID}/controls", s.assignControl)
				r.Delete("/{entityID}/controls/{controlID}", s.unassignControl)
				r.Get("/{entityID}/gaps", s.listAuditGaps)
				r.Post("/{entityID}/gaps", s.createAuditGap)
				r.Get("/{entityID}/history", s.listComplianceHistory)
			})

			r.Route("/frameworks", func(r chi.Router) {
				r.Get("/", s.listFrameworks)
				r.Post("/", s.createFramework)
				r.Get("/{frameworkID}", s.getFramework)
				r.Get("/{frameworkID}/controls", s.listControls)
				r.Post("/{frameworkID}/controls", s.createControl)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.listTasks)
				r.Post("/", s.createTask)
				r.Get("/{taskID}", s.getTask)
				r.Patch("/{taskID}/status", s.updateTaskStatus)
			})

			r.Route("/controls/{controlID}/evidence", func(r chi.Router) {
				r.Get("/", s.listEvidence)
				r.Post("/", s.uploadEvidence)
			})
			r.Get("/evidence/{evidenceID}/download", s.downloadEvidence)
			r.Delete("/evidence/{evidenceID}", s.deleteEvidence)

			r.Post("/gaps/{gapID}/resolve", s.resolveAuditGap)

			r.Route("/reports", func(r chi.Router) {
				r.Get("/overview", s.getOverview)
				r.Get("/frameworks", s.getFrameworksReport)
				r.Get("/controls", s.getControlsReport)
				r.Get("/tasks", s.getTasksReport)
				r.Get("/trends", s.getTrends)
				r.Get("/insights", s.getInsights)
				r.Post("/export", s.exportReport)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Post("/snapshots/run", s.runSnapshotNow)
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Snapshots.Enabled {
		if err := s.scheduler.Start(); err != nil {
			s.logger.Error("failed to start snapshot scheduler", "error", err)
		}
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		if s.reportCache != nil {
			_ = s.reportCache.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
