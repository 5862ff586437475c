package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	auth "github.com/mind-engage/mindengage-testsync/internal/auth/middleware"
	"github.com/mind-engage/mindengage-testsync/internal/exam"
	"github.com/mind-engage/mindengage-testsync/internal/rbac"
)

type Deps struct {
	Pass    Runner
	Runs    RunLister
	Store   exam.Store
	Auth    *auth.AuthService
	Metrics http.Handler
	Logger  *zap.Logger

	Accounts    []auth.Account
	CORSOrigins []string
}

func NewRouter(d Deps) chi.Router {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(d.Auth, d.Accounts...))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))

		pr.With(rbac.Require(rbac.PermSyncRun)).
			Post("/api/sync", TriggerSyncHandler(d.Pass, log))
		pr.With(rbac.Require(rbac.PermSyncView)).
			Get("/api/sync/runs", ListRunsHandler(d.Runs))
		pr.With(rbac.Require(rbac.PermSyncView)).
			Get("/api/test-instances/{tiid}", GetTestInstanceHandler(d.Store))
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
