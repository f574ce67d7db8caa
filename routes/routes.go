package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/taskpulse/backend/app"
	"github.com/taskpulse/backend/middleware"
	"github.com/taskpulse/backend/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))
	}
	r.Use(middleware.SecurityHeaders(cfg.IsDevelopment()))
	r.Use(deps.Metrics.Middleware)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every route below is classified by the gate; only public paths pass without a token
	r.Use(deps.AuthGate.Middleware)

	r.Get("/", handleRoot)

	// Health check endpoints
	r.Get("/health", deps.HealthHandler.HandleHealth)
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	if cfg.Observability.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	authRoutes := func(r chi.Router) {
		h := deps.AuthHandler
		r.Post("/register", h.HandleRegister)
		r.Post("/login", h.HandleLogin)
		r.Post("/logout", h.HandleLogout)
		r.Post("/password-reset", h.HandlePasswordReset)
		r.Get("/health", h.HandleHealth)
		r.Get("/me", h.HandleMe)
		r.Get("/{user_id}", h.HandleGetUser)
	}
	r.Route("/auth", authRoutes)
	r.Route(middleware.APIVersionPrefix+"/auth", authRoutes)

	r.Route("/api/{user_id}/tasks", func(r chi.Router) {
		h := deps.TaskHandler
		r.Get("/", h.HandleListTasks)
		r.Post("/", h.HandleCreateTask)
		r.Route("/{task_id}", func(r chi.Router) {
			r.Get("/", h.HandleGetTask)
			r.Put("/", h.HandleUpdateTask)
			r.Patch("/", h.HandleSetStatus)
			r.Delete("/", h.HandleDeleteTask)
			r.Patch("/complete", h.HandleToggleComplete)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "endpoint not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "TaskPulse API",
		"status":  "running",
	})
}
