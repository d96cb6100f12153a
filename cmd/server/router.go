package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/quill/internal/api"
	apiMiddleware "github.com/phrazzld/quill/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates the router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.Trace(app.logger))
	r.Use(middleware.Recoverer)

	generationHandler := api.NewGenerationHandler(app.pipeline)
	taskHandler := api.NewTaskHandler(app.taskRunner, app.taskFactory)

	r.Route("/api", func(r chi.Router) {
		if app.config.Auth.JWTSecret != "" {
			r.Use(apiMiddleware.NewAuthMiddleware(app.config.Auth.JWTSecret).Authenticate)
		}

		r.Post("/generate", generationHandler.Generate)
		r.Post("/generate/batch", generationHandler.GenerateBatch)
		r.Delete("/requests/{id}", generationHandler.Cancel)
		r.Get("/generators/health", generationHandler.GeneratorHealth)

		r.Post("/tasks", taskHandler.Submit)
		r.Get("/tasks/{id}", taskHandler.Get)
	})

	r.Get("/health", generationHandler.Health)
	r.Handle("/metrics", promhttp.HandlerFor(app.prometheus.Registry(), promhttp.HandlerOpts{}))

	return r
}
