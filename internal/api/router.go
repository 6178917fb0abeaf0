package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Handlers    *Handlers
	Logger      zerolog.Logger
	HealthPath  string
	MetricsPath string
	CORSOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get(cfg.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())

	h := cfg.Handlers
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", h.GetState)

		r.Route("/key", func(r chi.Router) {
			r.Get("/", h.GetKey)
			r.Post("/", h.SubmitKey)
			r.Delete("/", h.ClearKey)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", h.ListModels)
			r.Post("/select", h.SelectModel)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.PutSettings)
			r.Post("/structured-input", h.SetStructuredInput)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.SaveTemplate)
			r.Route("/{name}", func(r chi.Router) {
				r.Post("/apply", h.ApplyTemplate)
				r.Delete("/", h.DeleteTemplate)
			})
		})

		r.Route("/conversation", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			r.Delete("/", h.ClearConversation)
		})

		r.Route("/screenshot", func(r chi.Router) {
			r.Post("/", h.AttachScreenshot)
			r.Delete("/", h.ClearScreenshot)
		})

		r.Post("/generate", h.Generate)
		r.Post("/generate/stop", h.StopGenerate)
	})

	return r
}
