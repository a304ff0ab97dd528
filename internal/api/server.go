package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// updateWait bounds the /api/updates long poll. Kept under the router's
// request timeout so polls return cleanly instead of being cut off.
const updateWait = 25 * time.Second

// NewRouter assembles the HTTP surface: the OAuth callback at the root and
// the JSON API under /api.
func NewRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/callback", h.OAuthCallback)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Get("/logs", h.GetLogs)
		r.Post("/log", h.AppendLog)
		r.Get("/prompts", h.GetPrompt)
		r.Post("/prompts/{promptID}", h.AnswerPrompt)
		r.Get("/open-urls", h.GetOpenURLs)
		r.Get("/updates", h.GetUpdates)
		r.Post("/load-json", h.LoadProduct)

		r.Post("/auth", h.StartAuth)
		r.Get("/auth/status", h.AuthStatus)
		r.Post("/logout", h.Logout)

		r.Post("/scrape", h.Scrape)
		r.Post("/list", h.ListProduct)

		r.Route("/bulk", func(r chi.Router) {
			r.Post("/preview", h.BulkPreview)
			r.Post("/process", h.BulkProcess)
			r.Post("/pause", h.BulkPause)
			r.Post("/resume", h.BulkResume)
			r.Post("/cancel", h.BulkCancel)
		})

		r.Get("/runs", h.GetRuns)
	})

	return r
}
