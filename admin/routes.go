package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/db2q/db2q/id"
)

// Router returns the admin API router
func (h *AdminHandlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(AuthMiddleware(h.config.Secret))

	r.Get("/health", h.handleHealth)
	r.Get("/stats", h.handleStats)

	r.Route("/mode", func(r chi.Router) {
		r.Get("/", h.handleGetMode)
		r.Put("/", h.handleSetMode)
	})

	r.Route("/topics", func(r chi.Router) {
		r.Get("/", h.handleListTopics)
		r.Post("/{topic}", h.wrapWithTopic(h.handleCreateTopic))
		r.Delete("/{topic}", h.wrapWithTopic(h.handleDropTopic))
	})

	r.Get("/streams", h.handleStreams)

	return r
}

// RegisterRoutes mounts the admin API under /admin
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", handlers.Router()))

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}

// wrapWithTopic parses the {topic} path parameter
func (h *AdminHandlers) wrapWithTopic(fn func(http.ResponseWriter, *http.Request, id.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topicID, err := id.ParseLoose(chi.URLParam(r, "topic"))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		fn(w, r, topicID)
	}
}
