package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/genflow-studio/engine/internal/api/handlers"
	mw "github.com/genflow-studio/engine/internal/api/middleware"
	"github.com/genflow-studio/engine/internal/services"
)

type Dependencies struct {
	// JWTSecret enables bearer auth on /api/v1 when set.
	JWTSecret   []byte
	Registry    *services.Registry
	ReadyChecks map[string]handlers.ReadyCheck

	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(dep Dependencies) http.Handler {
	if dep.RateLimitRPS <= 0 {
		dep.RateLimitRPS = 50
	}
	if dep.RateLimitBurst <= 0 {
		dep.RateLimitBurst = 100
	}

	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(dep.RateLimitRPS, dep.RateLimitBurst))
	r.Use(chimid.Compress(5))

	hh := handlers.NewHealthHandler(dep.ReadyChecks)
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	canvases := handlers.NewCanvasesHandler(dep.Registry)
	graph := handlers.NewGraphHandler(dep.Registry)
	gen := handlers.NewGenerationHandler(dep.Registry)
	hist := handlers.NewHistoryHandler(dep.Registry)
	workflows := handlers.NewWorkflowsHandler(dep.Registry)
	stream := handlers.NewStreamHandler(dep.Registry)

	r.Route("/api/v1", func(api chi.Router) {
		if len(dep.JWTSecret) > 0 {
			api.Use(mw.Auth(dep.JWTSecret))
		}

		api.Route("/canvases", func(cr chi.Router) {
			cr.Get("/", canvases.List)
			cr.Post("/", canvases.Create)

			cr.Route("/{id}", func(c chi.Router) {
				c.Get("/", canvases.Get)
				c.Delete("/", canvases.Delete)
				c.Put("/lock", canvases.Lock)
				c.Get("/export", canvases.Export)
				c.Post("/import", canvases.Import)
				c.Get("/gallery", canvases.Gallery)
				c.Get("/stream", stream.Stream)

				c.Post("/nodes", graph.CreateNode)
				c.Route("/nodes/{nodeID}", func(n chi.Router) {
					n.Patch("/", graph.UpdateNode)
					n.Delete("/", graph.DeleteNode)
					n.Put("/position", graph.MoveNode)
					n.Post("/duplicate", graph.DuplicateNode)
				})
				c.Post("/edges", graph.CreateEdge)
				c.Delete("/edges/{edgeID}", graph.DeleteEdge)
				c.Post("/groups", graph.CreateGroup)
				c.Post("/groups/{groupID}/ungroup", graph.Ungroup)

				c.Post("/generate", gen.Generate)
				c.Delete("/error", gen.DismissError)

				c.Post("/undo", hist.Undo)
				c.Post("/redo", hist.Redo)
				c.Post("/shortcut", hist.Shortcut)

				c.Post("/workflows", workflows.Save)
				c.Get("/workflows", workflows.List)
				c.Post("/workflows/{version}/load", workflows.Load)
			})
		})
	})

	return r
}
