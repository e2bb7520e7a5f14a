// Package www serves the operator HTTP API.
package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cleanee/engine"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	eventHub *EventHub
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		eventHub: NewEventHub(func() interface{} { return eng.Status() }),
	}

	h.eventHub.Start()
	subID := h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// SSE is not compressed; flushes must reach the client unbuffered.
	r.Get("/events", h.eventHub.HandleSSE)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Get("/status", h.apiStatus)
		r.Get("/log/{kind}", h.apiLog)
		r.Post("/autonomy", h.apiResetAutonomy)
	})

	return r, func() {
		eng.Events.Unsubscribe(subID)
		h.eventHub.Stop()
	}
}
