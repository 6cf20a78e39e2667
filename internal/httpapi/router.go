package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires all API routes. main() wraps the result with the
// middleware chain before serving.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()

	jh := JobsHandler{Runner: d.Runner}
	r.HandleFunc("/jobs", jh.Submit).Methods(http.MethodPost)
	r.HandleFunc("/jobs", jh.List).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", jh.Get).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", jh.Cancel).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{id}/archive", jh.Archive).Methods(http.MethodPost)

	ph := PropertiesHandler{Properties: d.Properties}
	r.HandleFunc("/properties", ph.List).Methods(http.MethodGet)

	eh := EventsHandler{Hub: d.Hub}
	r.HandleFunc("/events", eh.ServeSSE).Methods(http.MethodGet)

	hh := HealthHandler{}
	r.HandleFunc("/health", hh.Health).Methods(http.MethodGet)

	return r
}
