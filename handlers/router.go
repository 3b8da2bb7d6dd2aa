package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/urfave/negroni"

	"github.com/ethpandaops/zkrelay/handlers/middleware"
	"github.com/ethpandaops/zkrelay/metrics"
)

type RouterOptions struct {
	CorsOrigins   []string
	RateLimit     *middleware.RateLimitMiddleware
	MetricsPublic bool
}

// NewRouter builds the relay http handler.
func NewRouter(relay *RelayHandler, opts RouterOptions) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.NewCorsMiddleware(opts.CorsOrigins))

	router.HandleFunc("/", relay.Index).Methods("GET")

	postRouter := router.Path("/post").Subrouter()
	postRouter.Use(middleware.NewRequestIDMiddleware)
	if opts.RateLimit != nil {
		postRouter.Use(opts.RateLimit.Middleware)
	}
	postRouter.Methods("POST", "OPTIONS").HandlerFunc(relay.Post)

	if opts.MetricsPublic {
		router.Handle("/metrics", metrics.GetMetricsHandler()).Methods("GET")
	}

	router.NotFoundHandler = http.HandlerFunc(NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(MethodNotAllowed)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseHandler(router)
	return n
}
