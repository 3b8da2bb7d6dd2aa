package handlers

import (
	"net/http"

	"github.com/ethpandaops/zkrelay/handlers/middleware"
)

func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.APIErrorResponse(w, http.StatusNotFound, "not found: "+r.URL.Path)
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.APIErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed: "+r.Method)
}
