package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// NewRequestIDMiddleware tags every request with a fresh id, exposed in the
// X-Request-Id response header and to handlers via GetRequestID. It runs
// ahead of the rate limiter so rejected requests carry an id as well.
func NewRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _ = EnsureRequestID(w, r)
		next.ServeHTTP(w, r)
	})
}

// EnsureRequestID returns the id of the request, assigning one if none of
// the middlewares did yet.
func EnsureRequestID(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	if requestID := GetRequestID(r); requestID != "" {
		return r, requestID
	}

	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	return r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)), requestID
}

func GetRequestID(r *http.Request) string {
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	return requestID
}
