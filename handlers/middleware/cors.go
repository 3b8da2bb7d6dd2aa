package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// NewCorsMiddleware lets browser based provers talk to the relay. Origin
// patterns may contain `*` wildcards, a lone `*` allows every origin.
// Preflight requests are answered directly and never reach the handlers.
func NewCorsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	patterns := make([]*regexp.Regexp, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
			continue
		}
		if pattern := compileOrigin(origin); pattern != nil {
			patterns = append(patterns, pattern)
		}
	}

	isAllowed := func(origin string) bool {
		if allowAll {
			return true
		}
		for _, pattern := range patterns {
			if pattern.MatchString(origin) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && isAllowed(origin) {
				header := w.Header()
				header.Set("Access-Control-Allow-Origin", origin)
				header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				header.Set("Access-Control-Allow-Headers", "Content-Type")
				header.Set("Access-Control-Expose-Headers", "X-Request-Id, X-RateLimit-Limit, X-RateLimit-Remaining")
				header.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func compileOrigin(origin string) *regexp.Regexp {
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(origin), `\*`, `[^/]*`) + "$"
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}
	return pattern
}
