package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/codec"
)

// APIErrorResponse writes an error in the relay response shape, so clients
// can decode it like any other rejection.
func APIErrorResponse(w http.ResponseWriter, status int, message string) {
	body, err := codec.EncodeResponse(codec.Failure(message))
	if err != nil {
		logrus.WithError(err).Error("failed to encode API error response")
		http.Error(w, message, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logrus.WithError(err).Debug("failed to write API error response")
	}
}

// GetClientIP returns the address rate limits are keyed by. With proxyCount
// trusted proxies in front of the relay, the client is the proxyCount-th
// entry from the right of X-Forwarded-For. Spoofed entries further left are ignored.
func GetClientIP(r *http.Request, proxyCount uint) string {
	if proxyCount > 0 {
		hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
		if idx := len(hops) - int(proxyCount); idx >= 0 {
			if ip := strings.TrimSpace(hops[idx]); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
