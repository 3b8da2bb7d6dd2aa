package metrics

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// scrapes closer together than this reuse the gauges of the previous one
const collectInterval = 1 * time.Second

type preCollectFn struct {
	id uint64
	fn func()
}

var preCollect = struct {
	mutex  sync.Mutex
	nextID uint64
	fns    []preCollectFn
}{}

// AddPreCollectFn registers a function refreshing gauges before a scrape.
// The returned func unregisters it again.
func AddPreCollectFn(fn func()) (remove func()) {
	preCollect.mutex.Lock()
	defer preCollect.mutex.Unlock()

	preCollect.nextID++
	id := preCollect.nextID
	preCollect.fns = append(preCollect.fns, preCollectFn{id: id, fn: fn})

	return func() {
		preCollect.mutex.Lock()
		defer preCollect.mutex.Unlock()

		for i, entry := range preCollect.fns {
			if entry.id == id {
				preCollect.fns = append(preCollect.fns[:i:i], preCollect.fns[i+1:]...)
				return
			}
		}
	}
}

func runPreCollectFns() {
	preCollect.mutex.Lock()
	fns := preCollect.fns
	preCollect.mutex.Unlock()

	for _, entry := range fns {
		entry.fn()
	}
}

func preCollectFnCount() int {
	preCollect.mutex.Lock()
	defer preCollect.mutex.Unlock()
	return len(preCollect.fns)
}

// MetricsHandler serves the default prometheus registry.
type MetricsHandler struct {
	handler     http.Handler
	mutex       sync.Mutex
	lastCollect time.Time
}

func GetMetricsHandler() http.Handler {
	return &MetricsHandler{
		handler: promhttp.Handler(),
	}
}

func (mh *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mh.mutex.Lock()
	if time.Since(mh.lastCollect) > collectInterval {
		runPreCollectFns()
		mh.lastCollect = time.Now()
	}
	mh.mutex.Unlock()

	mh.handler.ServeHTTP(w, r)
}

// StartMetricsServer serves /metrics on a dedicated listener, separate from
// the public relay port.
func StartMetricsServer(logger logrus.FieldLogger, host string, port string) (*http.Server, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", GetMetricsHandler())

	srv := &http.Server{
		Addr:              net.JoinHostPort(host, port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}

	logger.Infof("metrics server listening on %v", srv.Addr)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	return srv, nil
}
