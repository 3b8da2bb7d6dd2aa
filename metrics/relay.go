package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkrelay_submissions_total",
		Help: "Number of processed proof submissions by outcome",
	}, []string{"outcome"})

	VerificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zkrelay_verification_duration_seconds",
		Help:    "Time spent verifying submitted proofs",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	VerificationQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zkrelay_verification_queue_size",
		Help: "Number of submissions waiting for a verification worker",
	})

	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkrelay_payouts_total",
		Help: "Number of payout attempts by result",
	}, []string{"result"})

	ReplayRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zkrelay_replay_rejections_total",
		Help: "Number of submissions rejected because their proof was already paid",
	})
)
