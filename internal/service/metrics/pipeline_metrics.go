package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	RoundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "alertgate",
			Subsystem: "pipeline",
			Name:      "round_duration_seconds",
			Help:      "Duration of detection rounds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"origin"},
	)

	CandidateScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "alertgate",
			Subsystem: "pipeline",
			Name:      "candidate_score",
			Help:      "Priority score of detected candidates",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
		[]string{"tier"},
	)

	CandidatesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertgate",
			Subsystem: "pipeline",
			Name:      "candidates_total",
			Help:      "Candidates produced by detectors and streams",
		},
		[]string{"strategy"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(RoundDuration, CandidateScore, CandidatesDetected)
	})
}
