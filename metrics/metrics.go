package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpdateRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valutatrade_update_runs_total",
			Help: "Total number of rate update runs by outcome",
		},
		[]string{"outcome"},
	)

	ProviderFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valutatrade_provider_fetch_total",
			Help: "Total number of provider fetches by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "valutatrade_provider_fetch_duration_seconds",
			Help:    "Provider fetch duration in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CachedPairs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "valutatrade_cached_pairs",
			Help: "Number of pairs written by the last successful update",
		},
	)
)

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "valutatrade_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "valutatrade_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valutatrade_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func ObserveFetch(provider string, startedAt time.Time, err error) {
	ProviderFetchDurationSeconds.WithLabelValues(provider).Observe(time.Since(startedAt).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	ProviderFetchTotal.WithLabelValues(provider, outcome).Inc()
}

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
