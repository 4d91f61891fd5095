// Package metrics exposes OctopusDB's Prometheus instrumentation: command
// throughput by kind, OCC contention, worker utilization, task queue depth,
// TTL evictions, and transaction outcomes.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/octopusdb/octopus/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so multiple instances (one per test,
// one per embedded Octopus instance) never collide on the global default
// registry the way a package-level MustRegister would.
type Collector struct {
	registry *prometheus.Registry

	commandsTotal *prometheus.CounterVec
	commandErrors *prometheus.CounterVec

	occConflicts prometheus.Counter
	occRetries   prometheus.Counter

	workersBusy prometheus.Gauge
	workersIdle prometheus.Gauge

	taskQueueDepth prometheus.Gauge
	ttlEvictions   prometheus.Counter

	txnCommits   prometheus.Counter
	txnRollbacks prometheus.Counter
}

// New builds a Collector with its own registry and registers every metric.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "octopus_commands_total",
			Help: "Total number of commands executed, by kind.",
		}, []string{"kind"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "octopus_command_errors_total",
			Help: "Total number of commands that returned a typed error, by kind.",
		}, []string{"kind"}),
		occConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "octopus_occ_conflicts_total",
			Help: "Total number of OCC Perform calls that returned Conflict.",
		}),
		occRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "octopus_occ_dispatch_retries_total",
			Help: "Total number of dispatch retries after an OCC conflict.",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "octopus_workers_busy",
			Help: "Current number of execution contexts in the Busy state.",
		}),
		workersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "octopus_workers_idle",
			Help: "Current number of execution contexts in the Idle state.",
		}),
		taskQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "octopus_task_queue_depth",
			Help: "Current number of tasks held in the advanced task queue.",
		}),
		ttlEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "octopus_ttl_evictions_total",
			Help: "Total number of keys removed by eager TTL expiry sweeps; keys dropped lazily on access are not counted.",
		}),
		txnCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "octopus_transaction_commits_total",
			Help: "Total number of transactions committed successfully.",
		}),
		txnRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "octopus_transaction_rollbacks_total",
			Help: "Total number of transactions rolled back.",
		}),
	}

	c.registry.MustRegister(
		c.commandsTotal,
		c.commandErrors,
		c.occConflicts,
		c.occRetries,
		c.workersBusy,
		c.workersIdle,
		c.taskQueueDepth,
		c.ttlEvictions,
		c.txnCommits,
		c.txnRollbacks,
	)
	return c
}

// RecordCommand records one execution of kind, and a command error if err
// is non-nil.
func (c *Collector) RecordCommand(kind types.Kind, err error) {
	c.commandsTotal.WithLabelValues(kind.String()).Inc()
	if err != nil {
		c.commandErrors.WithLabelValues(kind.String()).Inc()
	}
}

// RecordOCCConflict records a Conflict outcome from the OCC handler.
func (c *Collector) RecordOCCConflict() { c.occConflicts.Inc() }

// RecordDispatchRetry records one dispatch retry following an OCC conflict.
func (c *Collector) RecordDispatchRetry() { c.occRetries.Inc() }

// SetWorkerCounts updates the busy/idle worker gauges.
func (c *Collector) SetWorkerCounts(busy, idle int) {
	c.workersBusy.Set(float64(busy))
	c.workersIdle.Set(float64(idle))
}

// SetTaskQueueDepth updates the task queue depth gauge.
func (c *Collector) SetTaskQueueDepth(depth int) {
	c.taskQueueDepth.Set(float64(depth))
}

// RecordTTLEviction records one key removed by TTL expiry. The worker pool
// calls it for each key its eager sweep removes; lazy removal on access is
// not recorded.
func (c *Collector) RecordTTLEviction() { c.ttlEvictions.Inc() }

// RecordTransactionCommit records one successful commit.
func (c *Collector) RecordTransactionCommit() { c.txnCommits.Inc() }

// RecordTransactionRollback records one rollback.
func (c *Collector) RecordTransactionRollback() { c.txnRollbacks.Inc() }

// Handler returns the HTTP handler that serves this collector's metrics in
// Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves this collector's /metrics endpoint on port and blocks
// until the listener fails. The CLI's run command does not use it; it
// mounts Handler on its own http.Server.
func (c *Collector) StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
