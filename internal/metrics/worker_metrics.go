// Package metrics exposes prometheus collectors for worker runs, plus a
// lightweight resource sampler for the running worker process.
package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// sampleInterval controls how often the worker process is probed while a run
// is active.
const sampleInterval = 2 * time.Second

// WorkerMetrics holds all collectors for the orchestration layer.
type WorkerMetrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	linesTotal  *prometheus.CounterVec
	memoryMB    prometheus.Gauge
	cpuPercent  prometheus.Gauge
}

// New creates unregistered collectors.
func New() *WorkerMetrics {
	return &WorkerMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receiptsd_worker_runs_total",
			Help: "Completed worker runs by result status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "receiptsd_worker_run_duration_seconds",
			Help:    "Wall-clock duration of worker runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receiptsd_worker_output_lines_total",
			Help: "Lines captured from the worker by stream.",
		}, []string{"stream"}),
		memoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "receiptsd_worker_memory_mb",
			Help: "Resident memory of the active worker process in MB.",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "receiptsd_worker_cpu_percent",
			Help: "CPU usage of the active worker process.",
		}),
	}
}

// Register registers all collectors with reg.
func (m *WorkerMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.runsTotal, m.runDuration, m.linesTotal, m.memoryMB, m.cpuPercent,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRun records one completed run.
func (m *WorkerMetrics) ObserveRun(status string, d time.Duration) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

// CountLine records one captured output line. Safe for concurrent use from
// both reader goroutines.
func (m *WorkerMetrics) CountLine(stream string) {
	m.linesTotal.WithLabelValues(stream).Inc()
}

// StartSampling begins probing the given PID for memory and CPU usage,
// updating the gauges until the returned stop function is called or the
// process disappears. The stop function is idempotent and resets the gauges.
func (m *WorkerMetrics) StartSampling(pid int) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			close(done)
			m.memoryMB.Set(0)
			m.cpuPercent.Set(0)
		})
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		slog.Debug("worker metrics sampling unavailable", "pid", pid, "error", err)
		return stop
	}
	go func() {
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
					m.memoryMB.Set(float64(mem.RSS) / 1024 / 1024)
				}
				if cpu, err := proc.CPUPercent(); err == nil {
					m.cpuPercent.Set(cpu)
				}
				if running, err := proc.IsRunning(); err != nil || !running {
					return
				}
			}
		}
	}()
	return stop
}
