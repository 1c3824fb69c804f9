// Package metrics exposes prometheus instruments for the engine's
// background work. Instruments are process-wide singletons registered
// on the default registry.
package metrics

import (
	"sync"
	"time"

	billingdomain "github.com/classbridge/schoolops/internal/billing/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics captures sweep-daemon health signals.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

var (
	schedulerOnce sync.Once
	schedulerInst *SchedulerMetrics
)

// Scheduler returns the scheduler instrument singleton.
func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		schedulerInst = &SchedulerMetrics{
			jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "schoolops_scheduler_job_runs_total",
				Help: "Scheduler job executions by job name.",
			}, []string{"job"}),
			jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "schoolops_scheduler_job_errors_total",
				Help: "Scheduler job failures by job name.",
			}, []string{"job"}),
			jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "schoolops_scheduler_job_duration_seconds",
				Help:    "Scheduler job wall time by job name.",
				Buckets: prometheus.DefBuckets,
			}, []string{"job"}),
		}
		prometheus.MustRegister(
			schedulerInst.jobRuns,
			schedulerInst.jobErrors,
			schedulerInst.jobDuration,
		)
	})
	return schedulerInst
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// BillingMetrics captures financial-path signals.
type BillingMetrics struct {
	overdueMarked *prometheus.CounterVec
	overdueFailed *prometheus.CounterVec
}

var (
	billingOnce sync.Once
	billingInst *BillingMetrics
)

// Billing returns the billing instrument singleton.
func Billing() *BillingMetrics {
	billingOnce.Do(func() {
		billingInst = &BillingMetrics{
			overdueMarked: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "schoolops_overdue_invoices_marked_total",
				Help: "Invoices flipped to overdue by the sweep, by school.",
			}, []string{"school"}),
			overdueFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "schoolops_overdue_sweep_failures_total",
				Help: "Per-invoice sweep failures, by school.",
			}, []string{"school"}),
		}
		prometheus.MustRegister(
			billingInst.overdueMarked,
			billingInst.overdueFailed,
		)
	})
	return billingInst
}

func (m *BillingMetrics) ObserveOverdueSweep(school string, report billingdomain.OverdueSweepReport) {
	if m == nil {
		return
	}
	m.overdueMarked.WithLabelValues(school).Add(float64(report.Updated))
	m.overdueFailed.WithLabelValues(school).Add(float64(report.Failed))
}
