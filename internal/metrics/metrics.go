// Package metrics exports workflow and SLA metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petrijr/caseflow/pkg/api"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "caseflow"

// Recorder owns the caseflow collectors. It implements api.Observer for
// workflow events and sla.ReportObserver for compliance reports.
type Recorder struct {
	api.NoopObserver

	namespace string
	registry  *prometheus.Registry

	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	stepsTotal         *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	stepsExhausted     *prometheus.CounterVec

	slaCompliance *prometheus.GaugeVec
	slaBreached   *prometheus.GaugeVec
	slaWarning    *prometheus.GaugeVec
	slaUnknown    *prometheus.GaugeVec
	slaOverall    prometheus.Gauge
	slaLastScan   prometheus.Gauge
}

// New registers the collectors on a fresh registry. An empty namespace
// means DefaultNamespace.
func New(namespace string) *Recorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		namespace: namespace,
		registry:  reg,

		workflowsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Workflow instances created",
		}, []string{"workflow"}),
		workflowsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_completed_total",
			Help:      "Workflow instances that finished their last step",
		}, []string{"workflow"}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Step attempts by outcome",
		}, []string{"workflow", "step", "result"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time spent in step handlers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "step"}),
		stepsExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_exhausted_total",
			Help:      "Steps that used up every retry",
		}, []string{"workflow", "step"}),

		slaCompliance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "compliance_percent",
			Help:      "SLA compliance per case status",
		}, []string{"status"}),
		slaBreached: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "breached_cases",
			Help:      "Cases past their SLA target",
		}, []string{"status"}),
		slaWarning: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "warning_cases",
			Help:      "Cases between the SLA warning and target",
		}, []string{"status"}),
		slaUnknown: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "status_unknown",
			Help:      "1 when compliance for the status could not be computed",
		}, []string{"status"}),
		slaOverall: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "overall_compliance_percent",
			Help:      "Mean compliance across computed statuses",
		}),
		slaLastScan: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "last_scan_timestamp_seconds",
			Help:      "Unix time of the last compliance report",
		}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RegisterQueueDepth exports fn as the queue_depth gauge.
func (r *Recorder) RegisterQueueDepth(fn func() int) error {
	return r.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "queue_depth",
		Help:      "Tasks waiting in the queue",
	}, func() float64 { return float64(fn()) }))
}

func (r *Recorder) OnWorkflowStart(ctx context.Context, inst *api.WorkflowInstance) {
	r.workflowsStarted.WithLabelValues(string(inst.WorkflowType)).Inc()
}

func (r *Recorder) OnWorkflowCompleted(ctx context.Context, inst *api.WorkflowInstance) {
	r.workflowsCompleted.WithLabelValues(string(inst.WorkflowType)).Inc()
}

func (r *Recorder) OnStepCompleted(ctx context.Context, inst *api.WorkflowInstance, stepID api.StepID, idx int, err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.stepsTotal.WithLabelValues(string(inst.WorkflowType), string(stepID), result).Inc()
	r.stepDuration.WithLabelValues(string(inst.WorkflowType), string(stepID)).Observe(d.Seconds())
}

func (r *Recorder) OnStepExhausted(ctx context.Context, inst *api.WorkflowInstance, stepID api.StepID, err error) {
	r.stepsExhausted.WithLabelValues(string(inst.WorkflowType), string(stepID)).Inc()
}

// ObserveCompliance exports one compliance report. Unknown statuses keep
// their previous compliance value and raise status_unknown.
func (r *Recorder) ObserveCompliance(report api.ComplianceReport) {
	for _, row := range report.Statuses {
		if row.Unknown {
			r.slaUnknown.WithLabelValues(row.Status).Set(1)
			continue
		}
		r.slaUnknown.WithLabelValues(row.Status).Set(0)
		r.slaCompliance.WithLabelValues(row.Status).Set(row.Compliance)
		r.slaBreached.WithLabelValues(row.Status).Set(float64(row.BreachedCount))
		r.slaWarning.WithLabelValues(row.Status).Set(float64(row.WarningCount))
	}
	r.slaOverall.Set(report.Overall)
	r.slaLastScan.Set(float64(report.GeneratedAt.Unix()))
}
