// Package metrics exposes Prometheus counters for jobs, fan-out, reactions
// and Kavita calls, plus the /metrics and /healthz endpoints.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"kavitabot/internal/alert"
	"kavitabot/internal/eventbus"
)

type Metrics struct {
	reg *prometheus.Registry

	jobs           *prometheus.CounterVec
	jobLateness    prometheus.Histogram
	fanOut         *prometheus.CounterVec
	reactions      *prometheus.CounterVec
	commands       *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	kavitaDuration *prometheus.HistogramVec
	kavitaRequests *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kavitabot_job_events_total",
			Help: "Scheduler job lifecycle events by job id and event.",
		}, []string{"job", "event"}),
		jobLateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kavitabot_job_lateness_seconds",
			Help:    "Delay between planned and actual firing of missed runs.",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 3600, 21600},
		}),
		fanOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kavitabot_fanout_users_total",
			Help: "Subscription fan-out results per user.",
		}, []string{"outcome"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kavitabot_reactions_resolved_total",
			Help: "Reactions resolved to a series, by delivery context.",
		}, []string{"context"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kavitabot_commands_total",
			Help: "Slash commands handled, by command and result.",
		}, []string{"command", "result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kavitabot_alerts_total",
			Help: "Administrator pages by result.",
		}, []string{"result"}),
		kavitaDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kavitabot_kavita_request_duration_seconds",
			Help:    "Kavita API request latency.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		kavitaRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kavitabot_kavita_requests_total",
			Help: "Kavita API requests by operation and status code.",
		}, []string{"op", "status"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobs, m.jobLateness, m.fanOut, m.reactions, m.commands, m.alerts,
		m.kavitaDuration, m.kavitaRequests,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveRequest records a Kavita call. Status 0 means the request never
// got a response.
func (m *Metrics) ObserveRequest(op string, status int, took time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.kavitaDuration.WithLabelValues(op).Observe(took.Seconds())
	m.kavitaRequests.WithLabelValues(op, code).Inc()
}

func (m *Metrics) FanOut(outcome string) { m.fanOut.WithLabelValues(outcome).Inc() }

func (m *Metrics) Reaction(context string) { m.reactions.WithLabelValues(context).Inc() }

func (m *Metrics) Command(name string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(name, result).Inc()
}

// Consume counts job and alert events until ctx ends or the bus closes
// the subscription.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.record(e)
		}
	}
}

func (m *Metrics) record(e eventbus.Event) {
	switch e.Type {
	case eventbus.JobFired, eventbus.JobMissed, eventbus.JobRejected, eventbus.JobFailed, eventbus.JobDone:
		je, _ := e.Data.(eventbus.JobEvent)
		m.jobs.WithLabelValues(je.JobID, e.Type[len("job."):]).Inc()
		if e.Type == eventbus.JobMissed {
			m.jobLateness.Observe(je.Lateness.Seconds())
		}
	case alert.TopicSent:
		m.alerts.WithLabelValues("sent").Inc()
	case alert.TopicFailed:
		m.alerts.WithLabelValues("failed").Inc()
	case alert.TopicDeduped:
		m.alerts.WithLabelValues("deduped").Inc()
	}
}
