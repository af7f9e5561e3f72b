// Package telemetry keeps the in-process counters for the HL7 preprocessing
// functions: validation findings, emitted artifacts, rejected records and
// per-file outcomes. Counters are exported in Prometheus text format for the
// development server and flushed as deltas to a Sink (CloudWatch in Lambda).
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Metric names
// ---------------------------------------------------------------------------

const (
	MetricValidation = "hl7_validation_total"
	MetricArtifacts  = "hl7_artifacts_total"
	MetricRejects    = "hl7_rejects_total"
	MetricFiles      = "hl7_files_total"
	MetricHTTP       = "http_server_requests_total"
)

type metricDef struct {
	help   string
	labels []string
}

var metricDefs = map[string]metricDef{
	MetricValidation: {"Validation findings by field and reason.", []string{"field", "reason"}},
	MetricArtifacts:  {"Output artifacts written by function and kind.", []string{"function", "kind"}},
	MetricRejects:    {"Records rejected by function.", []string{"function"}},
	MetricFiles:      {"Input files processed by function and outcome.", []string{"function", "outcome"}},
	MetricHTTP:       {"HTTP requests by method, route and status.", []string{"method", "route", "status"}},
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the telemetry provider settings.
type Config struct {
	ServiceName    string
	Environment    string
	MetricsEnabled *bool // nil = use default (true)
}

func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "hl7prep"
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// ---------------------------------------------------------------------------
// Counter store, keyed by (metricName, label1, label2, ...)
// ---------------------------------------------------------------------------

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) add(key string, delta int64) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := delta
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, delta)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// counterKey joins a metric name and its label values.
func counterKey(name string, labels ...string) string {
	return strings.Join(append([]string{name}, labels...), "|")
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Sample is one counter value with its labels.
type Sample struct {
	Name   string
	Labels []Label
	Value  int64
}

// Label is a metric dimension.
type Label struct {
	Name  string
	Value string
}

// Sink receives counter deltas on Flush.
type Sink interface {
	Publish(ctx context.Context, samples []Sample) error
}

// Provider manages the counters.
type Provider struct {
	cfg      Config
	counters *counterStore

	flushMu sync.Mutex
	flushed map[string]int64
}

// NewProvider creates a telemetry provider.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:      cfg,
		counters: newCounterStore(),
		flushed:  make(map[string]int64),
	}
}

// Enabled reports whether metrics are recorded.
func (p *Provider) Enabled() bool {
	return p.cfg.metricsOn()
}

func (p *Provider) inc(name string, labels ...string) {
	if !p.cfg.metricsOn() {
		return
	}
	p.counters.add(counterKey(name, labels...), 1)
}

// IncValidation counts a validation finding on a field.
func (p *Provider) IncValidation(field, reason string) {
	p.inc(MetricValidation, field, reason)
}

// IncArtifact counts an output artifact.
func (p *Provider) IncArtifact(function, kind string) {
	p.inc(MetricArtifacts, function, kind)
}

// IncReject counts a rejected record.
func (p *Provider) IncReject(function string) {
	p.inc(MetricRejects, function)
}

// IncFile counts a processed input file by outcome.
func (p *Provider) IncFile(function, outcome string) {
	p.inc(MetricFiles, function, outcome)
}

// Counter returns the current value of a counter.
func (p *Provider) Counter(name string, labels ...string) int64 {
	return p.counters.get(counterKey(name, labels...))
}

// Snapshot returns every counter sorted by key.
func (p *Provider) Snapshot() []Sample {
	return toSamples(p.counters.snapshot())
}

// Flush publishes the change of every counter since the previous successful
// flush. Nothing is marked as flushed when the sink fails.
func (p *Provider) Flush(ctx context.Context, sink Sink) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	current := p.counters.snapshot()
	deltas := make(map[string]int64)
	for k, v := range current {
		if d := v - p.flushed[k]; d != 0 {
			deltas[k] = d
		}
	}
	if len(deltas) == 0 {
		return nil
	}
	if err := sink.Publish(ctx, toSamples(deltas)); err != nil {
		return fmt.Errorf("telemetry: flush: %w", err)
	}
	for k, v := range current {
		p.flushed[k] = v
	}
	return nil
}

func toSamples(values map[string]int64) []Sample {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	samples := make([]Sample, 0, len(keys))
	for _, k := range keys {
		parts := strings.Split(k, "|")
		s := Sample{Name: parts[0], Value: values[k]}
		names := metricDefs[parts[0]].labels
		for i, v := range parts[1:] {
			ln := "label" + strconv.Itoa(i)
			if i < len(names) {
				ln = names[i]
			}
			s.Labels = append(s.Labels, Label{Name: ln, Value: v})
		}
		samples = append(samples, s)
	}
	return samples
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// MetricsMiddleware counts HTTP requests by method, route and status.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			p.inc(MetricHTTP, c.Request().Method, c.Path(), strconv.Itoa(status))
			return err
		}
	}
}

// PrometheusHandler returns an Echo handler that serves the counters in
// Prometheus text exposition format at /metrics.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		byName := make(map[string][]Sample)
		for _, s := range p.Snapshot() {
			byName[s.Name] = append(byName[s.Name], s)
		}

		names := make([]string, 0, len(metricDefs))
		for name := range metricDefs {
			names = append(names, name)
		}
		sort.Strings(names)

		var b strings.Builder
		for _, name := range names {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, metricDefs[name].help)
			fmt.Fprintf(&b, "# TYPE %s counter\n", name)
			for _, s := range byName[name] {
				pairs := make([]string, len(s.Labels))
				for i, l := range s.Labels {
					pairs[i] = fmt.Sprintf("%s=%q", l.Name, l.Value)
				}
				fmt.Fprintf(&b, "%s{%s} %d\n", name, strings.Join(pairs, ","), s.Value)
			}
			b.WriteByte('\n')
		}

		return c.String(http.StatusOK, b.String())
	}
}
