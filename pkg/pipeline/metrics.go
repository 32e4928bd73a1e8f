package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const metricsNamespace = "policy_cleaner"

// RunSummary is the outcome of one cleaning run
type RunSummary struct {
	RunID           string                   `json:"runId"`
	RowsRead        int                      `json:"rowsRead"`
	RowsAccepted    int                      `json:"rowsAccepted"`
	RowsRejected    int                      `json:"rowsRejected"`
	RejectsByReason map[string]int           `json:"rejectsByReason"`
	FlagsByCode     map[string]int           `json:"flagsByCode"`
	RuleFirings     map[string]int           `json:"ruleFirings"`
	AuditEntries    int                      `json:"auditEntries"`
	ErrorCategories map[string]int           `json:"errorCategories"`
	ErrorSamples    map[string][]ErrorSample `json:"errorSamples,omitempty"`
	Outputs         []string                 `json:"outputs"`
	StartTime       time.Time                `json:"startTime"`
	EndTime         time.Time                `json:"endTime"`
	Duration        time.Duration            `json:"duration"`
}

// ErrorSample is one recorded error kept for the run report
type ErrorSample struct {
	RowID   string `json:"rowId,omitempty"`
	Ordinal int    `json:"ordinal"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// RunMetrics tracks counters for a run and mirrors them into a Prometheus registry
type RunMetrics struct {
	mu              sync.Mutex
	logger          *zap.Logger
	StartTime       time.Time
	EndTime         time.Time
	RowsRead        int
	RowsAccepted    int
	RowsRejected    int
	AuditEntries    int
	RejectsByReason map[string]int
	FlagsByCode     map[string]int
	RuleFirings     map[string]int
	WorkerRows      map[int]int

	registry    *prometheus.Registry
	rowsTotal   *prometheus.CounterVec
	rejects     *prometheus.CounterVec
	rules       *prometheus.CounterVec
	flags       *prometheus.CounterVec
	rowDuration prometheus.Histogram
	runDuration prometheus.Gauge
}

// NewRunMetrics creates a new RunMetrics instance with its own registry
func NewRunMetrics(logger *zap.Logger) *RunMetrics {
	m := &RunMetrics{
		logger:          logger,
		StartTime:       time.Now(),
		RejectsByReason: make(map[string]int),
		FlagsByCode:     make(map[string]int),
		RuleFirings:     make(map[string]int),
		WorkerRows:      make(map[int]int),
		registry:        prometheus.NewRegistry(),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_total",
			Help:      "Rows routed, by outcome.",
		}, []string{"outcome"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejects_total",
			Help:      "Rejected rows, by reason.",
		}, []string{"reason"}),
		rules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rule_firings_total",
			Help:      "Audit entries written, by rule.",
		}, []string{"rule_id"}),
		flags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flags_total",
			Help:      "Field flags raised, by code.",
		}, []string{"code"}),
		rowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "row_duration_seconds",
			Help:      "Time spent cleaning a single row.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
	m.registry.MustRegister(m.rowsTotal, m.rejects, m.rules, m.flags, m.rowDuration, m.runDuration)
	return m
}

// Registry exposes the Prometheus registry
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRow records the routing of one row
func (m *RunMetrics) RecordRow(res RowResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if res.Accepted {
		m.RowsAccepted++
		m.rowsTotal.WithLabelValues("accepted").Inc()
	} else {
		m.RowsRejected++
		m.RejectsByReason[res.Reason]++
		m.rowsTotal.WithLabelValues("rejected").Inc()
		m.rejects.WithLabelValues(res.Reason).Inc()
	}

	for _, f := range res.Flags {
		m.FlagsByCode[string(f.Code)]++
		m.flags.WithLabelValues(string(f.Code)).Inc()
	}
	for _, e := range res.Entries {
		m.RuleFirings[e.RuleID]++
		m.rules.WithLabelValues(e.RuleID).Inc()
	}
	m.AuditEntries += len(res.Entries)
	m.WorkerRows[res.WorkerID]++
	m.rowDuration.Observe(res.Duration.Seconds())
}

// SetRowsRead records how many rows the reader produced
func (m *RunMetrics) SetRowsRead(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RowsRead = n
}

// Complete marks the run as finished
func (m *RunMetrics) Complete() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EndTime = time.Now()
	m.runDuration.Set(m.EndTime.Sub(m.StartTime).Seconds())

	if m.logger != nil {
		m.logger.Info("Run metrics collected",
			zap.Int("rowsRead", m.RowsRead),
			zap.Int("rowsAccepted", m.RowsAccepted),
			zap.Int("rowsRejected", m.RowsRejected),
			zap.Int("auditEntries", m.AuditEntries),
			zap.Duration("duration", m.EndTime.Sub(m.StartTime)))
	}
}

// Duration returns the run duration so far
func (m *RunMetrics) Duration() time.Duration {
	if m.EndTime.IsZero() {
		return time.Since(m.StartTime)
	}
	return m.EndTime.Sub(m.StartTime)
}

// WriteTextfile writes the registry in the Prometheus text format, for the
// node exporter textfile collector
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// GenerateSummary builds the run summary
func (m *RunMetrics) GenerateSummary(runID string, errorCounts map[ErrorCategory]int) *RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	endTime := m.EndTime
	if endTime.IsZero() {
		endTime = time.Now()
	}

	categories := make(map[string]int, len(errorCounts))
	for category, count := range errorCounts {
		categories[category.String()] = count
	}

	return &RunSummary{
		RunID:           runID,
		RowsRead:        m.RowsRead,
		RowsAccepted:    m.RowsAccepted,
		RowsRejected:    m.RowsRejected,
		RejectsByReason: copyCounts(m.RejectsByReason),
		FlagsByCode:     copyCounts(m.FlagsByCode),
		RuleFirings:     copyCounts(m.RuleFirings),
		AuditEntries:    m.AuditEntries,
		ErrorCategories: categories,
		StartTime:       m.StartTime,
		EndTime:         endTime,
		Duration:        endTime.Sub(m.StartTime),
	}
}

// Report renders the summary as a human readable report
func (s *RunSummary) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `
Cleaning Run Report
===================
Run ID:                  %s
Duration:                %s

Rows
----
Read:                    %d
Accepted:                %d (%.1f%%)
Rejected:                %d (%.1f%%)
Audit Entries:           %d
`,
		s.RunID,
		formatDuration(s.Duration),
		s.RowsRead,
		s.RowsAccepted, percentage(s.RowsAccepted, s.RowsRead),
		s.RowsRejected, percentage(s.RowsRejected, s.RowsRead),
		s.AuditEntries,
	)

	writeCounts(&sb, "Rejects By Reason", s.RejectsByReason)
	writeCounts(&sb, "Rule Firings", s.RuleFirings)
	writeCounts(&sb, "Flags", s.FlagsByCode)
	writeSamples(&sb, s.ErrorSamples)

	if len(s.Outputs) > 0 {
		sb.WriteString("\nOutputs\n-------\n")
		for _, o := range s.Outputs {
			fmt.Fprintf(&sb, "- %s\n", o)
		}
	}
	return sb.String()
}

// ToJSON serializes the summary to JSON
func (s *RunSummary) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// SampleErrors converts the samples kept by the error handler, ordered by input position
func SampleErrors(samples map[ErrorCategory][]ErrorRecord) map[string][]ErrorSample {
	if len(samples) == 0 {
		return nil
	}
	out := make(map[string][]ErrorSample, len(samples))
	for category, records := range samples {
		list := make([]ErrorSample, 0, len(records))
		for _, r := range records {
			list = append(list, ErrorSample{RowID: r.RowID, Ordinal: r.Ordinal, Reason: r.Reason, Message: r.Message})
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].Ordinal < list[j].Ordinal })
		out[category.String()] = list
	}
	return out
}

func writeSamples(sb *strings.Builder, samples map[string][]ErrorSample) {
	if len(samples) == 0 {
		return
	}
	sb.WriteString("\nError Samples\n-------------\n")
	categories := make([]string, 0, len(samples))
	for c := range samples {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		for _, e := range samples[c] {
			row := e.RowID
			if row == "" {
				row = fmt.Sprintf("#%d", e.Ordinal)
			}
			if e.Reason != "" {
				fmt.Fprintf(sb, "- %s %s (%s): %s\n", c, row, e.Reason, e.Message)
			} else {
				fmt.Fprintf(sb, "- %s %s: %s\n", c, row, e.Message)
			}
		}
	}
}

func writeCounts(sb *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "- %s: %d\n", k, counts[k])
	}
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// formatDuration formats a duration to a human-readable string
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// percentage safely calculates a percentage, avoiding division by zero
func percentage(value, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(value) / float64(total) * 100
}
