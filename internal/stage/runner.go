// Package stage runs the profile, draft, revise and proofread steps of the
// pipeline. Every generation call made here goes through resilience.Run, and
// per-unit stages hand failed batches to segment decomposition.
package stage

import (
	"github.com/sirupsen/logrus"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/budget"
	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/resilience"
)

// Target is a model reachable through a client.
type Target struct {
	Client generation.Client
	Model  string
}

// Options tunes batching and decomposition. Zero values take defaults.
type Options struct {
	BatchUnits         int     `mapstructure:"batch_units"`
	BatchChars         int     `mapstructure:"batch_chars"`
	Concurrency        int     `mapstructure:"concurrency"`
	SegmentConcurrency int     `mapstructure:"segment_concurrency"`
	SegmentDepth       int     `mapstructure:"segment_depth"`
	DisableSegment     bool    `mapstructure:"disable_segment"`
	Temperature        float64 `mapstructure:"temperature"`
	ContextWords       int     `mapstructure:"context_words"`
	SampleChars        int     `mapstructure:"sample_chars"`
}

func (o Options) withDefaults() Options {
	if o.BatchUnits <= 0 {
		o.BatchUnits = 24
	}
	if o.BatchChars <= 0 {
		o.BatchChars = 6000
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.SegmentConcurrency <= 0 {
		o.SegmentConcurrency = 2
	}
	if o.SegmentDepth <= 0 {
		o.SegmentDepth = 1
	}
	if o.ContextWords <= 0 {
		o.ContextWords = 40
	}
	if o.SampleChars <= 0 {
		o.SampleChars = 4000
	}
	return o
}

// CallReport describes one finished logical call. Calls made while
// decomposing a batch carry the id of the call they recover in ParentID.
type CallReport struct {
	CallID   string
	ParentID string
	Mode     budget.Mode
	Units    int
	History  []resilience.AttemptContext
	Metrics  resilience.Metrics
	Err      error
}

// Runner executes one pipeline stage against its routed models.
type Runner struct {
	Mode     budget.Mode
	Primary  Target
	Fallback *Target
	Policy   resilience.Policy
	Budget   *budget.Estimator
	Options  Options
	Log      *logrus.Entry
	// OnCall is invoked after every logical call, possibly from several
	// goroutines at once.
	OnCall func(CallReport)
}

func (r *Runner) log() *logrus.Entry {
	if r.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return r.Log
}

func (r *Runner) estimator() *budget.Estimator {
	if r.Budget == nil {
		return budget.New(budget.Options{})
	}
	return r.Budget
}

// Report aggregates the calls a stage made.
type Report struct {
	Calls           int                `json:"calls"`
	Attempts        int                `json:"attempts"`
	MaxOutputTokens int                `json:"max_output_tokens"`
	Truncated       bool               `json:"truncated"`
	RepairApplied   bool               `json:"repair_applied"`
	Metrics         resilience.Metrics `json:"metrics"`
	Usage           generation.Usage   `json:"usage"`
}

func (r *Report) add(o Report) {
	r.Calls += o.Calls
	r.Attempts += o.Attempts
	r.MaxOutputTokens = max(r.MaxOutputTokens, o.MaxOutputTokens)
	r.Truncated = r.Truncated || o.Truncated
	r.RepairApplied = r.RepairApplied || o.RepairApplied
	r.Metrics = addMetrics(r.Metrics, o.Metrics)
	r.Usage = r.Usage.Add(o.Usage)
}

func addMetrics(a, b resilience.Metrics) resilience.Metrics {
	return resilience.Metrics{
		Downshifts:          a.Downshifts + b.Downshifts,
		RateLimitRetries:    a.RateLimitRetries + b.RateLimitRetries,
		TransientFailures:   a.TransientFailures + b.TransientFailures,
		IncompleteResponses: a.IncompleteResponses + b.IncompleteResponses,
		ParseFailures:       a.ParseFailures + b.ParseFailures,
		FallbackUsed:        a.FallbackUsed || b.FallbackUsed,
		SegmentRetryUsed:    a.SegmentRetryUsed || b.SegmentRetryUsed,
	}
}

// batches groups units into runs of at most maxUnits units and roughly
// maxChars bytes. A unit larger than maxChars gets a batch of its own.
func batches(units []internal.Unit, maxUnits, maxChars int) [][]internal.Unit {
	var (
		out   [][]internal.Unit
		cur   []internal.Unit
		chars int
	)
	for _, u := range units {
		if len(cur) > 0 && (len(cur) >= maxUnits || chars+len(u.Text) > maxChars) {
			out = append(out, cur)
			cur, chars = nil, 0
		}
		cur = append(cur, u)
		chars += len(u.Text)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
