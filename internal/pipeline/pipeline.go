// Package pipeline runs translation jobs through the profile, draft, revise
// and proofread stages. Each stage has its own queue served by a fixed
// number of workers; a job moves to the next queue when its stage result
// is stored.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/budget"
	"github.com/valpere/peredoc/internal/pagination"
	"github.com/valpere/peredoc/internal/segment"
	"github.com/valpere/peredoc/internal/segmenter"
	"github.com/valpere/peredoc/internal/stage"
	"github.com/valpere/peredoc/internal/store"
	"github.com/valpere/peredoc/internal/translator"
)

const (
	StageProfile   = string(budget.ModeProfile)
	StageDraft     = string(budget.ModeDraft)
	StageRevise    = string(budget.ModeRevise)
	StageProofread = string(budget.ModeProofread)
)

// Stages lists every stage in execution order.
var Stages = []string{StageProfile, StageDraft, StageRevise, StageProofread}

// Runners holds one stage runner per stage. Proofread may be nil.
type Runners struct {
	Profile   *stage.Runner
	Draft     *stage.Runner
	Revise    *stage.Runner
	Proofread *stage.Runner
}

type Options struct {
	Workers       map[string]int
	QueueSize     int
	PageSize      int
	ChunkChars    int
	SkipProofread bool
	// Memory enables translation memory lookups in the draft stage.
	Memory bool
}

// Deps are the collaborators of a Pipeline. Seeder and Log are optional.
type Deps struct {
	Store     *store.Store
	Segmenter *segmenter.Segmenter
	Runners   Runners
	Seeder    translator.Seeder
	Log       *logrus.Entry
}

// run is a job in flight.
type run struct {
	job     *internal.Job
	units   []internal.Unit
	profile *stage.Profile
	drafts  []string
	texts   []string

	done chan struct{}
}

type Pipeline struct {
	store     *store.Store
	segmenter *segmenter.Segmenter
	runners   Runners
	seeder    translator.Seeder
	opts      Options
	log       *logrus.Entry
	events    *Broker

	order  []string
	queues map[string]*queue

	ctx    context.Context
	cancel context.CancelFunc

	submitMu sync.Mutex
	mu       sync.Mutex
	active   map[string]*run
}

// New starts the stage queues. Close stops them.
func New(d Deps, opts Options) (*Pipeline, error) {
	if d.Store == nil || d.Segmenter == nil {
		return nil, errors.New("pipeline: store and segmenter are required")
	}
	if d.Runners.Profile == nil || d.Runners.Draft == nil || d.Runners.Revise == nil {
		return nil, errors.New("pipeline: profile, draft and revise runners are required")
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.ChunkChars <= 0 {
		opts.ChunkChars = 1200
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		store:     d.Store,
		segmenter: d.Segmenter,
		runners:   d.Runners,
		seeder:    d.Seeder,
		opts:      opts,
		log:       d.Log,
		events:    NewBroker(),
		queues:    make(map[string]*queue),
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]*run),
	}

	p.order = []string{StageProfile, StageDraft, StageRevise}
	if d.Runners.Proofread != nil && !opts.SkipProofread {
		p.order = append(p.order, StageProofread)
	}
	for _, name := range p.order {
		q := newQueue(name, opts.QueueSize, opts.Workers[name])
		p.queues[name] = q
		q.start(ctx, func(r *run) { p.process(name, r) })
	}
	return p, nil
}

// Events returns the broker job events are published on.
func (p *Pipeline) Events() *Broker {
	return p.events
}

// Stages returns the stages this pipeline runs, in order.
func (p *Pipeline) Stages() []string {
	return append([]string(nil), p.order...)
}

// Submit segments and enqueues a document. When a job for the same
// document and language pair exists and has not failed, that job is
// returned with existing set and nothing is enqueued.
func (p *Pipeline) Submit(ctx context.Context, req internal.JobRequest) (job *internal.Job, existing bool, err error) {
	seg, err := p.segmenter.Segment(req.Text, segmenter.Hints{SourceLang: req.SourceLang, TargetLang: req.TargetLang})
	if err != nil {
		return nil, false, err
	}

	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	found, err := p.store.FindJob(ctx, seg.DocumentHash, seg.SourceLang, seg.TargetLang)
	switch {
	case err == nil:
		return found, true, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up job: %w", err)
	}

	job = &internal.Job{
		ID:           uuid.NewString(),
		Name:         req.Name,
		DocumentHash: seg.DocumentHash,
		SourceLang:   seg.SourceLang,
		TargetLang:   seg.TargetLang,
		Status:       internal.JobQueued,
		Stage:        p.order[0],
	}
	if err := p.store.CreateJob(ctx, job, seg.Units); err != nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}

	r := &run{job: job, units: seg.Units, done: make(chan struct{})}
	p.mu.Lock()
	p.active[job.ID] = r
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"job_id": job.ID,
		"units":  len(seg.Units),
		"source": job.SourceLang,
		"target": job.TargetLang,
	}).Info("job submitted")

	if err := p.queues[p.order[0]].push(ctx, r); err != nil {
		p.fail(r, p.order[0], err)
		return nil, false, err
	}
	copied := *job
	return &copied, false, nil
}

// Wait blocks until a job submitted to this pipeline finishes and returns
// its stored state. Jobs not in flight are returned as stored.
func (p *Pipeline) Wait(ctx context.Context, jobID string) (*internal.Job, error) {
	p.mu.Lock()
	r := p.active[jobID]
	p.mu.Unlock()

	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.store.GetJob(ctx, jobID)
}

// Run submits a document and waits for its job to finish.
func (p *Pipeline) Run(ctx context.Context, req internal.JobRequest) (*internal.Job, error) {
	job, _, err := p.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	job, err = p.Wait(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if job.Status == internal.JobFailed {
		return job, fmt.Errorf("job %s failed in %s stage: %s", job.ID, job.Stage, job.Error)
	}
	return job, nil
}

// Output returns the final translation of a job: the revised text, or the
// draft when revision has not run.
func (p *Pipeline) Output(ctx context.Context, jobID string) (string, error) {
	units, err := p.store.Units(ctx, jobID)
	if err != nil {
		return "", err
	}
	for _, name := range []string{StageRevise, StageDraft} {
		res, err := p.store.GetStageResult(ctx, jobID, name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		var texts []string
		if name == StageRevise {
			var out stage.ReviseResult
			err = json.Unmarshal(res.Output, &out)
			texts = out.Texts
		} else {
			var out stage.DraftResult
			err = json.Unmarshal(res.Output, &out)
			texts = out.Translations
		}
		if err != nil {
			return "", fmt.Errorf("decode %s result: %w", name, err)
		}
		return segment.MergeText(units, texts), nil
	}
	return "", store.ErrNotFound
}

// Close stops the queues. Jobs still queued or running are marked failed.
func (p *Pipeline) Close() {
	p.cancel()
	for _, name := range p.order {
		<-p.queues[name].done
	}
	if c, ok := p.seeder.(io.Closer); ok {
		if err := c.Close(); err != nil {
			p.log.WithError(err).Warn("failed to close seeder")
		}
	}
	for _, name := range p.order {
		q := p.queues[name]
	drain:
		for {
			select {
			case r := <-q.ch:
				p.fail(r, name, context.Canceled)
			default:
				break drain
			}
		}
	}
}

func (p *Pipeline) process(name string, r *run) {
	ctx := p.ctx
	log := p.log.WithFields(logrus.Fields{"job_id": r.job.ID, "stage": name})

	if err := p.store.UpdateJob(ctx, r.job.ID, internal.JobRunning, name, ""); err != nil {
		p.fail(r, name, err)
		return
	}
	p.events.Publish(Event{JobID: r.job.ID, Type: EventStageStarted, Stage: name})
	log.Info("stage started")

	pages, err := p.runStage(ctx, name, r, log)
	if err != nil {
		p.fail(r, name, err)
		return
	}
	p.events.Publish(Event{JobID: r.job.ID, Type: EventStageCompleted, Stage: name, Pages: pages})
	log.WithField("pages", pages).Info("stage completed")

	next := p.next(name)
	if next == "" {
		p.complete(r, name)
		return
	}
	if err := p.queues[next].push(ctx, r); err != nil {
		p.fail(r, next, err)
	}
}

func (p *Pipeline) next(name string) string {
	for i, s := range p.order {
		if s == name && i+1 < len(p.order) {
			return p.order[i+1]
		}
	}
	return ""
}

// runStage runs one stage and stores its result and pages. It returns the
// number of pages stored.
func (p *Pipeline) runStage(ctx context.Context, name string, r *run, log *logrus.Entry) (int, error) {
	var (
		output any
		report stage.Report
		pages  []pagination.Page
	)

	switch name {
	case StageProfile:
		res, err := p.runnerFor(p.runners.Profile, r.job.ID, log).Profile(ctx, stage.ProfileInput{
			Units:      r.units,
			SourceLang: r.job.SourceLang,
			TargetLang: r.job.TargetLang,
		})
		if err != nil {
			return 0, err
		}
		r.profile = &res.Profile
		output, report = res, res.Report
		data, err := json.Marshal(res.Profile)
		if err != nil {
			return 0, err
		}
		pages = pagination.Paginate(name, []pagination.Item{{ChunkID: name + "-0", Data: data}}, p.pageOptions(report))

	case StageDraft:
		in := stage.DraftInput{
			Units:      r.units,
			SourceLang: r.job.SourceLang,
			TargetLang: r.job.TargetLang,
			Profile:    r.profile,
			Seeder:     p.seeder,
		}
		if p.opts.Memory {
			in.Memory = p.store
		}
		res, err := p.runnerFor(p.runners.Draft, r.job.ID, log).Draft(ctx, in)
		if err != nil {
			return 0, err
		}
		r.drafts = res.Translations
		output, report = res, res.Report
		pages = p.textPages(name, r.units, res.Translations, report)

	case StageRevise:
		res, err := p.runnerFor(p.runners.Revise, r.job.ID, log).Revise(ctx, stage.ReviseInput{
			Units:      r.units,
			Drafts:     r.drafts,
			SourceLang: r.job.SourceLang,
			TargetLang: r.job.TargetLang,
			Profile:    r.profile,
		})
		if err != nil {
			return 0, err
		}
		r.texts = res.Texts
		output, report = res, res.Report
		pages = p.textPages(name, r.units, res.Texts, report)

	case StageProofread:
		res, err := p.runnerFor(p.runners.Proofread, r.job.ID, log).Proofread(ctx, stage.ProofreadInput{
			Units:      r.units,
			Texts:      r.texts,
			SourceLang: r.job.SourceLang,
			TargetLang: r.job.TargetLang,
			PageSize:   p.opts.PageSize,
		})
		if err != nil {
			return 0, err
		}
		output, report, pages = res, res.Report, res.Pages

	default:
		return 0, fmt.Errorf("unknown stage %q", name)
	}

	data, err := json.Marshal(output)
	if err != nil {
		return 0, fmt.Errorf("encode %s result: %w", name, err)
	}
	if err := p.store.SaveStageResult(ctx, store.StageResult{
		JobID:           r.job.ID,
		Stage:           name,
		Output:          data,
		Truncated:       report.Truncated,
		Attempts:        report.Attempts,
		MaxOutputTokens: report.MaxOutputTokens,
		Metrics:         report.Metrics,
		Usage:           report.Usage,
	}); err != nil {
		return 0, fmt.Errorf("save %s result: %w", name, err)
	}
	if err := p.store.SavePages(ctx, r.job.ID, name, pages); err != nil {
		return 0, fmt.Errorf("save %s pages: %w", name, err)
	}
	return len(pages), nil
}

func (p *Pipeline) pageOptions(report stage.Report) pagination.Options {
	return pagination.Options{
		PageSize:       p.opts.PageSize,
		Forced:         pagination.ForcedFrom(report.Truncated, report.Metrics),
		DownshiftCount: report.Metrics.Downshifts,
	}
}

func (p *Pipeline) textPages(name string, units []internal.Unit, texts []string, report stage.Report) []pagination.Page {
	items := pagination.ChunkText(name, segment.MergeText(units, texts), p.opts.ChunkChars)
	return pagination.Paginate(name, items, p.pageOptions(report))
}

// runnerFor copies base for one job so attempts are logged and persisted
// under the job id.
func (p *Pipeline) runnerFor(base *stage.Runner, jobID string, log *logrus.Entry) *stage.Runner {
	rc := *base
	rc.Log = log
	rc.OnCall = func(cr stage.CallReport) {
		ctx := context.WithoutCancel(p.ctx)
		if err := p.store.SaveAttempts(ctx, jobID, string(cr.Mode), cr.CallID, cr.History); err != nil {
			log.WithError(err).WithField("call_id", cr.CallID).Warn("failed to record attempts")
		}
	}
	return &rc
}

func (p *Pipeline) fail(r *run, name string, err error) {
	ctx := context.WithoutCancel(p.ctx)
	p.log.WithFields(logrus.Fields{"job_id": r.job.ID, "stage": name}).WithError(err).Error("job failed")

	if uerr := p.store.UpdateJob(ctx, r.job.ID, internal.JobFailed, name, err.Error()); uerr != nil {
		p.log.WithField("job_id", r.job.ID).WithError(uerr).Error("failed to mark job failed")
	}
	p.events.Publish(Event{JobID: r.job.ID, Type: EventJobFailed, Stage: name, Error: err.Error()})
	p.finish(r)
}

func (p *Pipeline) complete(r *run, last string) {
	ctx := context.WithoutCancel(p.ctx)
	if err := p.store.UpdateJob(ctx, r.job.ID, internal.JobCompleted, last, ""); err != nil {
		p.fail(r, last, err)
		return
	}
	p.log.WithField("job_id", r.job.ID).Info("job completed")
	p.events.Publish(Event{JobID: r.job.ID, Type: EventJobCompleted, Stage: last})
	p.finish(r)
}

func (p *Pipeline) finish(r *run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[r.job.ID]; !ok {
		return
	}
	delete(p.active, r.job.ID)
	close(r.done)
}
