package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/threadkeep/internal/model"
)

// Job is the state of one target as it moves through the pipeline.
type Job struct {
	// Target is the community or post URL given by the user.
	Target string

	// Group is the community derived from Target.
	Group string

	// Frontier is set by the collect step.
	Frontier *model.Frontier

	// Progress holds one checkpoint per fetched range.
	Progress []*model.CrawlProgress

	// Analyzed is the number of posts analyzed by the language model.
	Analyzed int

	// Steps lists the steps that ran, in order.
	Steps []string

	// Err is the error that stopped the job, if any.
	Err error
}

// NewJob creates a Job for target.
func NewJob(target string) *Job {
	group, _ := model.ExtractGroupID(target)
	return &Job{Target: target, Group: group}
}

// Persisted returns the number of stored posts across every fetched range.
func (j *Job) Persisted() int {
	total := 0
	for _, p := range j.Progress {
		if p != nil {
			total += p.TotalPersisted
		}
	}
	return total
}

// Step is one stage of the pipeline.
type Step interface {
	// Do runs the step. Errors that should not stop later steps are logged
	// and swallowed by the step itself.
	Do(ctx context.Context, job *Job) error

	// Name is used in logs and in Job.Steps.
	Name() string
}

// Pipeline runs its steps in order.
type Pipeline struct {
	steps           []Step
	logger          *slog.Logger
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError keeps running later steps after a step fails.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends several steps.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs every step against job. It stops at the first failure unless
// continueOnError is set, and always stops on cancellation. The returned
// error is also stored in job.Err.
func (p *Pipeline) Execute(ctx context.Context, job *Job) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled", "step", step.Name(), "target", job.Target, "reason", err)
			job.Err = err
			return err
		}

		p.logger.Info("executing step", "step", step.Name(), "target", job.Target)
		err := step.Do(ctx, job)
		job.Steps = append(job.Steps, step.Name())
		if err == nil {
			p.logger.Debug("step completed", "step", step.Name(), "target", job.Target)
			continue
		}

		p.logger.Error("step failed", "step", step.Name(), "target", job.Target, "error", err)
		job.Err = err
		if !p.continueOnError {
			return err
		}
	}
	return job.Err
}

// StepCount returns the number of steps.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the step names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
