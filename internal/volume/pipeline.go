package volume

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/blockvault/barc/internal/barerr"
)

// Step is one named stage of a volumed backend's post-process pipeline.
// A Step with an empty Template and a nil Run is skipped entirely; a Step
// with a non-empty Template but nil Run shells out once expanded.
type Step struct {
	Name     string
	Template string
	Vars     TemplateVars
	Run      func(ctx context.Context) error

	// ProgressWeight is how many progress "slots" this step counts as;
	// values below 1 count as 1. The optical and device backends give
	// every step weight 1.
	ProgressWeight int
}

func (s Step) skip() bool {
	return s.Template == "" && s.Run == nil
}

// ProgressFunc reports pipeline progress: completed weight against the
// total plus the current step's own fractional completion (0-100),
// combined by callers as
// volumeDone = (completedWeight*100 + currentStepPercent) / totalWeight.
type ProgressFunc func(stepName string, completedWeight, totalWeight, currentStepPercent int)

// Pipeline runs an ordered sequence of Steps, tracking completed weight
// against the total so volumeDone can be computed at any point. Retrying
// is the caller's responsibility: Pipeline.Run executes the configured
// steps once; the optical and device backends wrap a whole attempt in
// RetryLoop.
type Pipeline struct {
	Steps    []Step
	Progress ProgressFunc
	Abort    func() bool
}

// TotalWeight sums the ProgressWeight of every non-skipped step, the
// denominator of the volumeDone computation.
func (p *Pipeline) TotalWeight() int {
	total := 0
	for _, s := range p.Steps {
		if s.skip() {
			continue
		}
		total += max1(s.ProgressWeight)
	}
	return total
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Run executes every non-skipped step in order, reporting progress after
// each. Returns the first step error, wrapped with the step's name.
func (p *Pipeline) Run(ctx context.Context) error {
	total := p.TotalWeight()
	completed := 0

	for _, step := range p.Steps {
		if step.skip() {
			continue
		}
		if p.Abort != nil && p.Abort() {
			return &barerr.Aborted{}
		}

		weight := max1(step.ProgressWeight)
		if p.Progress != nil {
			p.Progress(step.Name, completed, total, 0)
		}

		var err error
		if step.Run != nil {
			err = step.Run(ctx)
		} else {
			err = runTemplate(ctx, step.Template, step.Vars)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", step.Name, err)
		}

		if p.Progress != nil {
			p.Progress(step.Name, completed, total, 100)
		}
		completed += weight
	}
	return nil
}

// runTemplate expands tmpl with vars and runs it as a shell command, the
// external-tool path (mkisofs, dvd+rw-format, growisofs, dd) for every
// pipeline step that isn't handled by an in-process library.
func runTemplate(ctx context.Context, tmpl string, vars TemplateVars) error {
	expanded := ExpandTemplate(tmpl, vars)
	if strings.TrimSpace(expanded) == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", expanded)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &barerr.WriteOptical{Detail: string(out) + ": " + err.Error()}
	}
	return nil
}

// RetryLoop runs attempt up to maxAttempts times, calling onRetry (the
// "request a new medium, or ask the user" hook) between failed attempts.
func RetryLoop(ctx context.Context, maxAttempts int, attempt func(ctx context.Context) error, onRetry func(ctx context.Context, failureNum int) error) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < maxAttempts-1 && onRetry != nil {
			if rerr := onRetry(ctx, i+1); rerr != nil {
				return rerr
			}
		}
	}
	return lastErr
}
