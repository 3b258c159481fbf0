package pass

import (
	"fmt"
)

// Stage is an ordered pipeline of passes. Order of insertion is order of
// execution; a pass observes every side effect of the passes before it.
type Stage struct {
	Name string

	passes []Descriptor
	runs   []int
}

func NewStage(name string) *Stage {
	return &Stage{Name: name}
}

func (s *Stage) Add(p Pass, executions int) {
	s.passes = append(s.passes, Descriptor{Pass: p, Executions: executions})
	s.runs = append(s.runs, 0)
}

func (s *Stage) Passes() []Descriptor {
	return s.passes
}

func (s *Stage) Len() int {
	return len(s.passes)
}

// Runs reports how many frames the i-th pass has executed in.
func (s *Stage) Runs(i int) int {
	return s.runs[i]
}

// Done reports whether no pass has executions left.
func (s *Stage) Done() bool {
	for i, d := range s.passes {
		if d.Executions == ExecuteContinuous || s.runs[i] < d.Executions {
			return false
		}
	}
	return true
}

// Reset makes every pass eligible to run again.
func (s *Stage) Reset() {
	for i := range s.runs {
		s.runs[i] = 0
	}
}

// Run executes one frame of the stage. It stops at the first failing pass;
// the remaining passes of the frame are not run.
func (s *Stage) Run(ctx *Context) error {
	for i, d := range s.passes {
		if d.Executions != ExecuteContinuous && s.runs[i] >= d.Executions {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stage %s: %w", s.Name, err)
		}
		name := d.Pass.Name()
		if ctx.Profiler != nil {
			ctx.Profiler.BeginScope(name)
		}
		err := d.Pass.Execute(ctx)
		if ctx.Profiler != nil {
			ctx.Profiler.EndScope(name)
		}
		s.runs[i]++
		if err != nil {
			ctx.Logger.Errorf("stage %s: pass %s failed: %v", s.Name, name, err)
			return fmt.Errorf("stage %s: pass %s: %w", s.Name, name, err)
		}
	}
	return nil
}
