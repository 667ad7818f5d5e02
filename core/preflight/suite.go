// Package preflight checks that the service can start: configuration,
// model weights, adapter weights, disk space and writable data paths.
//
// Results print as a colored checklist:
//
//	━━━ diffusion_backend preflight ━━━
//
//	  ✓ Configuration - local backend on 127.0.0.1:5000
//	  ! Adapter weights - not found at lora/pytorch_lora_weights.safetensors
//	  ✗ Base model - base model not found at models/sd.safetensors
//	    └─ Place the checkpoint there or set SD_MODEL_URL to download it
package preflight

import (
	"fmt"
	"io"
	"os"
	"time"

	"diffusion_backend/core"

	"github.com/fatih/color"
)

// Status is the outcome of one check.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	StatusWarning
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusWarning:
		return "warning"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Step is one completed check.
type Step struct {
	Name    string
	Status  Status
	Message string
	Err     error
	Latency time.Duration
}

// Check produces a Step without Name or Latency; the suite fills those in.
type Check struct {
	Name string
	Run  func(cfg *core.Config) Step
}

// Result summarizes a run.
type Result struct {
	Steps    []Step
	Passed   int
	Failed   int
	Warnings int
	Duration time.Duration
}

// OK reports whether no check failed. Warnings do not count.
func (r Result) OK() bool { return r.Failed == 0 }

// Errors returns the errors of failed steps.
func (r Result) Errors() []error {
	var errs []error
	for _, s := range r.Steps {
		if s.Status == StatusFailed && s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errs
}

// Suite runs checks against a configuration.
type Suite struct {
	cfg      *core.Config
	checks   []Check
	out      io.Writer
	quiet    bool
	failFast bool
}

// New creates a Suite with the default checks, printing to stdout.
func New(cfg *core.Config) *Suite {
	return &Suite{cfg: cfg, checks: DefaultChecks(), out: os.Stdout}
}

// WithOutput redirects the report.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.out = w
	return s
}

// WithQuiet suppresses the report.
func (s *Suite) WithQuiet(quiet bool) *Suite {
	s.quiet = quiet
	return s
}

// WithFailFast skips remaining checks after the first failure.
func (s *Suite) WithFailFast(failFast bool) *Suite {
	s.failFast = failFast
	return s
}

// WithChecks replaces the check list.
func (s *Suite) WithChecks(checks ...Check) *Suite {
	s.checks = checks
	return s
}

// Run executes every check in order.
func (s *Suite) Run() Result {
	start := time.Now()
	s.printHeader("diffusion_backend preflight")

	var res Result
	failed := false
	for _, c := range s.checks {
		var step Step
		if failed && s.failFast {
			step = Step{Status: StatusSkipped, Message: "skipped after earlier failure"}
		} else {
			t := time.Now()
			step = c.Run(s.cfg)
			step.Latency = time.Since(t)
		}
		step.Name = c.Name
		res.Steps = append(res.Steps, step)

		switch step.Status {
		case StatusPassed:
			res.Passed++
		case StatusFailed:
			res.Failed++
			failed = true
		case StatusWarning:
			res.Warnings++
		}
		s.printStep(step)
	}
	res.Duration = time.Since(start)
	s.printSummary(res)
	return res
}

func (s *Suite) printHeader(title string) {
	if s.quiet {
		return
	}
	fmt.Fprintln(s.out)
	color.New(color.FgCyan, color.Bold).Fprintf(s.out, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.out)
}

func (s *Suite) printStep(step Step) {
	if s.quiet {
		return
	}
	icon, clr := "?", color.New(color.FgWhite)
	switch step.Status {
	case StatusPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StatusFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StatusWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StatusSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	}

	clr.Fprintf(s.out, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.out, " - %s", step.Message)
	}
	fmt.Fprintln(s.out)

	if step.Status == StatusFailed && step.Err != nil {
		color.New(color.FgRed).Fprintf(s.out, "    └─ %s\n", step.Err)
	}
}

func (s *Suite) printSummary(r Result) {
	if s.quiet {
		return
	}
	fmt.Fprintln(s.out)
	dim := color.New(color.FgHiBlack)
	if r.OK() {
		ok := color.New(color.FgGreen, color.Bold)
		ok.Fprint(s.out, "━━━ Preflight Passed ")
		dim.Fprintf(s.out, "(%d passed, %d warnings in %v)", r.Passed, r.Warnings, r.Duration.Round(time.Millisecond))
		ok.Fprintln(s.out, " ━━━")
	} else {
		bad := color.New(color.FgRed, color.Bold)
		bad.Fprint(s.out, "━━━ Preflight Failed ")
		dim.Fprintf(s.out, "(%d passed, %d failed)", r.Passed, r.Failed)
		bad.Fprintln(s.out, " ━━━")
	}
	fmt.Fprintln(s.out)
}
