package promote

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultExternalTimeout = 30 * time.Second

// ExternalValidator runs a structural validator command with the draft
// directory appended as its last argument.
type ExternalValidator struct {
	Command []string
	Timeout time.Duration
}

// ExternalReport is the outcome of an external validator run.
type ExternalReport struct {
	Command  string `json:"command"`
	Passed   bool   `json:"passed"`
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
}

// NewExternalValidator parses a whitespace-separated command line. An empty
// line yields nil.
func NewExternalValidator(commandLine string, timeout time.Duration) *ExternalValidator {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil
	}
	return &ExternalValidator{Command: fields, Timeout: timeout}
}

// Run executes the validator. Failures are reported, never returned.
func (v *ExternalValidator) Run(ctx context.Context, dir string) *ExternalReport {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, v.Command[1:]...), dir)
	cmd := exec.CommandContext(ctx, v.Command[0], args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	report := &ExternalReport{Command: strings.Join(v.Command, " ")}
	err := cmd.Run()
	report.Output = strings.TrimSpace(out.String())

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		report.Passed = true
	case errors.As(err, &exitErr):
		report.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			report.Error = "validator timed out"
		}
	default:
		report.ExitCode = -1
		report.Error = err.Error()
	}

	log.Debug().
		Str("command", report.Command).
		Bool("passed", report.Passed).
		Int("exitCode", report.ExitCode).
		Msg("External validator finished")

	return report
}
