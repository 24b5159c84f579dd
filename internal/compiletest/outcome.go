// Package compiletest builds candidate executor source in a throwaway
// workspace and reports structured diagnostics.
package compiletest

import (
	"strings"
	"time"
)

// Reason classifies an unsuccessful Outcome.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonCompileFailure Reason = "compile_failure"
	ReasonToolLaunch     Reason = "tool_launch_failure"
	ReasonTimeout        Reason = "timeout"
	ReasonCanceled       Reason = "canceled"
	ReasonStorage        Reason = "storage_failure"
	ReasonRejected       Reason = "rejected"
)

// Outcome is the verdict of one compile test. Diagnostics is never nil.
type Outcome struct {
	FormulaName string        `json:"formula_name"`
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	Diagnostics []string      `json:"errors"`
	Reason      Reason        `json:"reason,omitempty"`
	ElapsedMS   float64       `json:"compilation_time_ms"`
	Elapsed     time.Duration `json:"-"`
}

func (o *Outcome) setElapsed(d time.Duration) {
	o.Elapsed = d
	o.ElapsedMS = float64(d.Microseconds()) / 1000
}

// ParseDiagnostics splits a compiler error stream into lines, dropping blank
// and whitespace-only ones.
func ParseDiagnostics(stderr string) []string {
	out := []string{}
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
