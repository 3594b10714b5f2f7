package check

import (
	"fmt"
	"strings"

	"github.com/banksia-harness/banksia/pkg/types"
)

// SoftChecker accumulates failing assertions without aborting at the first
// one, so a check can report every discrepancy it found in one result.
type SoftChecker struct {
	failures []string
}

// Assert records a failure message when ok is false.
func (c *SoftChecker) Assert(ok bool, format string, args ...any) {
	if !ok {
		c.failures = append(c.failures, fmt.Sprintf(format, args...))
	}
}

// Failf records an unconditional failure.
func (c *SoftChecker) Failf(format string, args ...any) {
	c.failures = append(c.failures, fmt.Sprintf(format, args...))
}

// Result finalizes the collector. With no recorded failures the result
// passes with an empty description; otherwise it fails with the messages
// joined by "; ".
func (c *SoftChecker) Result() types.CheckResult {
	if len(c.failures) == 0 {
		return types.CheckResult{Passed: true}
	}
	return types.CheckResult{Passed: false, Description: strings.Join(c.failures, "; ")}
}
