// Package diagnostics defines kake's error taxonomy and the aggregate
// reporting pipeline BuildMany uses to collect per-target outcomes.
//
// Every distinct failure kind is its own Go type so callers can tell them
// apart with errors.As instead of string matching. The aggregation chain
// below is a fixed sequence of stateless stages, each transforming the
// outcome slice, applied once the whole build has finished. Nothing here
// retries a failed node: collect, don't retry, report together.
package diagnostics

import "fmt"

// UnknownTargetError: no rule matches the requested target and it is not
// an existing source file.
type UnknownTargetError struct {
	Target string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target: %q matches no rule and is not a source file", e.Target)
}

// AmbiguousRuleError: registration found two rules claiming the same
// output — a second rule for an already-registered literal output, or a
// pattern that would also match an already-registered literal. Ties between
// equally specific patterns are not errors; Find resolves them by
// registration order.
type AmbiguousRuleError struct {
	Output string
	Labels []string
}

func (e *AmbiguousRuleError) Error() string {
	return fmt.Sprintf("ambiguous rule: output %q claimed by %v", e.Output, e.Labels)
}

// CycleDetectedError: the dependency resolver found a cycle while
// traversing rule outputs back to their inputs.
type CycleDetectedError struct {
	Cycle []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %v", e.Cycle)
}

// BadRequestError: the request itself is malformed — a target path escapes
// the project root, or a named source input does not exist.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("bad request: %s", e.Reason)
}

// ComputedInputsDivergenceError: the computed-inputs fixpoint loop did not
// converge within the configured maximum number of iterations.
type ComputedInputsDivergenceError struct {
	Target   string
	MaxDepth int
}

func (e *ComputedInputsDivergenceError) Error() string {
	return fmt.Sprintf("computed inputs for %q did not converge within %d iterations", e.Target, e.MaxDepth)
}

// BuildFailedError: a capability's build raised an error, or its
// subprocess exited non-zero. Downstream is the target that requested this
// node's build and short-circuited as a result (empty for the originally
// requested target).
type BuildFailedError struct {
	Label      string
	Output     string
	Argv       []string
	Stderr     string
	Downstream string
	Err        error
}

func (e *BuildFailedError) Error() string {
	if e.Downstream != "" {
		return fmt.Sprintf("build failed: rule %q for output %q (required by %q): %v", e.Label, e.Output, e.Downstream, e.Err)
	}
	return fmt.Sprintf("build failed: rule %q for output %q: %v", e.Label, e.Output, e.Err)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

// MissingOutputError: the capability's build completed without error but
// the declared output does not exist afterward.
type MissingOutputError struct {
	Label  string
	Output string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("rule %q completed but declared output %q does not exist", e.Label, e.Output)
}

// CancelledError: the build's context was cancelled before the node
// finished.
type CancelledError struct {
	Target string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("build of %q cancelled", e.Target)
}

// TimeoutError: a capability's subprocess exceeded its configured timeout
// and was terminated.
type TimeoutError struct {
	Label  string
	Output string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rule %q for output %q timed out", e.Label, e.Output)
}
