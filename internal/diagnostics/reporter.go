package diagnostics

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	lipgloss "charm.land/lipgloss/v2"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Reporter renders a Report to an output stream.
type Reporter interface {
	Report(w io.Writer, r Report) error
}

// NewReporter selects a Reporter by format name: "text", "json", or
// "sarif".
func NewReporter(format string) (Reporter, error) {
	switch format {
	case "", "text":
		return TextReporter{}, nil
	case "json":
		return JSONReporter{}, nil
	case "sarif":
		return SARIFReporter{}, nil
	default:
		return nil, fmt.Errorf("diagnostics: unknown format %q", format)
	}
}

// TextReporter renders one line per failed target, colorized with Lip
// Gloss when the output stream is a TTY and the environment doesn't
// request NO_COLOR.
type TextReporter struct{}

// useColor requires both a color-capable environment and stdout itself
// being a terminal, so piped output never carries escape codes.
var useColor = termenv.EnvColorProfile() != termenv.Ascii && isatty.IsTerminal(uintptr(1))

var (
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func (TextReporter) Report(w io.Writer, r Report) error {
	okCount := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			okCount++
			continue
		}
		line := fmt.Sprintf("FAIL %s: %v", o.Target, o.Err)
		if useColor {
			line = failStyle.Render("FAIL") + " " + dimStyle.Render(o.Target) + ": " + o.Err.Error()
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("%d target(s) ok, %d failed", okCount, len(r.Failed()))
	if useColor && len(r.Failed()) == 0 {
		summary = okStyle.Render(summary)
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

// JSONReporter renders a Report as a single JSON object.
type JSONReporter struct{}

type jsonOutcome struct {
	Target      string `json:"target"`
	Rebuilt     bool   `json:"rebuilt"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
	ErrorDetail any    `json:"error_detail,omitempty"`
}

type jsonReport struct {
	Outcomes []jsonOutcome `json:"outcomes"`
	OK       bool          `json:"ok"`
}

func (JSONReporter) Report(w io.Writer, r Report) error {
	out := jsonReport{OK: r.OK()}
	for _, o := range r.Outcomes {
		jo := jsonOutcome{
			Target:     o.Target,
			Rebuilt:    o.Rebuilt,
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			jo.Error = o.Err.Error()
			jo.ErrorDetail = errorDetail(o.Err)
		}
		out.Outcomes = append(out.Outcomes, jo)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// errorDetail extracts a JSON-friendly shape from a diagnostics error kind,
// so machine consumers don't have to parse Error() strings.
func errorDetail(err error) any {
	var bf *BuildFailedError
	var mo *MissingOutputError
	var ut *UnknownTargetError
	var cd *CycleDetectedError
	var ar *AmbiguousRuleError
	var br *BadRequestError
	var cid *ComputedInputsDivergenceError
	var to *TimeoutError
	var ce *CancelledError

	switch {
	case errors.As(err, &bf):
		return map[string]any{"kind": "build_failed", "label": bf.Label, "output": bf.Output, "argv": bf.Argv, "stderr": bf.Stderr, "downstream": bf.Downstream}
	case errors.As(err, &mo):
		return map[string]any{"kind": "missing_output", "label": mo.Label, "output": mo.Output}
	case errors.As(err, &ut):
		return map[string]any{"kind": "unknown_target", "target": ut.Target}
	case errors.As(err, &cd):
		return map[string]any{"kind": "cycle_detected", "cycle": cd.Cycle}
	case errors.As(err, &ar):
		return map[string]any{"kind": "ambiguous_rule", "output": ar.Output, "labels": ar.Labels}
	case errors.As(err, &br):
		return map[string]any{"kind": "bad_request", "reason": br.Reason}
	case errors.As(err, &cid):
		return map[string]any{"kind": "computed_inputs_divergence", "target": cid.Target, "max_depth": cid.MaxDepth}
	case errors.As(err, &to):
		return map[string]any{"kind": "timeout", "label": to.Label, "output": to.Output}
	case errors.As(err, &ce):
		return map[string]any{"kind": "cancelled", "target": ce.Target}
	default:
		return map[string]any{"kind": "unknown"}
	}
}
