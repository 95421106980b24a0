package diagnostics

import (
	"io"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"
)

const (
	toolName = "kake"
	toolURI  = "https://github.com/kakebuild/kake"
)

// SARIFReporter renders failed outcomes as a SARIF 2.1.0 run, one result
// per failed target, for CI systems (GitHub code scanning, Azure DevOps)
// that understand the format.
type SARIFReporter struct {
	ToolVersion string
}

func (r SARIFReporter) Report(w io.Writer, rep Report) error {
	report := sarif.NewReport()
	run := sarif.NewRunWithInformationURI(toolName, toolURI)
	if r.ToolVersion != "" {
		run.Tool.Driver.WithVersion(r.ToolVersion)
	}

	run.AddRule("build-failed").WithShortDescription(
		sarif.NewMultiformatMessageString().WithText("target failed to build"),
	)

	for _, o := range rep.Failed() {
		result := sarif.NewRuleResult("build-failed").
			WithMessage(sarif.NewTextMessage(o.Err.Error())).
			WithLevel("error")

		physicalLocation := sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewSimpleArtifactLocation(o.Target))
		result.WithLocations([]*sarif.Location{
			sarif.NewLocationWithPhysicalLocation(physicalLocation),
		})

		run.AddResult(result)
	}

	report.AddRun(run)
	return report.PrettyWrite(w)
}
