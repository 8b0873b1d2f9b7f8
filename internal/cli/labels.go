package cli

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ozontrans/internal/domain"
)

var titler = cases.Title(language.Und)

// ModeLabel renders a translate mode for terminal output.
func ModeLabel(mode domain.TranslateMode) string {
	switch mode {
	case domain.ModeOriginal:
		return "Original ratio"
	case domain.ModeFixedAspect:
		return "Marketplace 3:4"
	}
	return titler.String(strings.ReplaceAll(string(mode), "_", " "))
}

// StatusLabel renders a job status for terminal output.
func StatusLabel(status domain.JobStatus) string {
	return titler.String(string(status))
}

// OutcomeLabel renders a per-item outcome line.
func OutcomeLabel(o domain.Outcome) string {
	if o.Status == domain.OutcomeSuccess {
		return "ok      " + o.SourceName + " -> " + o.OutputName
	}
	reason := o.Error
	if reason == "" {
		reason = "unknown error"
	}
	return "failed  " + o.SourceName + " (" + reason + ")"
}
