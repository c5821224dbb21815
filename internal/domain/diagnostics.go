package domain

import "time"

// CheckStatus is the outcome of a single environment check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// CheckResult describes one environment check with an optional remedy.
type CheckResult struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Hint    string      `json:"hint,omitempty"`
}

// DiagnosticReport groups check results for the UI and the CLI doctor command.
type DiagnosticReport struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	HasFailures bool          `json:"hasFailures"`
	Checks      []CheckResult `json:"checks"`
}
