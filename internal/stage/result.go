// Package stage holds the outcome type shared by pipeline stages.
package stage

// Result is what a best-effort stage hands back to the orchestrator. Text is
// always usable as the stage output; Succeeded and Diagnostic say whether it
// came from the real backend or from a degraded path.
type Result struct {
	Text       string
	Succeeded  bool
	Diagnostic string
}

// Degraded builds a Result for a stage that fell back.
func Degraded(text, diagnostic string) Result {
	return Result{Text: text, Diagnostic: diagnostic}
}

// OK builds a Result for a stage that completed normally.
func OK(text string) Result {
	return Result{Text: text, Succeeded: true}
}
