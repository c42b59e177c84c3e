package result

import "fmt"

// Artifact is the outbound result object of a full evaluation run:
// aggregate counts, pass@k for every j in 1..k, best-of-k averages, and the
// full per-attempt record list.
type Artifact struct {
	TotalTasks int `json:"total_tasks"`
	Validated  int `json:"validated"`
	NoPatch    int `json:"no_patch"`
	Errors     int `json:"errors"`

	TestsPassed int `json:"tests_passed"`
	TestsFailed int `json:"tests_failed"`

	AverageBestOfKScore float64 `json:"average_best_of_k_score"`
	AverageTurns        float64 `json:"average_turns"`
	AvgBashStdoutChars  float64 `json:"avg_bash_stdout_chars"`

	Resolved    int     `json:"resolved"`
	ResolveRate float64 `json:"resolve_rate"`

	// PassAtK maps "pass@1".."pass@k" to the fraction of instances resolved
	// within their first j attempts.
	PassAtK map[string]float64 `json:"pass_at_k"`

	MaxAttempts int `json:"max_attempts"`

	Results []AttemptResult `json:"results"`
}

// Summary renders the short human-readable text summary the result
// artifact ships alongside the structured object.
func (a Artifact) Summary() string {
	return fmt.Sprintf(
		"%d tasks evaluated (max_attempts=%d): %d validated, %d no_patch, %d errors; "+
			"resolve_rate=%.1f%% (%d/%d); best-of-k score=%.3f; pass@1=%.3f pass@%d=%.3f; "+
			"avg turns=%.1f; tests passed/failed=%d/%d",
		a.TotalTasks, a.MaxAttempts, a.Validated, a.NoPatch, a.Errors,
		a.ResolveRate*100, a.Resolved, a.TotalTasks, a.AverageBestOfKScore,
		a.PassAtK["pass@1"], a.MaxAttempts, a.PassAtK[fmt.Sprintf("pass@%d", a.MaxAttempts)],
		a.AverageTurns, a.TestsPassed, a.TestsFailed,
	)
}
