package driver

import (
	"fmt"

	"github.com/agentbench/harness/internal/result"
	"github.com/agentbench/harness/internal/validator"
)

// Aggregate folds per-instance attempt lists into the result artifact: one
// inner slice per task, each holding that task's k independent attempts in
// the order they were run.
func Aggregate(perInstance [][]result.AttemptResult, k int) result.Artifact {
	a := result.Artifact{
		TotalTasks:  len(perInstance),
		MaxAttempts: k,
		PassAtK:     make(map[string]float64, k),
	}

	var sumBestScore, sumTurns, sumBashChars float64
	var turnCount int
	passCountAtJ := make([]int, k+1) // 1-indexed; passCountAtJ[j] = instances resolved within first j attempts

	for _, attempts := range perInstance {
		for _, r := range attempts {
			a.Results = append(a.Results, r)
			switch r.Status {
			case result.StatusValidated:
				a.Validated++
			case result.StatusNoPatch:
				a.NoPatch++
			case result.StatusError:
				a.Errors++
			}
			if r.Validation != nil {
				a.TestsPassed += countPassed(r.Validation.FailToPass) + countPassed(r.Validation.PassToPass)
				a.TestsFailed += countFailed(r.Validation.FailToPass) + countFailed(r.Validation.PassToPass)
			}
			sumTurns += float64(r.Turns)
			sumBashChars += float64(r.BashStdoutChars)
			turnCount++
		}

		best := bestScore(attempts)
		sumBestScore += best
		if best == 1.0 {
			a.Resolved++
		}

		resolvedByJ := firstResolvedAttemptIndex(attempts)
		for j := 1; j <= k; j++ {
			if resolvedByJ != -1 && resolvedByJ < j {
				passCountAtJ[j]++
			}
		}
	}

	n := len(perInstance)
	if n > 0 {
		a.AverageBestOfKScore = sumBestScore / float64(n)
		a.ResolveRate = float64(a.Resolved) / float64(n)
	}
	if turnCount > 0 {
		a.AverageTurns = sumTurns / float64(turnCount)
		a.AvgBashStdoutChars = sumBashChars / float64(turnCount)
	}
	for j := 1; j <= k; j++ {
		rate := 0.0
		if n > 0 {
			rate = float64(passCountAtJ[j]) / float64(n)
		}
		a.PassAtK[fmt.Sprintf("pass@%d", j)] = rate
	}

	return a
}

func bestScore(attempts []result.AttemptResult) float64 {
	best := 0.0
	for _, r := range attempts {
		if r.Score > best {
			best = r.Score
		}
	}
	return best
}

// firstResolvedAttemptIndex returns the 0-based index of the first fully
// resolved attempt (score == 1.0), or -1 if none resolved.
func firstResolvedAttemptIndex(attempts []result.AttemptResult) int {
	for i, r := range attempts {
		if r.Score == 1.0 {
			return i
		}
	}
	return -1
}

func countPassed(results []validator.TestResult) int {
	n := 0
	for _, r := range results {
		if r.Passed {
			n++
		}
	}
	return n
}

func countFailed(results []validator.TestResult) int {
	return len(results) - countPassed(results)
}
