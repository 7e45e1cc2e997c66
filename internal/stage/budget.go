package stage

import "time"

// Budgets is the fixed per-stage timeout/retry/backoff table (spec.md §4.2).
// It is not configuration: the budget table is a closed part of the pipeline
// contract, not a tunable.
var Budgets = struct {
	Normalize      Budget
	ModerateInput  Budget
	Story          Budget
	Character      Budget
	Prompts        Budget
	Image          Budget
	ModerateOutput Budget
	Package        Budget
}{
	Normalize:      Budget{Timeout: 0, Retries: 0},
	ModerateInput:  Budget{Timeout: 10 * time.Second, Retries: 0},
	Story:          Budget{Timeout: 30 * time.Second, Retries: 2, Backoff: []time.Duration{2 * time.Second, 5 * time.Second}},
	Character:      Budget{Timeout: 20 * time.Second, Retries: 1, Backoff: []time.Duration{2 * time.Second}},
	Prompts:        Budget{Timeout: 30 * time.Second, Retries: 1, Backoff: []time.Duration{2 * time.Second}},
	Image:          Budget{Timeout: 90 * time.Second, Retries: 2, Backoff: []time.Duration{2 * time.Second, 5 * time.Second, 12 * time.Second}},
	ModerateOutput: Budget{Timeout: 10 * time.Second, Retries: 0},
	Package:        Budget{Timeout: 30 * time.Second, Retries: 1},
}

// SafetyOutputMaxRewrites is the number of Stage G rewrite cycles attempted
// before a SAFETY_OUTPUT violation becomes terminal (spec.md §4.2).
const SafetyOutputMaxRewrites = 2

// ProgressStageA..ProgressStageH are the fixed, monotone progress schedule
// (spec.md §4.2). Stage F interpolates linearly between ProgressStageE and
// ProgressStageF as each image finishes.
const (
	ProgressStageA = 5
	ProgressStageB = 10
	ProgressStageC = 30
	ProgressStageD = 40
	ProgressStageE = 55
	ProgressStageF = 95
	ProgressStageG = 95
	ProgressStageH = 100
)
