// Package crawl drives resumable, ledger-backed crawl executions.
package crawl

// Outcome is the explicit result of crawling one region or running one
// execution. Callers switch on it to decide between continue, pause and
// abort instead of inspecting error types.
type Outcome int

const (
	// OutcomeCompleted means every page of the unit was fetched.
	OutcomeCompleted Outcome = iota
	// OutcomeBlocked means the remote service returned consecutive empty
	// batches despite a known nonzero total. Recovery needs a fresh token.
	OutcomeBlocked
	// OutcomeTokenExpired means the captcha token became invalid. The
	// execution is paused until an operator stores a new token.
	OutcomeTokenExpired
	// OutcomeFailed means a non-recoverable regional failure.
	OutcomeFailed
	// OutcomeStopped means the run hit its max_results cap or was
	// cancelled before finishing.
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeTokenExpired:
		return "token_expired"
	case OutcomeFailed:
		return "failed"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
