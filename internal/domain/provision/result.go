// Package provision defines result and progress types for the staff
// provisioning workflow.
package provision

// Outcome classifies what happened to one signup request within a batch.
type Outcome string

const (
	// OutcomeCreated means a new directory account was created.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means an existing account had its credential rotated.
	OutcomeUpdated Outcome = "updated"
	// OutcomeSkipped means the request was deliberately left pending,
	// e.g. a concurrent create raced us on the same email.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means an error stopped this item; the request stays pending.
	OutcomeFailed Outcome = "failed"
)

// ItemResult is the structured per-request result of a provisioning batch.
type ItemResult struct {
	RequestID int64   `json:"request_id"`
	Email     string  `json:"email"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
	EmailSent bool    `json:"email_sent"`
}

// Summary aggregates a batch. Counts are derived from Items, never tracked
// separately, so the two cannot drift.
type Summary struct {
	Created int          `json:"created"`
	Updated int          `json:"updated"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Items   []ItemResult `json:"items"`
}

// Summarize builds a Summary from per-item results.
func Summarize(items []ItemResult) Summary {
	s := Summary{Items: items}
	for _, it := range items {
		switch it.Outcome {
		case OutcomeCreated:
			s.Created++
		case OutcomeUpdated:
			s.Updated++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeFailed:
			s.Failed++
		}
	}
	return s
}

// Processed returns the number of requests resolved out of the store.
func (s Summary) Processed() int {
	return s.Created + s.Updated
}

// Phase is the stage a provisioning batch is currently in. The orchestrator
// moves through phases in order; ordering guarantees are enforced here rather
// than implied by call order.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseListing   Phase = "listing"
	PhaseResolving Phase = "resolving"
	PhaseMutating  Phase = "mutating"
	PhaseNotifying Phase = "notifying"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// phaseOrder defines the legal forward transitions of a batch.
var phaseOrder = map[Phase][]Phase{
	PhaseIdle:      {PhaseListing},
	PhaseListing:   {PhaseResolving, PhaseFailed},
	// Skipped and unresolvable items bypass Mutating.
	PhaseResolving: {PhaseMutating, PhaseNotifying, PhaseFailed},
	PhaseMutating:  {PhaseNotifying, PhaseFailed},
	PhaseNotifying: {PhaseResolving, PhaseDone, PhaseFailed},
}

// CanAdvance reports whether a batch may move from one phase to another.
// Notifying loops back to Resolving for the next item in the batch.
func CanAdvance(from, to Phase) bool {
	for _, next := range phaseOrder[from] {
		if next == to {
			return true
		}
	}
	return false
}
