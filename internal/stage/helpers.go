package stage

import (
	"loom/internal/queue"
	"loom/internal/services"
)

// RequirePlan decodes the plan stored on a record.
// On failure it returns a services.ErrValidation suitable for stage Prepare
// and Execute methods; a record without a usable plan must not be retried.
func RequirePlan(record *queue.Record) (*queue.Plan, error) {
	plan, err := record.Plan()
	if err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "decode plan",
			"run plan missing or invalid; resubmit the run", err)
	}
	return plan, nil
}
