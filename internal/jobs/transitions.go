package jobs

import (
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/brandlens/backend/internal/models"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid job status transition")

// checkTransition validates from -> to. Triggers are the target statuses.
func checkTransition(from, to models.JobStatus) error {
	machine := stateless.NewStateMachine(from)

	machine.Configure(models.JobStatusPending).
		PermitReentry(models.JobStatusPending).
		Permit(models.JobStatusRunning, models.JobStatusRunning).
		Permit(models.JobStatusCancelled, models.JobStatusCancelled).
		Permit(models.JobStatusFailed, models.JobStatusFailed)

	machine.Configure(models.JobStatusRunning).
		PermitReentry(models.JobStatusRunning).
		Permit(models.JobStatusCompleted, models.JobStatusCompleted).
		Permit(models.JobStatusFailed, models.JobStatusFailed).
		Permit(models.JobStatusCancelled, models.JobStatusCancelled)

	// Terminal states accept no triggers.
	machine.Configure(models.JobStatusCompleted)
	machine.Configure(models.JobStatusFailed)
	machine.Configure(models.JobStatusCancelled)

	if err := machine.Fire(to); err != nil {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
