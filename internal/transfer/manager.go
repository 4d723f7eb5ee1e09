package transfer

import (
	"errors"
)

// Status is the lifecycle of one transfer.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// ErrUnknownJob is returned for job ids the manager has no record of, for
// example after a restart dropped in-memory transfer state.
var ErrUnknownJob = errors.New("transfer: unknown job")

// Manager moves remote bytes onto the local disk. Implementations own their
// concurrency; Enqueue never blocks on the transfer itself.
type Manager interface {
	// Enqueue registers a transfer of url into destPath.
	Enqueue(jobID, url, destPath string) error

	// Status reports where a transfer currently is.
	Status(jobID string) (Status, string, error)

	// Progress reports completion in [0, 1]. Unknown totals report 0.
	Progress(jobID string) (float64, error)

	// Cancel aborts a pending or running transfer.
	Cancel(jobID string) error

	// Forget drops a finished job's bookkeeping.
	Forget(jobID string)
}
