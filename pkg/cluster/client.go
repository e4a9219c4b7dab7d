package cluster

import (
	"context"
	"errors"

	"approver/pkg/proto"
)

// EventType classifies a watch notification.
type EventType string

const (
	EventCreated EventType = "Created"
	EventUpdated EventType = "Updated"
	EventDeleted EventType = "Deleted"
)

// Event is one watch notification: resource identity plus the version token
// observed at delivery time.
type Event struct {
	Type    EventType
	ID      proto.Identity
	Version string
}

var (
	// ErrConflict is returned by Update when the version token no longer
	// matches the observed one; the caller must re-read and re-evaluate.
	ErrConflict = errors.New("version conflict")

	// ErrGone is returned when the task no longer exists.
	ErrGone = errors.New("resource gone")
)

// Client is the contract to the backing resource API. Updates use optimistic
// concurrency: the write succeeds only if the version token is unchanged
// since observedVersion.
type Client interface {
	// Get returns the current task, or ErrGone if it was deleted.
	Get(ctx context.Context, id proto.Identity) (*ApprovalTask, error)

	// List returns a snapshot of all tasks.
	List(ctx context.Context) ([]*ApprovalTask, error)

	// Update applies the task conditionally on observedVersion. Returns the
	// stored task with its advanced version token, ErrConflict on token
	// mismatch, or ErrGone if the task was deleted.
	Update(ctx context.Context, task *ApprovalTask, observedVersion string) (*ApprovalTask, error)

	// Watch delivers create/update/delete events until ctx is cancelled.
	Watch(ctx context.Context) (<-chan Event, error)
}
