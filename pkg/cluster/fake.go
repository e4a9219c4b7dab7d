package cluster

import (
	"context"
	"fmt"
	"sync"

	"approver/pkg/proto"
)

// Fake is an in-memory Client used by tests and the local demo flow. It
// honors the same optimistic-concurrency contract as the real resource API:
// every write advances the version token, and conditional updates conflict
// on token mismatch.
type Fake struct {
	mu       sync.Mutex
	tasks    map[proto.Identity]*ApprovalTask
	nextVer  int64
	watchers []chan Event
}

// NewFake creates an empty fake cluster.
func NewFake() *Fake {
	return &Fake{
		tasks:   make(map[proto.Identity]*ApprovalTask),
		nextVer: 1,
	}
}

func (f *Fake) bumpVersionLocked() string {
	v := fmt.Sprintf("%d", f.nextVer)
	f.nextVer++
	return v
}

func (f *Fake) notifyLocked(ev Event) {
	for _, ch := range f.watchers {
		// Watch channels are buffered; a stalled watcher drops events rather
		// than blocking writers, matching real watch semantics.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Create stores a new task and emits a Created event.
func (f *Fake) Create(task *ApprovalTask) *ApprovalTask {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := task.DeepCopy()
	cp.Version = f.bumpVersionLocked()
	if cp.Status.State == "" {
		cp.Status.State = proto.StatusPending
	}
	f.tasks[cp.ID] = cp
	f.notifyLocked(Event{Type: EventCreated, ID: cp.ID, Version: cp.Version})
	return cp.DeepCopy()
}

// Delete removes a task and emits a Deleted event.
func (f *Fake) Delete(id proto.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if task, ok := f.tasks[id]; ok {
		delete(f.tasks, id)
		f.notifyLocked(Event{Type: EventDeleted, ID: id, Version: task.Version})
	}
}

// Get implements Client.
func (f *Fake) Get(_ context.Context, id proto.Identity) (*ApprovalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrGone)
	}
	return task.DeepCopy(), nil
}

// List implements Client.
func (f *Fake) List(_ context.Context) ([]*ApprovalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tasks := make([]*ApprovalTask, 0, len(f.tasks))
	for _, task := range f.tasks {
		tasks = append(tasks, task.DeepCopy())
	}
	return tasks, nil
}

// Update implements Client with compare-and-swap on the version token.
func (f *Fake) Update(_ context.Context, task *ApprovalTask, observedVersion string) (*ApprovalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, ok := f.tasks[task.ID]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", task.ID, ErrGone)
	}
	if current.Version != observedVersion {
		return nil, fmt.Errorf("update %s: observed %s, current %s: %w",
			task.ID, observedVersion, current.Version, ErrConflict)
	}

	cp := task.DeepCopy()
	cp.Version = f.bumpVersionLocked()
	f.tasks[task.ID] = cp
	f.notifyLocked(Event{Type: EventUpdated, ID: cp.ID, Version: cp.Version})
	return cp.DeepCopy(), nil
}

// Watch implements Client. The returned channel closes when ctx is cancelled.
func (f *Fake) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)

	f.mu.Lock()
	f.watchers = append(f.watchers, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		for i, w := range f.watchers {
			if w == ch {
				f.watchers = append(f.watchers[:i], f.watchers[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
