package sync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
	"github.com/n2ilva/agendafamiliar-sub000/internal/store"
)

// Dispatcher delivers queued operations to the remote store
// exactly-once-effectively: writes are idempotent upserts by id, so a
// redelivered or out-of-order op is harmless once the LWW merge reads the
// store again. Flushes are driven by periodic ticks and
// connectivity-regained events, never by tight retry loops.
type Dispatcher struct {
	queue  *Queue
	remote store.Remote
	guard  *PendingGuard
	logger *log.Logger

	// protection bounds how long an in-flight id stays opaque to the merge
	// engine when no acknowledgement arrives; offlineRelease is the shorter
	// fallback used when the op cannot even be sent yet.
	protection     time.Duration
	offlineRelease time.Duration

	// timers maps op id to its fallback release timer. Each op owns exactly
	// one hold and one fallback; confirming an op must settle that op's
	// hold only, never a later op's hold on the same task id.
	mu     sync.Mutex
	timers map[string]*time.Timer
}

type DispatcherOptions struct {
	Queue  *Queue
	Remote store.Remote
	Guard  *PendingGuard
	Logger *log.Logger

	ProtectionWindow time.Duration
	OfflineRelease   time.Duration
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.ProtectionWindow <= 0 {
		opts.ProtectionWindow = 15 * time.Second
	}
	if opts.OfflineRelease <= 0 {
		opts.OfflineRelease = 10 * time.Second
	}
	return &Dispatcher{
		queue:          opts.Queue,
		remote:         opts.Remote,
		guard:          opts.Guard,
		logger:         opts.Logger,
		protection:     opts.ProtectionWindow,
		offlineRelease: opts.OfflineRelease,
		timers:         map[string]*time.Timer{},
	}
}

// NewTaskOp builds a queued task mutation.
func NewTaskOp(t OpType, rec model.TaskRecord, now time.Time) Operation {
	return Operation{
		ID:         uuid.New().String(),
		Type:       t,
		Collection: CollectionTasks,
		TargetID:   rec.ID,
		EnqueuedAt: now,
		Task:       &rec,
	}
}

// NewApprovalOp builds a queued approval mutation.
func NewApprovalOp(t OpType, rec model.ApprovalRecord, now time.Time) Operation {
	return Operation{
		ID:         uuid.New().String(),
		Type:       t,
		Collection: CollectionApprovals,
		TargetID:   rec.ID,
		EnqueuedAt: now,
		Approval:   &rec,
	}
}

// Enqueue appends op to the durable queue, takes in-flight protection for
// its task id and, when online, flushes immediately. Offline the op stays
// queued and the protection is released after the bounded fallback delay
// so callers are not left waiting for an acknowledgement that cannot
// arrive.
func (d *Dispatcher) Enqueue(ctx context.Context, op Operation) error {
	id := op.TaskID()
	if id != "" {
		d.guard.Acquire(id)
	}
	if err := d.queue.Append(op); err != nil {
		if id != "" {
			d.guard.Release(id)
		}
		return err
	}
	online := d.remote.Online()
	if id != "" {
		// Fallback in case no acknowledgement arrives: the shorter offline
		// delay when the op cannot even be sent, the full protection window
		// otherwise. The timer is stopped on confirmation.
		window := d.protection
		if !online {
			window = d.offlineRelease
		}
		d.mu.Lock()
		d.timers[op.ID] = d.guard.ReleaseAfter(id, window)
		d.mu.Unlock()
	}
	if !online {
		return nil
	}
	if err := d.Flush(ctx); err != nil {
		d.logger.Printf("sync: flush after enqueue: %v", err)
	}
	return nil
}

// Flush sends queued operations in FIFO order. Delivered ops leave the
// queue and release their in-flight id; a failed op stays queued and stops
// the pass (later ticks retry).
func (d *Dispatcher) Flush(ctx context.Context) error {
	if !d.remote.Online() {
		return nil
	}
	for {
		op, ok := d.queue.Head()
		if !ok {
			return nil
		}
		if err := d.deliver(ctx, op); err != nil {
			if errors.Is(err, store.ErrRemoteRejected) {
				if err2 := d.deliverFamily(ctx, op); err2 == nil {
					d.confirm(op)
					continue
				}
				d.logger.Printf("sync: op %s rejected, re-queued: %v", op.ID, err)
				return err
			}
			return err
		}
		d.confirm(op)
	}
}

func (d *Dispatcher) confirm(op Operation) {
	if err := d.queue.Remove(op.ID); err != nil {
		d.logger.Printf("sync: dequeue op %s: %v", op.ID, err)
	}
	id := op.TaskID()
	if id == "" {
		return
	}
	d.mu.Lock()
	timer, tracked := d.timers[op.ID]
	delete(d.timers, op.ID)
	d.mu.Unlock()
	if !tracked {
		// Queued by an earlier run; this process holds nothing for it.
		return
	}
	if timer.Stop() {
		d.guard.Release(id)
	}
	// Stop lost the race: the fallback already released this op's hold.
}

func (d *Dispatcher) deliver(ctx context.Context, op Operation) error {
	switch op.Collection {
	case CollectionTasks:
		if op.Type == OpDelete {
			return d.remote.DeleteTask(ctx, op.TargetID)
		}
		if op.Task == nil {
			return nil
		}
		_, err := d.remote.WriteTask(ctx, *op.Task)
		return err
	case CollectionApprovals:
		if op.Type == OpDelete {
			return d.remote.DeleteApproval(ctx, op.TargetID)
		}
		if op.Approval == nil {
			return nil
		}
		return d.remote.WriteApproval(ctx, *op.Approval)
	}
	return nil
}

// deliverFamily retries a rejected task write through the family-scoped
// path, which tolerates membership races the direct path does not.
func (d *Dispatcher) deliverFamily(ctx context.Context, op Operation) error {
	if op.Collection != CollectionTasks || op.Type == OpDelete || op.Task == nil {
		return store.ErrRemoteRejected
	}
	if op.Task.Private || op.Task.FamilyID == "" {
		return store.ErrRemoteRejected
	}
	_, err := d.remote.WriteFamilyTask(ctx, op.Task.FamilyID, *op.Task)
	return err
}

// Pending is the count of operations still awaiting delivery.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// PendingTask reports whether a mutation for the task is still queued.
func (d *Dispatcher) PendingTask(id model.TaskID) bool {
	return d.queue.HasTask(id)
}

// PendingApproval reports whether a mutation for the approval is still
// queued.
func (d *Dispatcher) PendingApproval(id string) bool {
	return d.queue.HasApproval(id)
}
