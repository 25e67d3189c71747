package sync

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
	"github.com/n2ilva/agendafamiliar-sub000/internal/store"
)

type dispatcherFixture struct {
	remote     *store.MemoryRemote
	queue      *Queue
	guard      *PendingGuard
	dispatcher *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	queue, err := NewQueue(t.TempDir())
	require.NoError(t, err)

	remote := store.NewMemoryRemote()
	guard := NewPendingGuard()
	d := NewDispatcher(DispatcherOptions{
		Queue:            queue,
		Remote:           remote,
		Guard:            guard,
		Logger:           log.New(io.Discard, "", 0),
		ProtectionWindow: 50 * time.Millisecond,
		OfflineRelease:   20 * time.Millisecond,
	})
	return &dispatcherFixture{remote: remote, queue: queue, guard: guard, dispatcher: d}
}

func TestDispatcher_ConfirmedOpLeavesLaterHoldAlone(t *testing.T) {
	queue, err := NewQueue(t.TempDir())
	require.NoError(t, err)
	remote := store.NewMemoryRemote()
	guard := NewPendingGuard()
	d := NewDispatcher(DispatcherOptions{
		Queue:            queue,
		Remote:           remote,
		Guard:            guard,
		Logger:           log.New(io.Discard, "", 0),
		ProtectionWindow: 30 * time.Millisecond,
		OfflineRelease:   10 * time.Second,
	})
	ctx := context.Background()

	// First edit delivers and confirms while online.
	require.NoError(t, d.Enqueue(ctx, NewTaskOp(OpUpdate, model.TaskRecord{ID: "t1", FamilyID: "fam1"}, time.Now())))
	require.Equal(t, 0, d.Pending())

	// Second edit for the same task queues offline under its own window.
	remote.SetOnline(false)
	require.NoError(t, d.Enqueue(ctx, NewTaskOp(OpUpdate, model.TaskRecord{ID: "t1", FamilyID: "fam1"}, time.Now())))
	require.True(t, guard.IsHeld("t1"))

	// Long past the first op's fallback window: only the second op's own
	// window may release its hold.
	time.Sleep(100 * time.Millisecond)
	assert.True(t, guard.IsHeld("t1"))
	assert.Equal(t, 1, d.Pending())
}

func TestDispatcher_RestartFlushLeavesForeignHoldsAlone(t *testing.T) {
	dir := t.TempDir()

	q1, err := NewQueue(dir)
	require.NoError(t, err)
	require.NoError(t, q1.Append(NewTaskOp(OpUpdate, model.TaskRecord{ID: "t1", FamilyID: "fam1"}, time.Now())))

	// Restart: the op is reloaded from disk, so no hold belongs to it.
	q2, err := NewQueue(dir)
	require.NoError(t, err)
	guard := NewPendingGuard()
	d := NewDispatcher(DispatcherOptions{
		Queue:  q2,
		Remote: store.NewMemoryRemote(),
		Guard:  guard,
		Logger: log.New(io.Discard, "", 0),
	})

	// A fresh local mutation holds the same id.
	guard.Acquire("t1")

	require.NoError(t, d.Flush(context.Background()))
	assert.Equal(t, 0, d.Pending())
	assert.True(t, guard.IsHeld("t1"))
}

func TestDispatcher_OnlineDeliversAndReleases(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	op := NewTaskOp(OpCreate, model.TaskRecord{ID: "t1", Title: "dishes", FamilyID: "fam1"}, time.Now())
	require.NoError(t, f.dispatcher.Enqueue(ctx, op))

	assert.Equal(t, 0, f.dispatcher.Pending())
	assert.False(t, f.guard.IsHeld("t1"))

	recs, err := f.remote.FetchFamilyTasks(ctx, "fam1", "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "t1", recs[0].ID)
}

func TestDispatcher_OfflineQueuesWithBoundedProtection(t *testing.T) {
	f := newDispatcherFixture(t)
	f.remote.SetOnline(false)
	ctx := context.Background()

	op := NewTaskOp(OpUpdate, model.TaskRecord{ID: "t1", FamilyID: "fam1"}, time.Now())
	require.NoError(t, f.dispatcher.Enqueue(ctx, op))

	assert.Equal(t, 1, f.dispatcher.Pending())
	assert.True(t, f.dispatcher.PendingTask("t1"))
	assert.True(t, f.guard.IsHeld("t1"))

	// No acknowledgement can arrive offline; protection lapses on its own
	// while the op itself stays queued.
	assert.Eventually(t, func() bool { return !f.guard.IsHeld("t1") },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.dispatcher.Pending())
}

func TestDispatcher_FlushAfterReconnect(t *testing.T) {
	f := newDispatcherFixture(t)
	f.remote.SetOnline(false)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Enqueue(ctx, NewTaskOp(OpCreate, model.TaskRecord{ID: "t1", FamilyID: "fam1"}, time.Now())))
	require.NoError(t, f.dispatcher.Enqueue(ctx, NewTaskOp(OpCreate, model.TaskRecord{ID: "t2", FamilyID: "fam1"}, time.Now())))
	require.Equal(t, 2, f.dispatcher.Pending())

	f.remote.SetOnline(true)
	require.NoError(t, f.dispatcher.Flush(ctx))

	assert.Equal(t, 0, f.dispatcher.Pending())
	recs, err := f.remote.FetchFamilyTasks(ctx, "fam1", "u1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDispatcher_RejectedRetriesFamilyPath(t *testing.T) {
	f := newDispatcherFixture(t)
	f.remote.WriteTaskErr = store.ErrRemoteRejected
	ctx := context.Background()

	op := NewTaskOp(OpUpdate, model.TaskRecord{ID: "t1", Title: "homework", FamilyID: "fam1"}, time.Now())
	require.NoError(t, f.dispatcher.Enqueue(ctx, op))

	// Direct write was refused; the family-scoped path carried it through.
	assert.Equal(t, 0, f.dispatcher.Pending())
	recs, err := f.remote.FetchFamilyTasks(ctx, "fam1", "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "homework", recs[0].Title)
}

func TestDispatcher_RejectedOnBothPathsStaysQueued(t *testing.T) {
	f := newDispatcherFixture(t)
	f.remote.WriteTaskErr = store.ErrRemoteRejected
	f.remote.WriteFamilyErr = store.ErrRemoteRejected
	ctx := context.Background()

	op := NewTaskOp(OpUpdate, model.TaskRecord{ID: "t1", FamilyID: "fam1"}, time.Now())
	require.NoError(t, f.dispatcher.Enqueue(ctx, op))

	require.Equal(t, 1, f.dispatcher.Pending())

	// A later pass succeeds once the rejection clears.
	f.remote.WriteTaskErr = nil
	f.remote.WriteFamilyErr = nil
	require.NoError(t, f.dispatcher.Flush(ctx))
	assert.Equal(t, 0, f.dispatcher.Pending())
}

func TestDispatcher_PrivateTaskNeverUsesFamilyPath(t *testing.T) {
	f := newDispatcherFixture(t)
	f.remote.WriteTaskErr = store.ErrRemoteRejected
	ctx := context.Background()

	op := NewTaskOp(OpUpdate, model.TaskRecord{ID: "p1", Private: true}, time.Now())
	require.NoError(t, f.dispatcher.Enqueue(ctx, op))

	assert.Equal(t, 1, f.dispatcher.Pending())
}

func TestDispatcher_DeleteDelivered(t *testing.T) {
	f := newDispatcherFixture(t)
	f.remote.Seed(model.TaskRecord{ID: "t1", FamilyID: "fam1"})
	ctx := context.Background()

	op := NewTaskOp(OpDelete, model.TaskRecord{ID: "t1", FamilyID: "fam1"}, time.Now())
	require.NoError(t, f.dispatcher.Enqueue(ctx, op))

	recs, err := f.remote.FetchFamilyTasks(ctx, "fam1", "u1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDispatcher_ApprovalOps(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	rec := model.ApprovalRecord{ID: "a1", TaskID: "t1", RequesterID: "u2", Status: "pending", FamilyID: "fam1"}
	require.NoError(t, f.dispatcher.Enqueue(ctx, NewApprovalOp(OpCreate, rec, time.Now())))

	got, err := f.remote.FetchApprovals(ctx, "fam1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	require.NoError(t, f.dispatcher.Enqueue(ctx, NewApprovalOp(OpDelete, rec, time.Now())))
	got, err = f.remote.FetchApprovals(ctx, "fam1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
