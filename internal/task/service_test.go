package task

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
	tasksync "github.com/n2ilva/agendafamiliar-sub000/internal/sync"
)

type fixture struct {
	svc     *Service
	remote  *store.MemoryRemote
	cache   *store.FileCache
	members *store.StaticMembership
	guard   *tasksync.PendingGuard
	queue   *tasksync.Queue

	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	cache, err := store.NewFileCache(dir, 24*time.Hour)
	require.NoError(t, err)
	queue, err := tasksync.NewQueue(dir)
	require.NoError(t, err)

	remote := store.NewMemoryRemote()
	members := store.NewStaticMembership()
	guard := tasksync.NewPendingGuard()
	logger := log.New(io.Discard, "", 0)

	f := &fixture{
		remote:  remote,
		cache:   cache,
		members: members,
		guard:   guard,
		queue:   queue,
		clock:   time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	dispatcher := tasksync.NewDispatcher(tasksync.DispatcherOptions{
		Queue:            queue,
		Remote:           remote,
		Guard:            guard,
		Logger:           logger,
		ProtectionWindow: 50 * time.Millisecond,
		OfflineRelease:   20 * time.Millisecond,
	})

	svc, err := NewService(Options{
		Cache:      cache,
		Remote:     remote,
		Membership: members,
		Guard:      guard,
		Dispatcher: dispatcher,
		Logger:     logger,
		FamilyID:   "fam1",
		UserID:     "u1",
		Now:        func() time.Time { return f.clock },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) today() string { return f.clock.Format(model.DateLayout) }

func (f *fixture) tomorrow() string { return f.clock.AddDate(0, 0, 1).Format(model.DateLayout) }

var (
	admin = model.PrivilegedActor("u1", "Ana")
	dep   = model.RestrictedActor("u2", "Leo", model.Permissions{})
)

func TestCreate_WritesCacheAndRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "dishes"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, created.Status)
	require.NotNil(t, created.FamilyID)
	assert.Equal(t, "fam1", *created.FamilyID)

	// Delivered immediately while online.
	assert.Equal(t, 0, f.svc.PendingOps())
	recs, err := f.remote.FetchFamilyTasks(ctx, "fam1", "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, string(created.ID), recs[0].ID)

	// And durable locally.
	cached, err := f.cache.GetTasks()
	require.NoError(t, err)
	require.Len(t, cached, 1)
}

func TestCreate_TitleRequired(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), admin, Draft{})
	assert.ErrorIs(t, err, ErrTitleRequired)
}

func TestCreate_RestrictedNeedsGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, dep, Draft{Title: "x"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	f.members.Grant("fam1", "u2", model.Permissions{Create: true})
	_, err = f.svc.Create(ctx, dep, Draft{Title: "x"})
	assert.NoError(t, err)
}

func TestCreate_RevokedPermissionTakesEffectImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.members.Grant("fam1", "u2", model.Permissions{Create: true})
	_, err := f.svc.Create(ctx, dep, Draft{Title: "first"})
	require.NoError(t, err)

	f.members.Revoke("fam1", "u2")
	_, err = f.svc.Create(ctx, dep, Draft{Title: "second"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCreate_IntervalAnchorsOnDueDate(t *testing.T) {
	f := newFixture(t)
	due := f.tomorrow()

	created, err := f.svc.Create(context.Background(), admin, Draft{
		Title:   "water plants",
		DueDate: &due,
		Recur:   model.Recurrence{Type: model.RecurrenceInterval, IntervalDays: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, due, created.Recurrence.Anchor)
}

func TestCreate_EveryRecurrenceGetsAnchor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A duration cap on a daily task needs an anchor to expire from.
	withDue := f.tomorrow()
	created, err := f.svc.Create(ctx, admin, Draft{
		Title:   "medication",
		DueDate: &withDue,
		Recur:   model.Recurrence{Type: model.RecurrenceDaily, DurationMonths: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, withDue, created.Recurrence.Anchor)

	// No due date: anchored on the creation day.
	created, err = f.svc.Create(ctx, admin, Draft{
		Title: "stretching",
		Recur: model.Recurrence{Type: model.RecurrenceWeekly, Weekdays: []int{1}, DurationMonths: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, f.today(), created.Recurrence.Anchor)
}

func TestEdit_PatchSemantics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.tomorrow()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "old", DueDate: &due})
	require.NoError(t, err)

	f.advance(time.Minute)
	title := "new"
	clear := ""
	edited, err := f.svc.Edit(ctx, admin, created.ID, Patch{Title: &title, DueDate: &clear})
	require.NoError(t, err)

	assert.Equal(t, "new", edited.Title)
	assert.Nil(t, edited.DueDate)
	require.NotNil(t, edited.EditedAt)
	assert.True(t, edited.EditedAt.After(created.CreatedAt))
	require.NotNil(t, edited.EditedBy)
	assert.Equal(t, "u1", *edited.EditedBy)
}

func TestEdit_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Edit(context.Background(), admin, "missing", Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_RemovesEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "tmp"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, admin, created.ID))

	_, err = f.svc.Get(created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := f.remote.FetchFamilyTasks(ctx, "fam1", "u1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestComplete_PrivilegedDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "dishes"})
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.True(t, done.Completed)
	assert.Equal(t, model.StatusApproved, done.Status)
	assert.Empty(t, f.svc.Approvals())

	// Completing again is a no-op, not an error.
	again, err := f.svc.Complete(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.True(t, again.Completed)
}

func TestComplete_NotEligibleBeforeDueDate(t *testing.T) {
	f := newFixture(t)
	due := f.tomorrow()

	created, err := f.svc.Create(context.Background(), admin, Draft{
		Title:   "take out trash",
		DueDate: &due,
		Recur:   model.Recurrence{Type: model.RecurrenceDaily},
	})
	require.NoError(t, err)

	_, err = f.svc.Complete(context.Background(), admin, created.ID)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestComplete_RestrictedParksInPendingApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "homework"})
	require.NoError(t, err)

	parked, err := f.svc.Complete(ctx, dep, created.ID)
	require.NoError(t, err)
	assert.False(t, parked.Completed)
	assert.Equal(t, model.StatusPendingApproval, parked.Status)
	require.NotNil(t, parked.ApprovalID)

	approvals := f.svc.Approvals()
	require.Len(t, approvals, 1)
	assert.Equal(t, created.ID, approvals[0].TaskID)
	assert.Equal(t, "u2", approvals[0].RequesterID)
	assert.Equal(t, model.ApprovalPending, approvals[0].Status)

	// A second attempt while the first request is open is refused and
	// creates no duplicate.
	_, err = f.svc.Complete(ctx, dep, created.ID)
	assert.ErrorIs(t, err, ErrApprovalPending)
	assert.Len(t, f.svc.Approvals(), 1)
}

func TestRequestCompletion_PrivilegedShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "dishes"})
	require.NoError(t, err)

	ap, err := f.svc.RequestCompletion(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.Nil(t, ap)

	got, err := f.svc.Get(created.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
}

func TestApprove_CompletesAndSpawnsNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.today()

	created, err := f.svc.Create(ctx, admin, Draft{
		Title:   "feed the cat",
		DueDate: &due,
		Recur:   model.Recurrence{Type: model.RecurrenceDaily},
	})
	require.NoError(t, err)

	ap, err := f.svc.RequestCompletion(ctx, dep, created.ID)
	require.NoError(t, err)
	require.NotNil(t, ap)

	f.advance(time.Minute)
	resolved, err := f.svc.Approve(ctx, admin, ap.ID, "nice work")
	require.NoError(t, err)
	assert.True(t, resolved.Completed)
	assert.Equal(t, model.StatusApproved, resolved.Status)
	assert.Nil(t, resolved.ApprovalID)
	assert.Empty(t, f.svc.Approvals())

	// The ratified occurrence stays done; tomorrow's is a new task.
	tasks := f.svc.Tasks()
	require.Len(t, tasks, 2)
	var next model.Task
	for _, tk := range tasks {
		if tk.ID != created.ID {
			next = tk
		}
	}
	assert.False(t, next.Completed)
	assert.Equal(t, model.StatusPending, next.Status)
	require.NotNil(t, next.DueDate)
	assert.Equal(t, f.tomorrow(), *next.DueDate)

	// The resolved approval left the remote store too.
	got, err := f.remote.FetchApprovals(ctx, "fam1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestApprove_NoSpawnAtRequestTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.today()

	created, err := f.svc.Create(ctx, admin, Draft{
		Title:   "feed the cat",
		DueDate: &due,
		Recur:   model.Recurrence{Type: model.RecurrenceDaily},
	})
	require.NoError(t, err)

	_, err = f.svc.RequestCompletion(ctx, dep, created.ID)
	require.NoError(t, err)

	// Still a single task until a privileged actor ratifies.
	assert.Len(t, f.svc.Tasks(), 1)
}

func TestReject_ReturnsToRequestableState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "homework"})
	require.NoError(t, err)

	ap, err := f.svc.RequestCompletion(ctx, dep, created.ID)
	require.NoError(t, err)
	require.NotNil(t, ap)

	rejected, err := f.svc.Reject(ctx, admin, ap.ID, "not finished")
	require.NoError(t, err)
	assert.False(t, rejected.Completed)
	assert.Equal(t, model.StatusRejected, rejected.Status)
	assert.Nil(t, rejected.ApprovalID)
	assert.Empty(t, f.svc.Approvals())

	// The requester may try again.
	again, err := f.svc.RequestCompletion(ctx, dep, created.ID)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.NotEqual(t, ap.ID, again.ID)
}

func TestResolve_RecordsTerminalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "homework"})
	require.NoError(t, err)
	ap, err := f.svc.RequestCompletion(ctx, dep, created.ID)
	require.NoError(t, err)
	require.NotNil(t, ap)
	assert.Equal(t, model.ApprovalPending, ap.Status)

	// Resolve offline so the outgoing record is still observable in the
	// operation queue.
	f.remote.SetOnline(false)
	f.advance(time.Minute)
	_, err = f.svc.Reject(ctx, admin, ap.ID, "not finished")
	require.NoError(t, err)

	var resolved *model.ApprovalRecord
	for _, op := range f.queue.Snapshot() {
		if op.Collection == tasksync.CollectionApprovals && op.Type == tasksync.OpDelete && op.TargetID == ap.ID {
			resolved = op.Approval
		}
	}
	require.NotNil(t, resolved)
	assert.Equal(t, string(model.ApprovalRejected), resolved.Status)
	assert.Equal(t, "u1", resolved.ResolverID)
	assert.Equal(t, "not finished", resolved.Comment)

	got := resolved.ToApproval()
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, f.clock, got.ResolvedAt.UTC())
	assert.True(t, got.Resolved())
}

func TestResolve_RestrictedDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "homework"})
	require.NoError(t, err)
	ap, err := f.svc.RequestCompletion(ctx, dep, created.ID)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, dep, ap.ID, "")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.svc.Reject(ctx, dep, ap.ID, "")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Len(t, f.svc.Approvals(), 1)
}

func TestResolve_UnknownApproval(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Approve(context.Background(), admin, "missing", "")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "one-off"})
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, admin, created.ID)
	require.NoError(t, err)

	reopened, err := f.svc.Reopen(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.False(t, reopened.Completed)
	assert.Equal(t, model.StatusPending, reopened.Status)

	_, err = f.svc.Reopen(ctx, dep, created.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestReopen_RecurringRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.today()

	created, err := f.svc.Create(ctx, admin, Draft{
		Title:   "daily",
		DueDate: &due,
		Recur:   model.Recurrence{Type: model.RecurrenceDaily},
	})
	require.NoError(t, err)

	_, err = f.svc.Reopen(ctx, admin, created.ID)
	assert.ErrorIs(t, err, ErrCannotReopen)
}

func TestOfflineEdit_LocalNewerSurvivesRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "original"})
	require.NoError(t, err)

	// A stale copy of the task as another device last saw it.
	stale := created
	staleAt := f.clock.Add(80 * time.Second)
	stale.Title = "stale remote edit"
	stale.EditedAt = &staleAt

	// Edit locally while offline, 100s after creation.
	f.remote.SetOnline(false)
	f.advance(100 * time.Second)
	title := "local offline edit"
	_, err = f.svc.Edit(ctx, admin, created.ID, Patch{Title: &title})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !f.guard.IsHeld(created.ID) },
		time.Second, 5*time.Millisecond)

	// The stale snapshot arrives: the newer local edit wins.
	f.svc.HandleRemoteChange([]model.TaskRecord{stale.ToRecord()})

	got, err := f.svc.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "local offline edit", got.Title)

	// Reconnect; the queued edit reaches the remote store.
	f.remote.SetOnline(true)
	require.NoError(t, f.svc.Flush(ctx))
	recs, err := f.remote.FetchFamilyTasks(ctx, "fam1", "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "local offline edit", recs[0].Title)
}

func TestRefresh_RemoteNewerWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "original"})
	require.NoError(t, err)

	newer := created
	newerAt := f.clock.Add(time.Hour)
	newer.Title = "edited elsewhere"
	newer.EditedAt = &newerAt
	f.remote.Seed(newer.ToRecord())

	require.Eventually(t, func() bool { return !f.guard.IsHeld(created.ID) },
		time.Second, 5*time.Millisecond)
	require.NoError(t, f.svc.Refresh(ctx))

	got, err := f.svc.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited elsewhere", got.Title)
}

func TestRefresh_PrivateTaskSurvives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private, err := f.svc.Create(ctx, admin, Draft{Title: "buy a gift", Private: true})
	require.NoError(t, err)
	assert.Nil(t, private.FamilyID)

	// Family fetches never carry private tasks; refreshing must not treat
	// that as a remote deletion.
	require.Eventually(t, func() bool { return !f.guard.IsHeld(private.ID) },
		time.Second, 5*time.Millisecond)
	require.NoError(t, f.svc.Refresh(ctx))

	_, err = f.svc.Get(private.ID)
	assert.NoError(t, err)
}

func TestRefresh_RemoteDeletionDrops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "shared"})
	require.NoError(t, err)

	// Another device deleted it remotely.
	require.NoError(t, f.remote.DeleteTask(ctx, string(created.ID)))

	require.Eventually(t, func() bool { return !f.guard.IsHeld(created.ID) },
		time.Second, 5*time.Millisecond)
	require.NoError(t, f.svc.Refresh(ctx))

	_, err = f.svc.Get(created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribe_FeedsMergeIntoLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unsubscribe, err := f.svc.Subscribe(ctx)
	require.NoError(t, err)
	defer unsubscribe()

	// A write from another device lands through the change feed.
	rec := model.TaskRecord{
		ID:        "t-remote",
		Title:     "from another device",
		FamilyID:  "fam1",
		CreatedBy: "u3",
		CreatedAt: f.clock.Format(time.RFC3339Nano),
	}
	_, err = f.remote.WriteTask(ctx, rec)
	require.NoError(t, err)

	got, err := f.svc.Get("t-remote")
	require.NoError(t, err)
	assert.Equal(t, "from another device", got.Title)
}

func TestHistory_RecordsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "dishes"})
	require.NoError(t, err)
	f.advance(time.Minute)
	_, err = f.svc.Complete(ctx, admin, created.ID)
	require.NoError(t, err)

	entries, err := f.svc.History(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "task_completed", entries[0].Type)
	assert.Equal(t, "task_created", entries[1].Type)
}

func TestServiceRestart_ReloadsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, admin, Draft{Title: "persisted"})
	require.NoError(t, err)

	queue, err := tasksync.NewQueue(t.TempDir())
	require.NoError(t, err)
	guard := tasksync.NewPendingGuard()
	dispatcher := tasksync.NewDispatcher(tasksync.DispatcherOptions{
		Queue:  queue,
		Remote: f.remote,
		Guard:  guard,
		Logger: log.New(io.Discard, "", 0),
	})

	restarted, err := NewService(Options{
		Cache:      f.cache,
		Remote:     f.remote,
		Membership: f.members,
		Guard:      guard,
		Dispatcher: dispatcher,
		Logger:     log.New(io.Discard, "", 0),
		FamilyID:   "fam1",
		UserID:     "u1",
	})
	require.NoError(t, err)

	got, err := restarted.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
}
