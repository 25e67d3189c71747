// Package task drives the task lifecycle: optimistic local mutations,
// the completion-approval state machine, recurrence spawning, and
// reconciliation of remote snapshots into the local cache.
package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
	"github.com/n2ilva/agendafamiliar-sub000/internal/notify"
	"github.com/n2ilva/agendafamiliar-sub000/internal/recurrence"
	"github.com/n2ilva/agendafamiliar-sub000/internal/store"
	tasksync "github.com/n2ilva/agendafamiliar-sub000/internal/sync"
)

var (
	ErrNotFound         = errors.New("task not found")
	ErrApprovalNotFound = errors.New("approval not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrApprovalPending  = errors.New("completion approval already pending")
	ErrNotEligible      = errors.New("task not yet eligible for completion")
	ErrCannotReopen     = errors.New("only a non-recurring task can be reopened")
	ErrTitleRequired    = errors.New("title is required")
)

// Draft is the caller-supplied part of a new task.
type Draft struct {
	Title       string
	Description string
	CategoryID  string
	Priority    model.Priority

	DueDate *string
	DueTime *string
	Recur   model.Recurrence

	Private bool

	Subtasks   []model.Subtask
	Categories []model.SubtaskCategory
}

type Options struct {
	Cache      store.Cache
	Remote     store.Remote
	Membership store.Membership
	Notifier   notify.Scheduler
	Guard      *tasksync.PendingGuard
	Dispatcher *tasksync.Dispatcher
	Logger     *log.Logger

	FamilyID string
	UserID   string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type Service struct {
	cache      store.Cache
	remote     store.Remote
	members    store.Membership
	notifier   notify.Scheduler
	guard      *tasksync.PendingGuard
	dispatcher *tasksync.Dispatcher
	logger     *log.Logger

	familyID string
	userID   string
	now      func() time.Time

	mu        sync.RWMutex
	local     map[model.TaskID]model.Task
	approvals map[string]model.TaskApproval
}

func NewService(opts Options) (*Service, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("remote is required")
	}
	if opts.Membership == nil {
		return nil, errors.New("membership is required")
	}
	if opts.Guard == nil || opts.Dispatcher == nil {
		return nil, errors.New("guard and dispatcher are required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogScheduler(opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		cache:      opts.Cache,
		remote:     opts.Remote,
		members:    opts.Membership,
		notifier:   opts.Notifier,
		guard:      opts.Guard,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
		familyID:   opts.FamilyID,
		userID:     opts.UserID,
		now:        opts.Now,
		local:      map[model.TaskID]model.Task{},
		approvals:  map[string]model.TaskApproval{},
	}

	recs, err := opts.Cache.GetTasks()
	if err != nil {
		return nil, fmt.Errorf("load cached tasks: %w", err)
	}
	for _, rec := range recs {
		t := rec.ToTask()
		s.local[t.ID] = t
	}
	aps, err := opts.Cache.GetApprovals()
	if err != nil {
		return nil, fmt.Errorf("load cached approvals: %w", err)
	}
	for _, rec := range aps {
		a := rec.ToApproval()
		s.approvals[a.ID] = a
	}
	return s, nil
}

// checkPermission re-fetches a restricted actor's effective permissions
// from the source of truth; a revoked permission aborts the mutation
// before any local write.
func (s *Service) checkPermission(ctx context.Context, actor model.Actor, kind string) error {
	if actor.Privileged {
		return nil
	}
	perms, err := s.members.EffectivePermissions(ctx, s.familyID, actor.UserID)
	if err != nil {
		return fmt.Errorf("lookup permissions: %w", err)
	}
	var allowed bool
	switch kind {
	case "create":
		allowed = perms.Create
	case "edit":
		allowed = perms.Edit
	case "delete":
		allowed = perms.Delete
	}
	if !allowed {
		return ErrPermissionDenied
	}
	return nil
}

// enforceVisibility keeps the model invariant: a private task carries no
// family id, a family task carries exactly the active one.
func (s *Service) enforceVisibility(t *model.Task) {
	if t.Private {
		t.FamilyID = nil
		return
	}
	fam := s.familyID
	t.FamilyID = &fam
}

func (s *Service) stampEdit(t *model.Task, actor model.Actor, now time.Time) {
	uid, name := actor.UserID, actor.Name
	t.EditedBy = &uid
	t.EditedByName = &name
	t.EditedAt = &now
}

func (s *Service) putLocal(t model.Task) {
	s.mu.Lock()
	s.local[t.ID] = t
	s.mu.Unlock()
}

func (s *Service) getLocal(id model.TaskID) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.local[id]
	return t, ok
}

// persist writes the task to the local cache first (so the mutation
// survives restarts) and then hands it to the dispatcher.
func (s *Service) persist(ctx context.Context, t model.Task, opType tasksync.OpType, now time.Time) {
	rec := t.ToRecord()
	if opType == tasksync.OpDelete {
		if err := s.cache.RemoveTask(rec.ID); err != nil {
			s.logger.Printf("task: remove %s from cache: %v", t.ID, err)
		}
	} else {
		if err := s.cache.SaveTask(rec); err != nil {
			s.logger.Printf("task: cache %s: %v", t.ID, err)
		}
	}
	if err := s.dispatcher.Enqueue(ctx, tasksync.NewTaskOp(opType, rec, now)); err != nil {
		s.logger.Printf("task: enqueue %s %s: %v", opType, t.ID, err)
	}
}

func (s *Service) history(typ string, taskID model.TaskID, actor model.Actor, msg string) {
	e := store.HistoryEntry{
		ID:        uuid.New().String(),
		Type:      typ,
		TaskID:    string(taskID),
		ActorID:   actor.UserID,
		ActorName: actor.Name,
		Message:   msg,
		At:        s.now(),
	}
	if err := s.cache.AppendHistory(e); err != nil {
		s.logger.Printf("task: append history: %v", err)
	}
}

func (s *Service) scheduleReminders(t model.Task) {
	// Best effort; reminders never gate a mutation.
	_ = s.notifier.ScheduleTaskReminder(t)
	_ = s.notifier.ScheduleSubtaskReminders(t.ID, t.Title, t.AllSubtasks())
}

func (s *Service) cancelReminders(id model.TaskID) {
	_ = s.notifier.CancelTaskReminder(id)
	_ = s.notifier.CancelAllSubtaskReminders(id)
}

// Create adds a new task owned by the actor and queues its upload.
func (s *Service) Create(ctx context.Context, actor model.Actor, d Draft) (model.Task, error) {
	if d.Title == "" {
		return model.Task{}, ErrTitleRequired
	}
	if err := s.checkPermission(ctx, actor, "create"); err != nil {
		return model.Task{}, err
	}

	now := s.now()
	t := model.Task{
		ID:          model.TaskID(uuid.New().String()),
		Title:       d.Title,
		Description: d.Description,
		CategoryID:  d.CategoryID,
		Priority:    d.Priority,
		DueDate:     d.DueDate,
		DueTime:     d.DueTime,
		Recurrence:  d.Recur,
		Status:      model.StatusPending,
		CreatedBy:   actor.UserID,
		OwnerUserID: actor.UserID,
		Private:     d.Private,
		CreatedAt:   now,
		Subtasks:    d.Subtasks,
		Categories:  d.Categories,
	}
	s.enforceVisibility(&t)
	fillSubtaskIDs(&t)
	if !t.Recurrence.IsNone() && t.Recurrence.Anchor == "" {
		// The first due date anchors the recurrence: interval phase and the
		// duration-months cap both measure from it.
		if t.DueDate != nil {
			t.Recurrence.Anchor = *t.DueDate
		} else {
			t.Recurrence.Anchor = now.Format(model.DateLayout)
		}
	}

	s.putLocal(t)
	s.scheduleReminders(t)
	s.history("task_created", t.ID, actor, t.Title)
	s.persist(ctx, t, tasksync.OpCreate, now)
	return t, nil
}

func fillSubtaskIDs(t *model.Task) {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == "" {
			t.Subtasks[i].ID = uuid.New().String()
		}
	}
	for ci := range t.Categories {
		if t.Categories[ci].ID == "" {
			t.Categories[ci].ID = uuid.New().String()
		}
		for i := range t.Categories[ci].Subtasks {
			if t.Categories[ci].Subtasks[i].ID == "" {
				t.Categories[ci].Subtasks[i].ID = uuid.New().String()
			}
		}
	}
}

// Edit applies a partial update and queues the new version.
func (s *Service) Edit(ctx context.Context, actor model.Actor, id model.TaskID, p Patch) (model.Task, error) {
	if err := s.checkPermission(ctx, actor, "edit"); err != nil {
		return model.Task{}, err
	}
	t, ok := s.getLocal(id)
	if !ok {
		return model.Task{}, ErrNotFound
	}

	now := s.now()
	applyPatch(&t, p)
	s.enforceVisibility(&t)
	fillSubtaskIDs(&t)
	s.stampEdit(&t, actor, now)

	s.putLocal(t)
	s.cancelReminders(t.ID)
	if !t.Completed {
		s.scheduleReminders(t)
	}
	s.history("task_edited", t.ID, actor, t.Title)
	s.persist(ctx, t, tasksync.OpUpdate, now)
	return t, nil
}

// Delete removes the task locally and queues the remote deletion.
func (s *Service) Delete(ctx context.Context, actor model.Actor, id model.TaskID) error {
	if err := s.checkPermission(ctx, actor, "delete"); err != nil {
		return err
	}
	t, ok := s.getLocal(id)
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	delete(s.local, id)
	s.mu.Unlock()

	s.cancelReminders(id)
	s.history("task_deleted", id, actor, t.Title)
	s.persist(ctx, t, tasksync.OpDelete, s.now())
	return nil
}

// Complete marks a task done. Privileged actors toggle directly and, for
// recurring tasks, spawn the next occurrence; restricted actors are routed
// through the approval machine and the task parks in pending_approval
// until a privileged actor ratifies it.
func (s *Service) Complete(ctx context.Context, actor model.Actor, id model.TaskID) (model.Task, error) {
	t, ok := s.getLocal(id)
	if !ok {
		return model.Task{}, ErrNotFound
	}
	if t.Completed {
		return t, nil
	}
	now := s.now()
	if !t.EligibleForCompletion(now) {
		return model.Task{}, ErrNotEligible
	}

	if !actor.Privileged {
		if _, err := s.requestCompletion(ctx, actor, t, now); err != nil {
			return model.Task{}, err
		}
		updated, _ := s.getLocal(id)
		return updated, nil
	}

	t.Completed = true
	t.Status = model.StatusApproved
	t.ApprovalID = nil
	s.stampEdit(&t, actor, now)

	s.putLocal(t)
	s.cancelReminders(t.ID)
	s.history("task_completed", t.ID, actor, t.Title)
	s.persist(ctx, t, tasksync.OpUpdate, now)

	s.spawnNext(ctx, actor, t, now)
	return t, nil
}

// spawnNext materializes the next occurrence of a completed recurring
// task. A completed recurring task never reverts to incomplete; the next
// occurrence is a new entity. An expired recurrence spawns nothing.
func (s *Service) spawnNext(ctx context.Context, actor model.Actor, completed model.Task, now time.Time) {
	next, ok := recurrence.Spawn(completed, now)
	if !ok {
		return
	}
	next.CreatedBy = completed.CreatedBy
	next.OwnerUserID = completed.OwnerUserID
	s.enforceVisibility(&next)

	s.putLocal(next)
	s.scheduleReminders(next)
	s.history("task_respawned", next.ID, actor, next.Title)
	s.persist(ctx, next, tasksync.OpCreate, now)
}

// Reopen returns a completed non-recurring task to pending. Restricted
// actors can never un-complete a task.
func (s *Service) Reopen(ctx context.Context, actor model.Actor, id model.TaskID) (model.Task, error) {
	if !actor.Privileged {
		return model.Task{}, ErrPermissionDenied
	}
	t, ok := s.getLocal(id)
	if !ok {
		return model.Task{}, ErrNotFound
	}
	if !t.Recurrence.IsNone() {
		return model.Task{}, ErrCannotReopen
	}
	if !t.Completed {
		return t, nil
	}

	now := s.now()
	t.Completed = false
	t.Status = model.StatusPending
	s.stampEdit(&t, actor, now)

	s.putLocal(t)
	s.scheduleReminders(t)
	s.history("task_reopened", t.ID, actor, t.Title)
	s.persist(ctx, t, tasksync.OpUpdate, now)
	return t, nil
}

// RequestCompletion files a completion request for a restricted actor.
// Privileged actors complete directly instead and get a nil approval.
func (s *Service) RequestCompletion(ctx context.Context, actor model.Actor, id model.TaskID) (*model.TaskApproval, error) {
	if actor.Privileged {
		_, err := s.Complete(ctx, actor, id)
		return nil, err
	}
	t, ok := s.getLocal(id)
	if !ok {
		return nil, ErrNotFound
	}
	now := s.now()
	if !t.EligibleForCompletion(now) {
		return nil, ErrNotEligible
	}
	ap, err := s.requestCompletion(ctx, actor, t, now)
	if err != nil {
		return nil, err
	}
	return &ap, nil
}

func (s *Service) requestCompletion(ctx context.Context, actor model.Actor, t model.Task, now time.Time) (model.TaskApproval, error) {
	if s.hasUnresolvedApproval(t.ID) {
		return model.TaskApproval{}, ErrApprovalPending
	}

	ap := model.TaskApproval{
		ID:            uuid.New().String(),
		TaskID:        t.ID,
		RequesterID:   actor.UserID,
		RequesterName: actor.Name,
		Status:        model.ApprovalPending,
		RequestedAt:   now,
		FamilyID:      t.FamilyID,
	}

	t.Status = model.StatusPendingApproval
	t.ApprovalID = &ap.ID
	s.stampEdit(&t, actor, now)

	s.mu.Lock()
	s.local[t.ID] = t
	s.approvals[ap.ID] = ap
	s.mu.Unlock()

	if err := s.cache.SaveApproval(ap.ToRecord()); err != nil {
		s.logger.Printf("task: cache approval %s: %v", ap.ID, err)
	}
	if err := s.dispatcher.Enqueue(ctx, tasksync.NewApprovalOp(tasksync.OpCreate, ap.ToRecord(), now)); err != nil {
		s.logger.Printf("task: enqueue approval %s: %v", ap.ID, err)
	}
	s.history("approval_requested", t.ID, actor, t.Title)
	s.persist(ctx, t, tasksync.OpUpdate, now)
	return ap, nil
}

func (s *Service) hasUnresolvedApproval(id model.TaskID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ap := range s.approvals {
		if ap.TaskID == id && !ap.Resolved() {
			return true
		}
	}
	return false
}

// Approve ratifies a pending completion request: the task completes, a
// recurring task spawns its next occurrence (only here, never at request
// time), and the approval leaves the active set.
func (s *Service) Approve(ctx context.Context, actor model.Actor, approvalID, comment string) (model.Task, error) {
	return s.resolveApproval(ctx, actor, approvalID, comment, true)
}

// Reject declines a pending completion request; the task returns to a
// re-requestable rejected state.
func (s *Service) Reject(ctx context.Context, actor model.Actor, approvalID, comment string) (model.Task, error) {
	return s.resolveApproval(ctx, actor, approvalID, comment, false)
}

func (s *Service) resolveApproval(ctx context.Context, actor model.Actor, approvalID, comment string, approve bool) (model.Task, error) {
	if !actor.Privileged {
		return model.Task{}, ErrPermissionDenied
	}

	s.mu.Lock()
	ap, ok := s.approvals[approvalID]
	if !ok {
		s.mu.Unlock()
		return model.Task{}, ErrApprovalNotFound
	}
	delete(s.approvals, approvalID)
	t, taskOK := s.local[ap.TaskID]
	s.mu.Unlock()

	now := s.now()

	// The approval turns terminal before it leaves the active set; the
	// resolution record rides the delete op and the history log.
	ap.Status = model.ApprovalRejected
	if approve {
		ap.Status = model.ApprovalApproved
	}
	resolver := actor.UserID
	ap.ResolverID = &resolver
	ap.ResolvedAt = &now
	if comment != "" {
		ap.Comment = &comment
	}

	if err := s.cache.RemoveApproval(ap.ID); err != nil {
		s.logger.Printf("task: remove approval %s: %v", ap.ID, err)
	}
	if err := s.dispatcher.Enqueue(ctx, tasksync.NewApprovalOp(tasksync.OpDelete, ap.ToRecord(), now)); err != nil {
		s.logger.Printf("task: enqueue approval delete %s: %v", ap.ID, err)
	}

	if !taskOK {
		// Task vanished while the request was outstanding; resolving the
		// approval is all that is left to do.
		return model.Task{}, ErrNotFound
	}

	t.ApprovalID = nil
	s.stampEdit(&t, actor, now)
	if approve {
		t.Completed = true
		t.Status = model.StatusApproved
		s.putLocal(t)
		s.cancelReminders(t.ID)
		s.history("approval_approved", t.ID, actor, comment)
		s.persist(ctx, t, tasksync.OpUpdate, now)
		s.spawnNext(ctx, actor, t, now)
		return t, nil
	}

	t.Completed = false
	t.Status = model.StatusRejected
	s.putLocal(t)
	// No automatic reminder reschedule: the requester re-requests when
	// ready.
	s.history("approval_rejected", t.ID, actor, comment)
	s.persist(ctx, t, tasksync.OpUpdate, now)
	return t, nil
}

// Refresh pulls the family task set from the remote store and reconciles
// it into the local cache. Connectivity failures are not surfaced as
// errors to the user; the next tick retries.
func (s *Service) Refresh(ctx context.Context) error {
	recs, err := s.remote.FetchFamilyTasks(ctx, s.familyID, s.userID)
	if err != nil {
		return fmt.Errorf("fetch family tasks: %w", err)
	}
	s.HandleRemoteChange(recs)

	aps, err := s.remote.FetchApprovals(ctx, s.familyID)
	if err != nil {
		return fmt.Errorf("fetch approvals: %w", err)
	}
	s.HandleApprovalChange(aps)
	return nil
}

// HandleRemoteChange reconciles a remote snapshot (full fetch or
// change-feed batch; the feed delivers full scoped snapshots) with local
// state. In-flight tasks keep their local value; everything else resolves
// by last-write-wins.
func (s *Service) HandleRemoteChange(recs []model.TaskRecord) {
	remote := make([]model.Task, 0, len(recs))
	for _, rec := range recs {
		remote = append(remote, rec.ToTask())
	}

	s.mu.Lock()
	local := make([]model.Task, 0, len(s.local))
	for _, t := range s.local {
		local = append(local, t)
	}
	merged := tasksync.Merge(local, remote, tasksync.MergeOptions{
		ActorID:       s.userID,
		FamilyID:      s.familyID,
		Guard:         s.guard,
		PendingUpload: s.dispatcher.PendingTask,
	})
	next := make(map[model.TaskID]model.Task, len(merged))
	for _, t := range merged {
		next[t.ID] = t
	}
	dropped := make([]model.TaskID, 0)
	for id := range s.local {
		if _, ok := next[id]; !ok {
			dropped = append(dropped, id)
		}
	}
	s.local = next
	s.mu.Unlock()

	for _, id := range dropped {
		if err := s.cache.RemoveTask(string(id)); err != nil {
			s.logger.Printf("task: remove %s from cache: %v", id, err)
		}
		s.cancelReminders(id)
	}
	for _, t := range merged {
		if err := s.cache.SaveTask(t.ToRecord()); err != nil {
			s.logger.Printf("task: cache %s: %v", t.ID, err)
		}
	}
}

// HandleApprovalChange replaces the active approval set with the remote
// one, keeping local approvals whose upload is still queued.
func (s *Service) HandleApprovalChange(recs []model.ApprovalRecord) {
	s.mu.Lock()
	next := make(map[string]model.TaskApproval, len(recs))
	for _, rec := range recs {
		ap := rec.ToApproval()
		next[ap.ID] = ap
	}
	for id, ap := range s.approvals {
		if _, ok := next[id]; !ok && s.dispatcher.PendingApproval(id) {
			next[id] = ap
		}
	}
	removed := make([]string, 0)
	for id := range s.approvals {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	s.approvals = next
	s.mu.Unlock()

	for _, id := range removed {
		if err := s.cache.RemoveApproval(id); err != nil {
			s.logger.Printf("task: remove approval %s: %v", id, err)
		}
	}
	for _, ap := range next {
		if err := s.cache.SaveApproval(ap.ToRecord()); err != nil {
			s.logger.Printf("task: cache approval %s: %v", ap.ID, err)
		}
	}
}

// Subscribe attaches the service to the remote change feeds. The returned
// function detaches both.
func (s *Service) Subscribe(ctx context.Context) (func(), error) {
	offTasks, err := s.remote.SubscribeFamilyTasks(ctx, s.familyID, s.userID, s.HandleRemoteChange)
	if err != nil {
		return nil, fmt.Errorf("subscribe tasks: %w", err)
	}
	offApprovals, err := s.remote.SubscribeApprovals(ctx, s.familyID, s.HandleApprovalChange)
	if err != nil {
		offTasks()
		return nil, fmt.Errorf("subscribe approvals: %w", err)
	}
	return func() {
		offTasks()
		offApprovals()
	}, nil
}

// Flush drains the pending operation queue if connectivity allows.
func (s *Service) Flush(ctx context.Context) error {
	return s.dispatcher.Flush(ctx)
}

// PendingOps is the number of local mutations still awaiting delivery.
func (s *Service) PendingOps() int {
	return s.dispatcher.Pending()
}

// Get returns one task by id.
func (s *Service) Get(id model.TaskID) (model.Task, error) {
	t, ok := s.getLocal(id)
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t, nil
}

// Tasks returns the local task set sorted by id.
func (s *Service) Tasks() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Task, 0, len(s.local))
	for _, t := range s.local {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Approvals returns the active approval set sorted by request time.
func (s *Service) Approvals() []model.TaskApproval {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TaskApproval, 0, len(s.approvals))
	for _, ap := range s.approvals {
		out = append(out, ap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// History returns the newest history entries, up to limit.
func (s *Service) History(limit int) ([]store.HistoryEntry, error) {
	return s.cache.GetHistory(limit)
}
