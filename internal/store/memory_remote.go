package store

import (
	"context"
	"sync"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

// MemoryRemote is an in-memory Remote with per-method error injection and
// an online/offline toggle. Tests and offline runs use it in place of the
// real document store.
type MemoryRemote struct {
	mu        sync.RWMutex
	online    bool
	tasks     map[string]model.TaskRecord
	approvals map[string]model.ApprovalRecord

	taskSubs     map[int]taskSub
	approvalSubs map[int]approvalSub
	nextSub      int

	// Error injection for testing.
	FetchTasksErr     error
	WriteTaskErr      error
	WriteFamilyErr    error
	DeleteTaskErr     error
	FetchApprovalsErr error
	WriteApprovalErr  error
	DeleteApprovalErr error
}

type taskSub struct {
	familyID string
	actorID  string
	fn       TaskChangeHandler
}

type approvalSub struct {
	familyID string
	fn       ApprovalChangeHandler
}

func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		online:       true,
		tasks:        map[string]model.TaskRecord{},
		approvals:    map[string]model.ApprovalRecord{},
		taskSubs:     map[int]taskSub{},
		approvalSubs: map[int]approvalSub{},
	}
}

func (m *MemoryRemote) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
}

func (m *MemoryRemote) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Seed inserts a record without notifying subscribers.
func (m *MemoryRemote) Seed(rec model.TaskRecord) {
	m.mu.Lock()
	m.tasks[rec.ID] = rec
	m.mu.Unlock()
}

func (m *MemoryRemote) familyTasksLocked(familyID string) []model.TaskRecord {
	out := make([]model.TaskRecord, 0, len(m.tasks))
	for _, rec := range m.tasks {
		if rec.Private {
			continue
		}
		if rec.FamilyID != familyID {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (m *MemoryRemote) FetchFamilyTasks(ctx context.Context, familyID, actorID string) ([]model.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.online {
		return nil, ErrRemoteUnavailable
	}
	if m.FetchTasksErr != nil {
		return nil, m.FetchTasksErr
	}
	return m.familyTasksLocked(familyID), nil
}

func (m *MemoryRemote) WriteTask(ctx context.Context, rec model.TaskRecord) (string, error) {
	m.mu.Lock()

	if !m.online {
		m.mu.Unlock()
		return "", ErrRemoteUnavailable
	}
	if m.WriteTaskErr != nil {
		err := m.WriteTaskErr
		m.mu.Unlock()
		return "", err
	}
	m.tasks[rec.ID] = rec
	m.mu.Unlock()

	m.notifyTaskSubs()
	return rec.ID, nil
}

func (m *MemoryRemote) WriteFamilyTask(ctx context.Context, familyID string, rec model.TaskRecord) (string, error) {
	m.mu.Lock()

	if !m.online {
		m.mu.Unlock()
		return "", ErrRemoteUnavailable
	}
	if m.WriteFamilyErr != nil {
		err := m.WriteFamilyErr
		m.mu.Unlock()
		return "", err
	}
	rec.FamilyID = familyID
	m.tasks[rec.ID] = rec
	m.mu.Unlock()

	m.notifyTaskSubs()
	return rec.ID, nil
}

func (m *MemoryRemote) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()

	if !m.online {
		m.mu.Unlock()
		return ErrRemoteUnavailable
	}
	if m.DeleteTaskErr != nil {
		err := m.DeleteTaskErr
		m.mu.Unlock()
		return err
	}
	delete(m.tasks, id)
	m.mu.Unlock()

	m.notifyTaskSubs()
	return nil
}

func (m *MemoryRemote) FetchApprovals(ctx context.Context, familyID string) ([]model.ApprovalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.online {
		return nil, ErrRemoteUnavailable
	}
	if m.FetchApprovalsErr != nil {
		return nil, m.FetchApprovalsErr
	}
	out := make([]model.ApprovalRecord, 0, len(m.approvals))
	for _, rec := range m.approvals {
		if rec.FamilyID == familyID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryRemote) WriteApproval(ctx context.Context, rec model.ApprovalRecord) error {
	m.mu.Lock()

	if !m.online {
		m.mu.Unlock()
		return ErrRemoteUnavailable
	}
	if m.WriteApprovalErr != nil {
		err := m.WriteApprovalErr
		m.mu.Unlock()
		return err
	}
	m.approvals[rec.ID] = rec
	m.mu.Unlock()

	m.notifyApprovalSubs()
	return nil
}

func (m *MemoryRemote) DeleteApproval(ctx context.Context, id string) error {
	m.mu.Lock()

	if !m.online {
		m.mu.Unlock()
		return ErrRemoteUnavailable
	}
	if m.DeleteApprovalErr != nil {
		err := m.DeleteApprovalErr
		m.mu.Unlock()
		return err
	}
	delete(m.approvals, id)
	m.mu.Unlock()

	m.notifyApprovalSubs()
	return nil
}

func (m *MemoryRemote) SubscribeFamilyTasks(ctx context.Context, familyID, actorID string, fn TaskChangeHandler) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.taskSubs[id] = taskSub{familyID: familyID, actorID: actorID, fn: fn}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.taskSubs, id)
		m.mu.Unlock()
	}, nil
}

func (m *MemoryRemote) SubscribeApprovals(ctx context.Context, familyID string, fn ApprovalChangeHandler) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.approvalSubs[id] = approvalSub{familyID: familyID, fn: fn}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.approvalSubs, id)
		m.mu.Unlock()
	}, nil
}

// The change feed delivers the full scoped snapshot on every change, the
// way a document-store query subscription does.
func (m *MemoryRemote) notifyTaskSubs() {
	m.mu.RLock()
	type call struct {
		fn   TaskChangeHandler
		recs []model.TaskRecord
	}
	calls := make([]call, 0, len(m.taskSubs))
	for _, sub := range m.taskSubs {
		calls = append(calls, call{fn: sub.fn, recs: m.familyTasksLocked(sub.familyID)})
	}
	m.mu.RUnlock()

	for _, c := range calls {
		c.fn(c.recs)
	}
}

func (m *MemoryRemote) notifyApprovalSubs() {
	m.mu.RLock()
	type call struct {
		fn   ApprovalChangeHandler
		recs []model.ApprovalRecord
	}
	calls := make([]call, 0, len(m.approvalSubs))
	for _, sub := range m.approvalSubs {
		recs := make([]model.ApprovalRecord, 0)
		for _, rec := range m.approvals {
			if rec.FamilyID == sub.familyID {
				recs = append(recs, rec)
			}
		}
		calls = append(calls, call{fn: sub.fn, recs: recs})
	}
	m.mu.RUnlock()

	for _, c := range calls {
		c.fn(c.recs)
	}
}
