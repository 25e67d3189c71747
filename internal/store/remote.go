package store

import (
	"context"
	"errors"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

var (
	// ErrRemoteUnavailable marks connectivity failures: the mutation stays
	// applied locally and queued, and is retried on a later flush.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrRemoteRejected marks auth/rule rejections unrelated to
	// connectivity; the dispatcher retries these once through the
	// family-scoped write path before re-queuing.
	ErrRemoteRejected = errors.New("remote store rejected write")

	ErrNotFound = errors.New("not found")
)

// TaskChangeHandler receives the current remote task set for the
// subscribed family scope whenever it changes.
type TaskChangeHandler func([]model.TaskRecord)

// ApprovalChangeHandler receives the current remote approval set for the
// subscribed family whenever it changes.
type ApprovalChangeHandler func([]model.ApprovalRecord)

// Remote is the authoritative shared document store. Implementations are
// external; MemoryRemote is the in-process reference used by tests and
// offline runs.
type Remote interface {
	// Online reports current connectivity. A false result makes the
	// dispatcher queue instead of send.
	Online() bool

	FetchFamilyTasks(ctx context.Context, familyID, actorID string) ([]model.TaskRecord, error)
	WriteTask(ctx context.Context, rec model.TaskRecord) (string, error)
	// WriteFamilyTask is the secondary, family-scoped write path used when
	// WriteTask is rejected (e.g. membership not yet propagated).
	WriteFamilyTask(ctx context.Context, familyID string, rec model.TaskRecord) (string, error)
	DeleteTask(ctx context.Context, id string) error

	FetchApprovals(ctx context.Context, familyID string) ([]model.ApprovalRecord, error)
	WriteApproval(ctx context.Context, rec model.ApprovalRecord) error
	DeleteApproval(ctx context.Context, id string) error

	SubscribeFamilyTasks(ctx context.Context, familyID, actorID string, fn TaskChangeHandler) (func(), error)
	SubscribeApprovals(ctx context.Context, familyID string, fn ApprovalChangeHandler) (func(), error)
}

// Membership resolves a user's effective permissions within a family.
// Callers re-fetch before every restricted mutation instead of trusting a
// stale cached copy, so revoked permissions take effect immediately.
type Membership interface {
	EffectivePermissions(ctx context.Context, familyID, userID string) (model.Permissions, error)
}
