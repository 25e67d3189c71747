package sync

import (
	"sort"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

// MergeOptions scope one merge pass.
type MergeOptions struct {
	// ActorID and FamilyID drive the visibility filter.
	ActorID  string
	FamilyID string

	// Guard holds the in-flight ids excluded from the pass. Nil means no
	// exclusions.
	Guard *PendingGuard

	// PendingUpload reports whether a local mutation for the id is still
	// queued for delivery; such tasks are never deleted by the pass even
	// when the remote snapshot lacks them.
	PendingUpload func(model.TaskID) bool
}

func (o MergeOptions) held(id model.TaskID) bool {
	return o.Guard != nil && o.Guard.IsHeld(id)
}

func (o MergeOptions) pending(id model.TaskID) bool {
	return o.PendingUpload != nil && o.PendingUpload(id)
}

// Merge reconciles a remote snapshot with the local task set and returns
// the new canonical set, sorted by id. The pass is idempotent and
// commutative across repeats of the same snapshot:
//
//   - in-flight ids keep their local value unconditionally;
//   - both-sided ids resolve by last-write-wins on max(editedAt, createdAt),
//     ties keeping local;
//   - remote-only ids are inserted;
//   - local-only ids are deleted, except the actor's own private tasks
//     (family-scope snapshots never carry them) and tasks whose upload has
//     not yet been confirmed.
func Merge(local, remote []model.Task, opts MergeOptions) []model.Task {
	visible := func(t model.Task) bool {
		return t.VisibleTo(opts.ActorID, opts.FamilyID)
	}

	remoteByID := make(map[model.TaskID]model.Task, len(remote))
	for _, t := range remote {
		if !visible(t) {
			continue
		}
		remoteByID[t.ID] = t
	}

	merged := make(map[model.TaskID]model.Task, len(local)+len(remoteByID))
	for _, lt := range local {
		if !visible(lt) {
			continue
		}
		if opts.held(lt.ID) {
			merged[lt.ID] = lt
			continue
		}
		rt, ok := remoteByID[lt.ID]
		if ok {
			// Last-write-wins; ties keep the local value.
			if rt.LastTouched().After(lt.LastTouched()) {
				merged[lt.ID] = rt
			} else {
				merged[lt.ID] = lt
			}
			continue
		}
		if lt.Private && lt.CreatedBy == opts.ActorID {
			merged[lt.ID] = lt
			continue
		}
		if opts.pending(lt.ID) {
			merged[lt.ID] = lt
		}
		// Otherwise the task was removed remotely: drop it.
	}

	for id, rt := range remoteByID {
		if _, ok := merged[id]; ok {
			continue
		}
		if opts.held(id) {
			// Locally deleted while in flight; the remote copy stays out
			// until the deletion is acknowledged.
			continue
		}
		merged[id] = rt
	}

	out := make([]model.Task, 0, len(merged))
	for _, t := range merged {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
