package store

import (
	"context"
	"sync"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

// StaticMembership is an in-memory Membership keyed by family and user.
// Unknown members get no permissions.
type StaticMembership struct {
	mu    sync.RWMutex
	perms map[string]model.Permissions

	// LookupErr, when set, is returned by every lookup.
	LookupErr error
}

func NewStaticMembership() *StaticMembership {
	return &StaticMembership{perms: map[string]model.Permissions{}}
}

func membershipKey(familyID, userID string) string {
	return familyID + "/" + userID
}

func (s *StaticMembership) Grant(familyID, userID string, perms model.Permissions) {
	s.mu.Lock()
	s.perms[membershipKey(familyID, userID)] = perms
	s.mu.Unlock()
}

func (s *StaticMembership) Revoke(familyID, userID string) {
	s.mu.Lock()
	delete(s.perms, membershipKey(familyID, userID))
	s.mu.Unlock()
}

func (s *StaticMembership) EffectivePermissions(ctx context.Context, familyID, userID string) (model.Permissions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.LookupErr != nil {
		return model.Permissions{}, s.LookupErr
	}
	return s.perms[membershipKey(familyID, userID)], nil
}
