package model

// Permissions are the effective capabilities of a restricted actor within a
// family, fetched from the membership source of truth before each mutation.
type Permissions struct {
	Create bool `json:"create"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// Actor tags every mutating operation with a capability tier instead of a
// role string. Privileged actors bypass the completion-approval machine and
// hold all permissions; restricted actors carry their effective permissions.
type Actor struct {
	UserID     string
	Name       string
	Privileged bool
	Perms      Permissions
}

func PrivilegedActor(userID, name string) Actor {
	return Actor{UserID: userID, Name: name, Privileged: true}
}

func RestrictedActor(userID, name string, perms Permissions) Actor {
	return Actor{UserID: userID, Name: name, Perms: perms}
}

func (a Actor) CanCreate() bool { return a.Privileged || a.Perms.Create }
func (a Actor) CanEdit() bool   { return a.Privileged || a.Perms.Edit }
func (a Actor) CanDelete() bool { return a.Privileged || a.Perms.Delete }
