package model

// Actor represents an identity acting on an instance together with its
// capability set.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles,omitempty"`
}

// NewActor creates an actor.
func NewActor(id string, roles ...string) *Actor {
	return &Actor{ID: id, Roles: roles}
}

// HasRole returns true when role is part of the actor capability set.
func (a *Actor) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, candidate := range a.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}
