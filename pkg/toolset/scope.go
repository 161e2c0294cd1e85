package toolset

// Wildcard grants access to every system or permission
const Wildcard = "*"

// AccessScopes is the set of system ids a user may touch. A nil *AccessScopes
// means the caller imposes no scoping at all; an empty set denies everything.
type AccessScopes struct {
	wildcard bool
	systems  map[string]struct{}
}

// NewAccessScopes builds a scope set from system ids. Passing "*" anywhere
// yields the admin bypass.
func NewAccessScopes(systemIDs ...string) *AccessScopes {
	s := &AccessScopes{systems: make(map[string]struct{}, len(systemIDs))}
	for _, id := range systemIDs {
		if id == Wildcard {
			s.wildcard = true
			continue
		}
		s.systems[id] = struct{}{}
	}
	return s
}

// Allows reports whether the scope set admits a system
func (s *AccessScopes) Allows(systemID string) bool {
	if s == nil {
		return true
	}
	if s.wildcard {
		return true
	}
	_, ok := s.systems[systemID]
	return ok
}

// hasWildcard reports whether a permission set contains the admin wildcard
func hasWildcard(permissions []string) bool {
	for _, p := range permissions {
		if p == Wildcard {
			return true
		}
	}
	return false
}

// permissionsSatisfied reports whether held covers every required permission
func permissionsSatisfied(required, held []string) bool {
	if len(required) == 0 {
		return true
	}
	if hasWildcard(held) {
		return true
	}
	heldSet := make(map[string]struct{}, len(held))
	for _, p := range held {
		heldSet[p] = struct{}{}
	}
	for _, p := range required {
		if _, ok := heldSet[p]; !ok {
			return false
		}
	}
	return true
}
