package domain

// UserSet is an insertion-ordered set of user ids.
type UserSet []string

// NewUserSet builds a set, dropping empty and duplicate ids.
func NewUserSet(ids ...string) UserSet {
	set := make(UserSet, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		set = append(set, id)
	}
	return set
}

// Contains reports membership.
func (s UserSet) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Union returns s with the ids of other appended, plus the ids that were new.
func (s UserSet) Union(other UserSet) (UserSet, []string) {
	out := s.Clone()
	var added []string
	for _, id := range other {
		if id == "" || out.Contains(id) {
			continue
		}
		out = append(out, id)
		added = append(added, id)
	}
	return out, added
}

// Without returns the set minus id.
func (s UserSet) Without(id string) UserSet {
	out := make(UserSet, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Clone copies the set.
func (s UserSet) Clone() UserSet {
	if s == nil {
		return nil
	}
	out := make(UserSet, len(s))
	copy(out, s)
	return out
}

// Strings returns the ids as a plain slice.
func (s UserSet) Strings() []string {
	return []string(s.Clone())
}
