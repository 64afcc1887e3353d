package memory

import "slices"

// ByID matches messages with any of the given ids.
func ByID(ids ...string) Predicate {
	return func(m Message) bool { return slices.Contains(ids, m.id) }
}

// ByRole matches messages with any of the given roles.
func ByRole(roles ...Role) Predicate {
	return func(m Message) bool { return slices.Contains(roles, m.role) }
}

// ByTag matches messages carrying any of the given tags.
func ByTag(tags ...string) Predicate {
	return func(m Message) bool { return m.HasAnyTag(tags...) }
}

func Pinned() Predicate { return Message.IsPinned }

func Not(p Predicate) Predicate {
	return func(m Message) bool { return !p(m) }
}

func And(ps ...Predicate) Predicate {
	return func(m Message) bool {
		for _, p := range ps {
			if !p(m) {
				return false
			}
		}
		return true
	}
}

func Or(ps ...Predicate) Predicate {
	return func(m Message) bool {
		for _, p := range ps {
			if p(m) {
				return true
			}
		}
		return false
	}
}
