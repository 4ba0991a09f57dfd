package tutor

import "strings"

// Store exposes tutor profile retrieval for handlers and prompt building.
type Store interface {
	List() []Profile
	FindByID(id string) (Profile, bool)
	FindByLevel(level string) (Profile, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...)}
}

// List returns the predefined profile list.
func (s *MemoryStore) List() []Profile {
	return append([]Profile(nil), s.items...)
}

// FindByID looks up a profile by identifier.
func (s *MemoryStore) FindByID(id string) (Profile, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Profile{}, false
}

// FindByLevel looks up the profile for a learner level, case-insensitive.
func (s *MemoryStore) FindByLevel(level string) (Profile, bool) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	for _, item := range s.items {
		if item.Level == normalized {
			return item, true
		}
	}
	return Profile{}, false
}

// Resolve returns the profile for level, falling back to DefaultLevel and then
// the first profile.
func Resolve(s Store, level string) (Profile, bool) {
	if p, ok := s.FindByLevel(level); ok {
		return p, true
	}
	if p, ok := s.FindByLevel(DefaultLevel); ok {
		return p, true
	}
	items := s.List()
	if len(items) == 0 {
		return Profile{}, false
	}
	return items[0], true
}
