// Package sortedset provides a string set that always iterates and
// serialises in ascending order.
package sortedset

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"
)

// Set is a set of strings with a sorted view. The zero value is an empty
// set ready to use. Copying a Set shares its storage; use Clone to detach.
type Set struct {
	s mapset.Set[string]
}

// New returns a set holding items.
func New(items ...string) Set {
	return Set{s: mapset.NewThreadUnsafeSet(items...)}
}

func (s *Set) init() {
	if s.s == nil {
		s.s = mapset.NewThreadUnsafeSet[string]()
	}
}

// Add inserts items and reports how many were not already present.
func (s *Set) Add(items ...string) int {
	s.init()
	added := 0
	for _, it := range items {
		if s.s.Add(it) {
			added++
		}
	}
	return added
}

// Contains reports whether item is in the set.
func (s Set) Contains(item string) bool {
	return s.s != nil && s.s.ContainsOne(item)
}

// Len returns the number of items.
func (s Set) Len() int {
	if s.s == nil {
		return 0
	}
	return s.s.Cardinality()
}

// Items returns the members in ascending order.
func (s Set) Items() []string {
	if s.s == nil {
		return []string{}
	}
	out := s.s.ToSlice()
	slices.Sort(out)
	return out
}

// Union returns a new set with the members of both.
func (s Set) Union(o Set) Set {
	out := s.Clone()
	out.Add(o.Items()...)
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	if s.s == nil {
		return New()
	}
	return Set{s: s.s.Clone()}
}

// Equal reports whether both sets hold the same members.
func (s Set) Equal(o Set) bool {
	return slices.Equal(s.Items(), o.Items())
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

// UnmarshalJSON decodes a JSON array. null decodes to an empty set.
func (s *Set) UnmarshalJSON(b []byte) error {
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*s = New(items...)
	return nil
}
