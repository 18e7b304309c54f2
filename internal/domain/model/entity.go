package model

import (
	"fmt"
	"strings"
)

// ProviderID identifies an external signal source.
type ProviderID string

// Known providers. Two search engines, one code host, one Q&A site.
const (
	Google        ProviderID = "google"
	Bing          ProviderID = "bing"
	GitHub        ProviderID = "github"
	StackOverflow ProviderID = "stackoverflow"
)

// AllProviders returns every provider in a fixed order.
func AllProviders() []ProviderID {
	return []ProviderID{Google, Bing, GitHub, StackOverflow}
}

// ParseProviderID validates a provider name.
func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range AllProviders() {
		if p == id {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// EntityKind separates database products from auxiliary tools.
type EntityKind string

const (
	KindDatabase EntityKind = "database"
	KindTool     EntityKind = "tool"
)

// ParseEntityKind validates a kind, defaulting to database when empty.
func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindDatabase:
		return KindDatabase, nil
	case KindTool:
		return KindTool, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// EntityStatus is the catalog lifecycle status.
type EntityStatus string

const (
	StatusActive   EntityStatus = "ACTIVE"
	StatusInactive EntityStatus = "INACTIVE"
)

// Entity is a catalog item being scored and ranked. It is owned by the
// catalog and read-only to the pipeline.
type Entity struct {
	ID         string       `json:"id" validate:"required,excludesall=/#"`
	Name       string       `json:"name" validate:"required"`
	Kind       EntityKind   `json:"kind" validate:"omitempty,oneof=database tool"`
	Status     EntityStatus `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
	QueryTerms []string     `json:"queryTerms,omitempty"`
}

// Terms returns the custom query terms, or the generated defaults.
func (e Entity) Terms() []string {
	if len(e.QueryTerms) > 0 {
		return e.QueryTerms
	}
	return DefaultTerms(e.Name, e.Kind)
}

// DefaultTerms generates the query terms used when an entity has none,
// and for placeholder payloads.
func DefaultTerms(name string, kind EntityKind) []string {
	name = strings.TrimSpace(name)
	if kind == KindTool {
		return []string{name, name + " tool"}
	}
	return []string{name, name + " database"}
}
