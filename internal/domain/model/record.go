package model

import (
	"time"
)

// Payload is the raw result of one provider fetch.
type Payload struct {
	Provider  ProviderID `json:"provider"`
	Terms     []string   `json:"terms"`
	Count     float64    `json:"count"`
	Raw       string     `json:"raw,omitempty"`
	FetchedAt time.Time  `json:"fetchedAt"`
	// Placeholder payloads are synthesised for entities that were not
	// fetched in this invocation and have no prior value.
	Placeholder bool `json:"placeholder,omitempty"`
	// Fallback marks the sentinel returned after retries were exhausted.
	Fallback bool `json:"fallback,omitempty"`
}

// Fresh reports whether the payload came from a successful fetch.
func (p *Payload) Fresh() bool {
	return p != nil && !p.Placeholder && !p.Fallback
}

// Clone returns a copy safe to mutate.
func (p Payload) Clone() *Payload {
	p.Terms = append([]string(nil), p.Terms...)
	return &p
}

// PlaceholderPayload builds the zero-magnitude payload for an entity with
// no observed data, from its generated default terms.
func PlaceholderPayload(id ProviderID, e Entity, at time.Time) Payload {
	return Payload{
		Provider:    id,
		Terms:       DefaultTerms(e.Name, e.Kind),
		FetchedAt:   at,
		Placeholder: true,
	}
}

// FallbackPayload is the documented sentinel returned by a provider client
// when retries are exhausted.
func FallbackPayload(id ProviderID, terms []string, at time.Time) Payload {
	return Payload{
		Provider:  id,
		Terms:     append([]string(nil), terms...),
		FetchedAt: at,
		Fallback:  true,
	}
}

// Payloads holds one optional slot per provider.
type Payloads struct {
	Google        *Payload `json:"google,omitempty"`
	Bing          *Payload `json:"bing,omitempty"`
	GitHub        *Payload `json:"github,omitempty"`
	StackOverflow *Payload `json:"stackoverflow,omitempty"`
}

// Slot returns the payload stored for a provider, or nil.
func (ps *Payloads) Slot(id ProviderID) *Payload {
	switch id {
	case Google:
		return ps.Google
	case Bing:
		return ps.Bing
	case GitHub:
		return ps.GitHub
	case StackOverflow:
		return ps.StackOverflow
	}
	return nil
}

// SetSlot stores the payload for a provider.
func (ps *Payloads) SetSlot(id ProviderID, p *Payload) {
	switch id {
	case Google:
		ps.Google = p
	case Bing:
		ps.Bing = p
	case GitHub:
		ps.GitHub = p
	case StackOverflow:
		ps.StackOverflow = p
	}
}

// ProviderFlags holds one boolean per provider.
type ProviderFlags struct {
	Google        bool `json:"google,omitempty"`
	Bing          bool `json:"bing,omitempty"`
	GitHub        bool `json:"github,omitempty"`
	StackOverflow bool `json:"stackoverflow,omitempty"`
}

// Get returns the flag for a provider.
func (c *ProviderFlags) Get(id ProviderID) bool {
	switch id {
	case Google:
		return c.Google
	case Bing:
		return c.Bing
	case GitHub:
		return c.GitHub
	case StackOverflow:
		return c.StackOverflow
	}
	return false
}

// Set stores the flag for a provider.
func (c *ProviderFlags) Set(id ProviderID, v bool) {
	switch id {
	case Google:
		c.Google = v
	case Bing:
		c.Bing = v
	case GitHub:
		c.GitHub = v
	case StackOverflow:
		c.StackOverflow = v
	}
}

// DailyMetricRecord is the per-entity-per-day record. It is created by the
// first collector that touches the day and mutated by every later one.
type DailyMetricRecord struct {
	EntityID     string     `json:"entityId"`
	Date         Date       `json:"date"`
	Kind         EntityKind `json:"kind"`
	Name         string     `json:"name"`
	Payloads     Payloads   `json:"payloads"`
	Popularity   Popularity `json:"popularity"`
	UIPopularity Popularity `json:"uiPopularity"`
	// Copied marks values carried forward from the prior day instead of
	// fetched. Deferred marks providers that have not yet merged the entity
	// for this day.
	Copied    ProviderFlags `json:"copied"`
	Deferred  ProviderFlags `json:"deferred"`
	IncludeMe bool          `json:"includeMe"`
	Published bool          `json:"published"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NewDailyMetricRecord starts an empty record for an entity and day.
func NewDailyMetricRecord(e Entity, d Date) DailyMetricRecord {
	return DailyMetricRecord{
		EntityID: e.ID,
		Date:     d,
		Kind:     e.Kind,
		Name:     e.Name,
	}
}

// RecordID is the identity of a daily record inside aggregate buckets.
func RecordID(entityID string, d Date) string {
	return entityID + "#" + d.String()
}

// ID returns the record identity, entityId#date.
func (r *DailyMetricRecord) ID() string {
	return RecordID(r.EntityID, r.Date)
}

// RefreshPublished recomputes the published flag: a record is published
// only when none of its provider slots is a placeholder, a fallback or
// still deferred.
func (r *DailyMetricRecord) RefreshPublished() {
	r.Published = true
	for _, id := range AllProviders() {
		if p := r.Payloads.Slot(id); (p != nil && !p.Fresh()) || r.Deferred.Get(id) {
			r.Published = false
			return
		}
	}
}
