package model

// Popularity holds one optional sub-score per provider plus the composed
// total. A nil field means "not observed", which is distinct from zero.
type Popularity struct {
	Google        *float64 `json:"google,omitempty"`
	Bing          *float64 `json:"bing,omitempty"`
	GitHub        *float64 `json:"github,omitempty"`
	StackOverflow *float64 `json:"stackoverflow,omitempty"`
	Total         *float64 `json:"total,omitempty"`
}

// PopularityField is one row of the enumerated field table. Code that
// sums, merges or averages popularity objects walks PopularityFields
// instead of reflecting over keys.
type PopularityField struct {
	Name     string
	Provider ProviderID // empty for the total
	Get      func(*Popularity) *float64
	Set      func(*Popularity, *float64)
}

// PopularityFields lists every numeric field of Popularity.
var PopularityFields = []PopularityField{ //nolint:gochecknoglobals // static field table
	{
		Name:     string(Google),
		Provider: Google,
		Get:      func(p *Popularity) *float64 { return p.Google },
		Set:      func(p *Popularity, v *float64) { p.Google = v },
	},
	{
		Name:     string(Bing),
		Provider: Bing,
		Get:      func(p *Popularity) *float64 { return p.Bing },
		Set:      func(p *Popularity, v *float64) { p.Bing = v },
	},
	{
		Name:     string(GitHub),
		Provider: GitHub,
		Get:      func(p *Popularity) *float64 { return p.GitHub },
		Set:      func(p *Popularity, v *float64) { p.GitHub = v },
	},
	{
		Name:     string(StackOverflow),
		Provider: StackOverflow,
		Get:      func(p *Popularity) *float64 { return p.StackOverflow },
		Set:      func(p *Popularity, v *float64) { p.StackOverflow = v },
	},
	{
		Name: "total",
		Get:  func(p *Popularity) *float64 { return p.Total },
		Set:  func(p *Popularity, v *float64) { p.Total = v },
	},
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Sub returns the sub-score of a provider.
func (p *Popularity) Sub(id ProviderID) (float64, bool) {
	for _, f := range PopularityFields {
		if f.Provider != "" && f.Provider == id {
			if v := f.Get(p); v != nil {
				return *v, true
			}
			return 0, false
		}
	}
	return 0, false
}

// SetSub stores the sub-score of a provider.
func (p *Popularity) SetSub(id ProviderID, v float64) {
	for _, f := range PopularityFields {
		if f.Provider != "" && f.Provider == id {
			f.Set(p, Float(v))
			return
		}
	}
}

// Complete reports whether every provider sub-score is present.
func (p *Popularity) Complete() bool {
	for _, id := range AllProviders() {
		if _, ok := p.Sub(id); !ok {
			return false
		}
	}
	return true
}

// Score returns the composed total if present.
func (p *Popularity) Score() (float64, bool) {
	if p == nil || p.Total == nil {
		return 0, false
	}
	return *p.Total, true
}

// Clone returns a deep copy.
func (p Popularity) Clone() Popularity {
	var out Popularity
	for _, f := range PopularityFields {
		if v := f.Get(&p); v != nil {
			f.Set(&out, Float(*v))
		}
	}
	return out
}
