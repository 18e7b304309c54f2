// Package scoring turns provider payloads into sub-scores and composes
// them into the raw and display ("UI") popularity objects.
package scoring

import (
	"math"

	"github.com/okian/popscore/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultWeight  = 0.25
	defaultUIScale = 10
)

// SubScoreFunc maps one provider payload to its numeric sub-score.
type SubScoreFunc func(p model.Payload) float64

// WeightFunc combines the four provider values of pop into a total.
type WeightFunc func(pop *model.Popularity, weights map[model.ProviderID]float64) float64

// Normalizer rescales one raw sub-score for display.
type Normalizer func(raw float64) float64

// Option applies a configuration option to the Composer.
type Option func(*Composer)

// WithWeights sets per-provider weights from a configuration map keyed by
// provider name. Unknown providers and negative weights are ignored.
func WithWeights(weights map[string]float64) Option {
	return func(c *Composer) {
		for name, w := range weights {
			id, err := model.ParseProviderID(name)
			if err != nil || w < 0 {
				continue
			}
			c.weights[id] = w
		}
	}
}

// WithUIScale sets the multiplier of the default log normalizer.
func WithUIScale(scale float64) Option {
	return func(c *Composer) {
		if scale > 0 {
			c.uiScale = scale
		}
	}
}

// WithSubScoreFunc replaces the payload-to-sub-score mapping.
func WithSubScoreFunc(f SubScoreFunc) Option {
	return func(c *Composer) {
		if f != nil {
			c.subScore = f
		}
	}
}

// WithWeightFunc replaces the total composition.
func WithWeightFunc(f WeightFunc) Option {
	return func(c *Composer) {
		if f != nil {
			c.weight = f
		}
	}
}

// WithNormalizer replaces the display normalisation.
func WithNormalizer(n Normalizer) Option {
	return func(c *Composer) {
		if n != nil {
			c.normalize = n
		}
	}
}

// Composer builds popularity objects from provider sub-scores.
type Composer struct {
	weights   map[model.ProviderID]float64
	uiScale   float64
	subScore  SubScoreFunc
	weight    WeightFunc
	normalize Normalizer
}

// NewComposer creates a composer with equal weights and log10 display
// normalisation unless overridden by options.
func NewComposer(opts ...Option) *Composer {
	c := &Composer{
		weights: make(map[model.ProviderID]float64, len(model.AllProviders())),
		uiScale: defaultUIScale,
	}
	for _, id := range model.AllProviders() {
		c.weights[id] = defaultWeight
	}
	c.subScore = PayloadCount
	c.weight = WeightedSum

	// Apply all options
	for _, opt := range opts {
		opt(c)
	}

	if c.normalize == nil {
		scale := c.uiScale
		c.normalize = func(raw float64) float64 { return scale * math.Log10(1+raw) }
	}
	return c
}

// PayloadCount is the default sub-score: the payload's primary magnitude.
func PayloadCount(p model.Payload) float64 { return p.Count }

// WeightedSum is the default total: sum of weight * sub-score.
func WeightedSum(pop *model.Popularity, weights map[model.ProviderID]float64) float64 {
	var total float64
	for _, id := range model.AllProviders() {
		if v, ok := pop.Sub(id); ok {
			total += weights[id] * v
		}
	}
	return total
}

// SubScore returns the sub-score of a payload. The result is always a
// finite, non-negative number.
func (c *Composer) SubScore(p model.Payload) float64 {
	return finite(c.subScore(p))
}

// Compose returns the raw and UI popularity for the sub-scores in pop.
// Until every provider is present both objects carry the partial
// sub-scores and no Total. Raw sub-scores are always retained unchanged.
func (c *Composer) Compose(pop model.Popularity) (raw, ui model.Popularity) {
	raw = pop.Clone()
	raw.Total = nil

	for _, id := range model.AllProviders() {
		if v, ok := raw.Sub(id); ok {
			ui.SetSub(id, finite(c.normalize(v)))
		}
	}

	if !raw.Complete() {
		return raw, ui
	}
	raw.Total = model.Float(finite(c.weight(&raw, c.weights)))
	ui.Total = model.Float(finite(c.weight(&ui, c.weights)))
	return raw, ui
}

// finite clamps NaN, infinities and negatives to zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
