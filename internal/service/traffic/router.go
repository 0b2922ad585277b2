package traffic

import (
	"math/rand/v2"
	"time"

	"github.com/bffless/bffless/internal/domain"
)

// VariantCookiePrefix scopes sticky-session cookies per domain.
const VariantCookiePrefix = "bffless_variant_"

// noExpiryDuration stands in for "sticky forever" when the configured
// duration is zero.
const noExpiryDuration = 10 * 365 * 24 * time.Hour

// Selection is the outcome of routing one request.
type Selection struct {
	Alias          string
	IsNewSelection bool
	SplitActive    bool
	CookieTTL      time.Duration
}

// Router picks an alias variant for a domain under configured weights. The
// random source is injected so tests can pin the draw; selection performs no
// I/O.
type Router struct {
	draw func() float64
}

// New returns a traffic router using the shared PRNG.
func New() Router {
	return Router{draw: rand.Float64}
}

// NewWithDraw returns a router with a custom draw in [0,1).
func NewWithDraw(draw func() float64) Router {
	return Router{draw: draw}
}

// CookieName returns the sticky-session cookie name for a domain.
func CookieName(domainID string) string {
	return VariantCookiePrefix + domainID
}

// Select chooses the alias variant to serve. A sticky cookie naming a
// currently-weighted alias is always honored without a re-roll; otherwise a
// uniform draw in [0,100) walks the weight list in stored order. With no
// configured weights the caller's original alias passes through untouched.
func (r Router) Select(split *domain.TrafficSplit, cookieValue, originalAlias string) Selection {
	if !split.HasWeights() {
		return Selection{Alias: originalAlias}
	}

	ttl := time.Duration(split.StickySessionDuration) * time.Second
	if split.StickySessionDuration == 0 {
		ttl = noExpiryDuration
	}

	if split.StickySessionsEnabled && cookieValue != "" {
		for _, w := range split.Weights {
			if w.Alias == cookieValue {
				return Selection{Alias: cookieValue, SplitActive: true, CookieTTL: ttl}
			}
		}
	}

	point := r.draw() * 100
	accumulated := 0.0
	selected := split.Weights[len(split.Weights)-1].Alias
	for _, w := range split.Weights {
		accumulated += float64(w.Weight)
		if point < accumulated {
			selected = w.Alias
			break
		}
	}
	return Selection{
		Alias:          selected,
		IsNewSelection: split.StickySessionsEnabled,
		SplitActive:    true,
		CookieTTL:      ttl,
	}
}
