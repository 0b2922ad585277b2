package domain

// TrafficWeight assigns a share of a domain's traffic to one alias.
type TrafficWeight struct {
	DomainID string
	Alias    string
	Weight   int
	Position int
}

// TrafficSplit is the full variant-selection configuration for a domain.
// Weights sum to 100 and are walked in stored order.
type TrafficSplit struct {
	DomainID              string
	Weights               []TrafficWeight
	StickySessionsEnabled bool
	// StickySessionDuration is in seconds; 0 encodes "no expiration".
	StickySessionDuration int
}

// HasWeights reports whether traffic splitting is configured at all.
func (s *TrafficSplit) HasWeights() bool {
	return s != nil && len(s.Weights) > 0
}
