package traffic

import (
	"testing"
	"time"

	"github.com/bffless/bffless/internal/domain"
)

func split(sticky bool, duration int, weights ...domain.TrafficWeight) *domain.TrafficSplit {
	return &domain.TrafficSplit{
		DomainID:              "d1",
		Weights:               weights,
		StickySessionsEnabled: sticky,
		StickySessionDuration: duration,
	}
}

func TestSelectNoWeightsPassthrough(t *testing.T) {
	r := New()
	sel := r.Select(split(true, 60), "", "main")
	if sel.Alias != "main" || sel.SplitActive || sel.IsNewSelection {
		t.Fatalf("expected passthrough selection, got %+v", sel)
	}

	var nilSplit *domain.TrafficSplit
	sel = r.Select(nilSplit, "", "main")
	if sel.Alias != "main" || sel.SplitActive {
		t.Fatalf("nil split must pass through, got %+v", sel)
	}
}

func TestSelectStickyCookieWinsRegardlessOfDraw(t *testing.T) {
	// Draw would land in the first bucket every time; the cookie must win.
	r := NewWithDraw(func() float64 { return 0 })
	s := split(true, 3600,
		domain.TrafficWeight{Alias: "stable", Weight: 90},
		domain.TrafficWeight{Alias: "canary", Weight: 10},
	)
	sel := r.Select(s, "canary", "stable")
	if sel.Alias != "canary" {
		t.Fatalf("sticky cookie ignored: %+v", sel)
	}
	if sel.IsNewSelection {
		t.Fatal("sticky reuse must not be flagged as a new selection")
	}
	if !sel.SplitActive {
		t.Fatal("split is active; the variant header must still be set")
	}
}

func TestSelectIgnoresCookieForUnweightedAlias(t *testing.T) {
	r := NewWithDraw(func() float64 { return 0 })
	s := split(true, 3600,
		domain.TrafficWeight{Alias: "stable", Weight: 100},
	)
	sel := r.Select(s, "removed-variant", "stable")
	if sel.Alias != "stable" || !sel.IsNewSelection {
		t.Fatalf("stale cookie must trigger a fresh selection, got %+v", sel)
	}
}

func TestSelectWalksBucketsInStoredOrder(t *testing.T) {
	s := split(false, 0,
		domain.TrafficWeight{Alias: "a", Weight: 50},
		domain.TrafficWeight{Alias: "b", Weight: 30},
		domain.TrafficWeight{Alias: "c", Weight: 20},
	)
	cases := []struct {
		draw float64
		want string
	}{
		{0.0, "a"},
		{0.49, "a"},
		{0.5, "b"},
		{0.79, "b"},
		{0.8, "c"},
		{0.999, "c"},
	}
	for _, tc := range cases {
		r := NewWithDraw(func() float64 { return tc.draw })
		sel := r.Select(s, "", "a")
		if sel.Alias != tc.want {
			t.Errorf("draw %.3f selected %q, want %q", tc.draw, sel.Alias, tc.want)
		}
		if !sel.SplitActive {
			t.Errorf("draw %.3f: split must be active", tc.draw)
		}
	}
}

func TestSelectZeroDurationMeansFarFuture(t *testing.T) {
	r := NewWithDraw(func() float64 { return 0 })
	s := split(true, 0, domain.TrafficWeight{Alias: "only", Weight: 100})
	sel := r.Select(s, "", "only")
	if sel.CookieTTL < 9*365*24*time.Hour {
		t.Fatalf("duration 0 should encode no expiration, got %v", sel.CookieTTL)
	}
}

func TestCookieName(t *testing.T) {
	if got := CookieName("d1"); got != "bffless_variant_d1" {
		t.Fatalf("CookieName = %q", got)
	}
}
