package aggregator

import (
	"testing"
	"time"

	"spreadflow/models"
)

func TestCacheApplyMergesPerVenue(t *testing.T) {
	c := NewCache(venues, 30*time.Second)
	now := time.Now()

	c.Apply(models.PricePoint{Symbol: "BTC", Venue: "VEST", Bid: 100, Ask: 101, Timestamp: now.UnixMilli()}, now)
	view, accepted := c.Apply(models.PricePoint{Symbol: "BTC", Venue: "LIGHTER", Bid: 102, Ask: 103, Timestamp: now.UnixMilli()}, now)

	if !accepted {
		t.Fatalf("fresh quote must be accepted")
	}
	if len(view.Prices) != 2 {
		t.Fatalf("view holds %d venues, want 2", len(view.Prices))
	}
	if view.BestBid != 102 || view.BestAsk != 101 {
		t.Fatalf("best = %v/%v, want 102/101", view.BestBid, view.BestAsk)
	}
}

func TestCacheApplyRejectsOlderQuotes(t *testing.T) {
	c := NewCache(venues, 30*time.Second)
	now := time.Now()

	c.Apply(models.PricePoint{Symbol: "BTC", Venue: "VEST", Bid: 100, Ask: 101, Timestamp: now.UnixMilli()}, now)

	// a late poll result carrying an older receipt time must not clobber
	// the newer stream quote
	stale := models.PricePoint{Symbol: "BTC", Venue: "VEST", Bid: 90, Ask: 91, Timestamp: now.Add(-time.Second).UnixMilli()}
	view, accepted := c.Apply(stale, now)

	if accepted {
		t.Fatalf("older quote must be rejected")
	}
	if view.Prices["VEST"].Bid != 100 {
		t.Fatalf("held quote was clobbered: %+v", view.Prices["VEST"])
	}
}

func TestCacheApplyIsIdempotent(t *testing.T) {
	c := NewCache(venues, 30*time.Second)
	now := time.Now()
	pp := models.PricePoint{Symbol: "BTC", Venue: "VEST", Bid: 100, Ask: 101, Timestamp: now.UnixMilli()}

	first, _ := c.Apply(pp, now)
	second, _ := c.Apply(pp, now)

	if first.BestBid != second.BestBid || first.BestAsk != second.BestAsk || first.SpreadPercent != second.SpreadPercent {
		t.Fatalf("re-applying the same quote changed the view: %+v vs %+v", first, second)
	}
}

func TestCacheViewReevaluatesFreshnessAtReadTime(t *testing.T) {
	c := NewCache(venues, 30*time.Second)
	now := time.Now()

	c.Apply(models.PricePoint{Symbol: "BTC", Venue: "VEST", Bid: 100, Ask: 101, Timestamp: now.UnixMilli()}, now)

	view, ok := c.View("BTC", now)
	if !ok || view.SpreadPercent == SpreadUndefined {
		t.Fatalf("fresh read should carry a spread, got %+v", view)
	}

	later := now.Add(time.Minute)
	view, ok = c.View("BTC", later)
	if !ok {
		t.Fatalf("symbol should still be present")
	}
	if view.SpreadPercent != SpreadUndefined {
		t.Fatalf("aged read must degrade to the sentinel, got %v", view.SpreadPercent)
	}
}

func TestCacheSnapshotIsDeepCopy(t *testing.T) {
	c := NewCache(venues, 30*time.Second)
	now := time.Now()
	c.Apply(models.PricePoint{Symbol: "BTC", Venue: "VEST", Bid: 100, Ask: 101, Timestamp: now.UnixMilli()}, now)

	snap := c.Snapshot(now)
	snap["BTC"].Prices["VEST"] = models.PricePoint{Symbol: "BTC", Venue: "VEST", Bid: 1}

	view, _ := c.View("BTC", now)
	if view.Prices["VEST"].Bid != 100 {
		t.Fatalf("mutating a snapshot leaked into the cache")
	}
}

func TestCacheViewMissingSymbol(t *testing.T) {
	c := NewCache(venues, 30*time.Second)
	if _, ok := c.View("BTC", time.Now()); ok {
		t.Fatalf("unknown symbol must not be found")
	}
}
