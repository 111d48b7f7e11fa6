package aggregator

import (
	"math"
	"testing"
	"time"

	"spreadflow/models"
)

var venues = []string{"VEST", "LIGHTER", "PARADEX"}

func viewWith(prices map[string]models.PricePoint) *models.SymbolView {
	return &models.SymbolView{Symbol: "BTC", Prices: prices}
}

func TestComputeSpreadPicksBestAcrossVenues(t *testing.T) {
	now := time.Now()
	ts := now.UnixMilli()
	view := viewWith(map[string]models.PricePoint{
		"VEST":    {Venue: "VEST", Bid: 100, Ask: 101, Timestamp: ts},
		"LIGHTER": {Venue: "LIGHTER", Bid: 105, Ask: 104, Timestamp: ts},
		"PARADEX": {Venue: "PARADEX", Bid: 99, Ask: 98, Timestamp: ts},
	})

	computeSpread(view, venues, now, 30*time.Second)

	if view.BestBid != 105 || view.BestBidVenue != "LIGHTER" {
		t.Fatalf("best bid = %v@%s", view.BestBid, view.BestBidVenue)
	}
	if view.BestAsk != 98 || view.BestAskVenue != "PARADEX" {
		t.Fatalf("best ask = %v@%s", view.BestAsk, view.BestAskVenue)
	}
	want := (105.0 - 98.0) / 98.0 * 100
	if math.Abs(view.SpreadPercent-want) > 1e-9 {
		t.Fatalf("spread = %v, want %v", view.SpreadPercent, want)
	}
}

func TestComputeSpreadExcludesStaleVenues(t *testing.T) {
	now := time.Now()
	view := viewWith(map[string]models.PricePoint{
		"VEST":    {Venue: "VEST", Bid: 200, Ask: 201, Timestamp: now.Add(-time.Minute).UnixMilli()},
		"LIGHTER": {Venue: "LIGHTER", Bid: 100, Ask: 101, Timestamp: now.UnixMilli()},
	})

	computeSpread(view, venues, now, 30*time.Second)

	if view.BestBid != 100 || view.BestBidVenue != "LIGHTER" {
		t.Fatalf("stale venue leaked into best bid: %v@%s", view.BestBid, view.BestBidVenue)
	}
}

func TestComputeSpreadUndefinedWhenOneSideMissing(t *testing.T) {
	now := time.Now()
	ts := now.UnixMilli()

	tests := []struct {
		name   string
		prices map[string]models.PricePoint
	}{
		{"no prices at all", map[string]models.PricePoint{}},
		{"bids only", map[string]models.PricePoint{
			"VEST": {Venue: "VEST", Bid: 100, Timestamp: ts},
		}},
		{"asks only", map[string]models.PricePoint{
			"LIGHTER": {Venue: "LIGHTER", Ask: 101, Timestamp: ts},
		}},
		{"everything stale", map[string]models.PricePoint{
			"VEST": {Venue: "VEST", Bid: 100, Ask: 101, Timestamp: now.Add(-time.Hour).UnixMilli()},
		}},
	}
	for _, tt := range tests {
		view := viewWith(tt.prices)
		computeSpread(view, venues, now, 30*time.Second)
		if view.SpreadPercent != SpreadUndefined {
			t.Errorf("%s: spread = %v, want sentinel", tt.name, view.SpreadPercent)
		}
		if view.BestBid != 0 || view.BestAsk != 0 || view.BestBidVenue != "" || view.BestAskVenue != "" {
			t.Errorf("%s: best fields must be cleared, got %+v", tt.name, view)
		}
	}
}

func TestComputeSpreadTieBreakKeepsFirstVenue(t *testing.T) {
	now := time.Now()
	ts := now.UnixMilli()
	view := viewWith(map[string]models.PricePoint{
		"VEST":    {Venue: "VEST", Bid: 100, Ask: 101, Timestamp: ts},
		"LIGHTER": {Venue: "LIGHTER", Bid: 100, Ask: 101, Timestamp: ts},
		"PARADEX": {Venue: "PARADEX", Bid: 100, Ask: 101, Timestamp: ts},
	})

	computeSpread(view, venues, now, 30*time.Second)

	if view.BestBidVenue != "VEST" || view.BestAskVenue != "VEST" {
		t.Fatalf("tie must keep the first venue, got bid@%s ask@%s", view.BestBidVenue, view.BestAskVenue)
	}
}

func TestComputeSpreadSidesQualifyIndependently(t *testing.T) {
	now := time.Now()
	ts := now.UnixMilli()
	// one venue has only a bid, the other only an ask; together they still
	// form a spread: (101-100)/100*100 = 1.0
	view := viewWith(map[string]models.PricePoint{
		"VEST":    {Venue: "VEST", Bid: 0, Ask: 100, Timestamp: ts},
		"LIGHTER": {Venue: "LIGHTER", Bid: 101, Ask: 0, Timestamp: ts},
	})

	computeSpread(view, venues, now, 30*time.Second)

	if view.BestBidVenue != "LIGHTER" || view.BestAskVenue != "VEST" {
		t.Fatalf("sides must qualify independently, got bid@%s ask@%s", view.BestBidVenue, view.BestAskVenue)
	}
	if math.Abs(view.SpreadPercent-1.0) > 1e-9 {
		t.Fatalf("spread = %v, want 1.0", view.SpreadPercent)
	}
}

func TestComputeSpreadCanBeNegative(t *testing.T) {
	now := time.Now()
	ts := now.UnixMilli()
	view := viewWith(map[string]models.PricePoint{
		"VEST": {Venue: "VEST", Bid: 99, Ask: 100, Timestamp: ts},
	})

	computeSpread(view, venues, now, 30*time.Second)

	if view.SpreadPercent >= 0 {
		t.Fatalf("single-venue book should carry a negative spread, got %v", view.SpreadPercent)
	}
}
