package aggregator

import (
	"time"

	"spreadflow/models"
)

// SpreadUndefined marks a spread that cannot be computed because one side of
// the book is missing or stale across all venues. Consumers must treat it as
// "no value", never as a price.
const SpreadUndefined = -999.0

// computeSpread scans the venues in their fixed order and selects the
// highest fresh bid and the lowest fresh ask. Comparisons are strict, so on
// an exact tie the venue listed first keeps the slot. Each side qualifies on
// its own: a venue missing its ask can still contribute its bid.
func computeSpread(view *models.SymbolView, venueOrder []string, now time.Time, freshness time.Duration) {
	view.BestBid = 0
	view.BestBidVenue = ""
	view.BestAsk = 0
	view.BestAskVenue = ""
	view.SpreadPercent = SpreadUndefined

	for _, venue := range venueOrder {
		pp, ok := view.Prices[venue]
		if !ok || !pp.IsFresh(now, freshness) {
			continue
		}
		if pp.Bid > 0 && pp.Bid > view.BestBid {
			view.BestBid = pp.Bid
			view.BestBidVenue = venue
		}
		if pp.Ask > 0 && (view.BestAsk == 0 || pp.Ask < view.BestAsk) {
			view.BestAsk = pp.Ask
			view.BestAskVenue = venue
		}
	}

	if view.BestBid == 0 || view.BestAsk == 0 {
		view.BestBid = 0
		view.BestBidVenue = ""
		view.BestAsk = 0
		view.BestAskVenue = ""
		return
	}

	view.SpreadPercent = (view.BestBid - view.BestAsk) / view.BestAsk * 100
}
