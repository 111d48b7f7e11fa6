package lighter

import "spreadflow/models"

// Book mirrors one market's order book from the Lighter stream. The feed
// sends a full snapshot on subscribe and price-level deltas afterwards; a
// delta with size zero removes the level.
type Book struct {
	bids map[float64]float64 // price -> size
	asks map[float64]float64
}

func NewBook() *Book {
	return &Book{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

// ApplySnapshot replaces the book contents with the given levels.
func (b *Book) ApplySnapshot(bids, asks []models.BookLevel) {
	b.bids = make(map[float64]float64, len(bids))
	b.asks = make(map[float64]float64, len(asks))
	b.ApplyDelta(bids, asks)
}

// ApplyDelta upserts the given levels. Size zero deletes the level.
func (b *Book) ApplyDelta(bids, asks []models.BookLevel) {
	for _, lvl := range bids {
		if lvl.Size == 0 {
			delete(b.bids, lvl.Price)
		} else {
			b.bids[lvl.Price] = lvl.Size
		}
	}
	for _, lvl := range asks {
		if lvl.Size == 0 {
			delete(b.asks, lvl.Price)
		} else {
			b.asks[lvl.Price] = lvl.Size
		}
	}
}

// Best returns the highest bid and lowest ask. A missing side reads zero.
func (b *Book) Best() (bid, ask float64) {
	for price := range b.bids {
		if price > bid {
			bid = price
		}
	}
	for price := range b.asks {
		if ask == 0 || price < ask {
			ask = price
		}
	}
	return bid, ask
}
