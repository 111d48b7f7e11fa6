package aggregator

import (
	"sync"
	"time"

	"spreadflow/models"
)

// Cache is the aggregate of latest quotes per symbol and venue plus the
// derived cross-venue spread. Writes win by recency: a quote older than the
// one already held for its venue is dropped, which makes the poll/stream
// overlap during transport switches harmless. Spread freshness is evaluated
// against the clock of each call, so a view read later can carry a different
// spread than the one computed at write time.
type Cache struct {
	mu         sync.RWMutex
	venueOrder []string
	freshness  time.Duration
	views      map[string]*models.SymbolView
}

func NewCache(venueOrder []string, freshness time.Duration) *Cache {
	return &Cache{
		venueOrder: venueOrder,
		freshness:  freshness,
		views:      make(map[string]*models.SymbolView),
	}
}

// Apply merges one quote into the symbol's view and recomputes its spread.
// It returns the updated view and whether the quote was accepted; a quote
// older than the held one for the same venue is rejected.
func (c *Cache) Apply(pp models.PricePoint, now time.Time) (models.SymbolView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	view, ok := c.views[pp.Symbol]
	if !ok {
		view = &models.SymbolView{
			Symbol: pp.Symbol,
			Prices: make(map[string]models.PricePoint, len(c.venueOrder)),
		}
		c.views[pp.Symbol] = view
	}

	if held, ok := view.Prices[pp.Venue]; ok && pp.Timestamp < held.Timestamp {
		return copyView(view), false
	}

	view.Prices[pp.Venue] = pp
	view.UpdatedAt = now.UnixMilli()
	computeSpread(view, c.venueOrder, now, c.freshness)
	return copyView(view), true
}

// View returns one symbol's state with the spread re-evaluated at now.
func (c *Cache) View(symbol string, now time.Time) (models.SymbolView, bool) {
	c.mu.RLock()
	view, ok := c.views[symbol]
	if !ok {
		c.mu.RUnlock()
		return models.SymbolView{}, false
	}
	out := copyView(view)
	c.mu.RUnlock()

	computeSpread(&out, c.venueOrder, now, c.freshness)
	return out, true
}

// Snapshot returns a deep copy of every symbol view with spreads
// re-evaluated at now. The copy is safe to hand to sinks and API handlers.
func (c *Cache) Snapshot(now time.Time) map[string]models.SymbolView {
	c.mu.RLock()
	out := make(map[string]models.SymbolView, len(c.views))
	for sym, view := range c.views {
		out[sym] = copyView(view)
	}
	c.mu.RUnlock()

	for sym, view := range out {
		computeSpread(&view, c.venueOrder, now, c.freshness)
		out[sym] = view
	}
	return out
}

// Symbols returns the symbols currently held, in no particular order.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.views))
	for sym := range c.views {
		out = append(out, sym)
	}
	return out
}

func copyView(view *models.SymbolView) models.SymbolView {
	out := *view
	out.Prices = make(map[string]models.PricePoint, len(view.Prices))
	for venue, pp := range view.Prices {
		out.Prices[venue] = pp
	}
	return out
}
