package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appconfig "spreadflow/config"
	"spreadflow/internal/channel"
	"spreadflow/internal/symbols"
	"spreadflow/logger"
	"spreadflow/models"
)

// Coordinator is the single consumer of the quote fan-in. It serializes all
// cache writes through one goroutine, so merge-and-recompute is atomic per
// quote without per-symbol locking, and drives the three side effects of an
// update: throttled persistence, threshold alerts and coalesced broadcasts.
type Coordinator struct {
	cfg      *appconfig.Config
	channels *channel.Channels
	cache    *Cache
	allow    *symbols.AllowList
	log      *logger.Log

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	clock func() time.Time

	lastPersisted map[string]int64 // symbol -> unix ms of last persisted record
	dirty         atomic.Bool
}

func NewCoordinator(cfg *appconfig.Config, ch *channel.Channels, cache *Cache, allow *symbols.AllowList) *Coordinator {
	return &Coordinator{
		cfg:           cfg,
		channels:      ch,
		cache:         cache,
		allow:         allow,
		log:           logger.GetLogger(),
		clock:         time.Now,
		lastPersisted: make(map[string]int64),
	}
}

// Start launches the quote worker and the broadcast ticker. Calling Start
// while running is a no-op.
func (co *Coordinator) Start(ctx context.Context) error {
	co.mu.Lock()
	if co.running {
		co.mu.Unlock()
		return nil
	}
	co.running = true
	co.ctx, co.cancel = context.WithCancel(ctx)
	co.mu.Unlock()

	co.wg.Add(2)
	go co.quoteLoop()
	go co.broadcastLoop()

	co.log.WithComponent("coordinator").WithFields(logger.Fields{
		"persist_interval": co.cfg.Aggregator.PersistInterval(),
		"alert_threshold":  co.cfg.Aggregator.AlertThreshold,
		"broadcast_window": co.cfg.Aggregator.BroadcastWindow(),
	}).Info("coordinator started")
	return nil
}

// Stop drains nothing: quotes still in flight are dropped with the context.
// Safe to call when the coordinator was never started.
func (co *Coordinator) Stop() {
	co.mu.Lock()
	if !co.running {
		co.mu.Unlock()
		return
	}
	co.running = false
	cancel := co.cancel
	co.mu.Unlock()

	cancel()
	co.wg.Wait()
	co.log.WithComponent("coordinator").Info("coordinator stopped")
}

func (co *Coordinator) quoteLoop() {
	defer co.wg.Done()

	log := co.log.WithComponent("coordinator")
	for {
		select {
		case <-co.ctx.Done():
			return
		case pp, ok := <-co.channels.Quotes:
			if !ok {
				return
			}
			if !co.allow.Contains(pp.Symbol) {
				log.WithFields(logger.Fields{"symbol": pp.Symbol, "venue": pp.Venue}).Debug("quote outside allow-list dropped")
				continue
			}
			co.handleQuote(pp)
		}
	}
}

// handleQuote merges one quote and fires whichever side effects the updated
// view qualifies for.
func (co *Coordinator) handleQuote(pp models.PricePoint) {
	now := co.clock()
	view, accepted := co.cache.Apply(pp, now)
	if !accepted {
		return
	}

	co.dirty.Store(true)

	if view.SpreadPercent == SpreadUndefined {
		return
	}

	co.maybePersist(view, now)

	if view.SpreadPercent >= co.cfg.Aggregator.AlertThreshold {
		evt := models.AlertEvent{
			ID:        uuid.New().String(),
			View:      view,
			Timestamp: now.UnixMilli(),
		}
		if co.channels.SendAlert(co.ctx, evt) {
			logger.IncrementAlert()
		}
	}
}

// maybePersist enqueues a spread record unless one for this symbol was
// persisted within the persist interval. The throttle clock is per symbol;
// a quiet symbol never blocks a busy one.
func (co *Coordinator) maybePersist(view models.SymbolView, now time.Time) {
	last, ok := co.lastPersisted[view.Symbol]
	if ok && now.UnixMilli()-last < co.cfg.Aggregator.PersistInterval().Milliseconds() {
		return
	}

	rec := models.SpreadRecord{
		ID:            uuid.New().String(),
		Symbol:        view.Symbol,
		BestBid:       view.BestBid,
		BestBidVenue:  view.BestBidVenue,
		BestAsk:       view.BestAsk,
		BestAskVenue:  view.BestAskVenue,
		SpreadPercent: view.SpreadPercent,
		Timestamp:     now.UnixMilli(),
	}
	if co.channels.SendSpread(co.ctx, rec) {
		co.lastPersisted[view.Symbol] = now.UnixMilli()
	}
}

// broadcastLoop emits at most one snapshot per broadcast window, and only
// when something changed since the last emission. The snapshot always
// reflects the cache at emission time, so coalescing never publishes a view
// older than one the consumer has already seen.
func (co *Coordinator) broadcastLoop() {
	defer co.wg.Done()

	ticker := time.NewTicker(co.cfg.Aggregator.BroadcastWindow())
	defer ticker.Stop()

	for {
		select {
		case <-co.ctx.Done():
			return
		case <-ticker.C:
			if !co.dirty.CompareAndSwap(true, false) {
				continue
			}
			snap := co.cache.Snapshot(co.clock())
			if co.channels.SendSnapshot(co.ctx, snap) {
				logger.IncrementBroadcast(len(snap))
			}
		}
	}
}
