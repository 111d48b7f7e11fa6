package channel

import (
	"context"
	"sync"
	"time"

	"spreadflow/logger"
	"spreadflow/models"
)

type ChannelStats struct {
	QuotesSent       int64
	QuotesDropped    int64
	SpreadsSent      int64
	SpreadsDropped   int64
	AlertsSent       int64
	AlertsDropped    int64
	SnapshotsSent    int64
	SnapshotsDropped int64
}

// Channels carries all inter-component queues: the quote fan-in from every
// venue connector into the coordinator, and the fan-out to the persistence,
// alert and broadcast sinks. Sends never block the producer; a full queue
// drops the message and counts the drop.
type Channels struct {
	Quotes    chan models.PricePoint
	Spreads   chan models.SpreadRecord
	Alerts    chan models.AlertEvent
	Snapshots chan map[string]models.SymbolView

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(quoteBufferSize, sinkBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Quotes:    make(chan models.PricePoint, quoteBufferSize),
		Spreads:   make(chan models.SpreadRecord, sinkBufferSize),
		Alerts:    make(chan models.AlertEvent, sinkBufferSize),
		Snapshots: make(chan map[string]models.SymbolView, sinkBufferSize),
		log:       log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"quote_buffer_size": quoteBufferSize,
		"sink_buffer_size":  sinkBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Quotes)
	close(c.Spreads)
	close(c.Alerts)
	close(c.Snapshots)
	c.log.WithComponent("channels").Info("channels closed")
}

// SendQuote enqueues a price point for the coordinator. Quotes from one venue
// are enqueued in emission order, so per-venue FIFO holds as long as each
// connector sends from a single goroutine.
func (c *Channels) SendQuote(ctx context.Context, pp models.PricePoint) bool {
	select {
	case c.Quotes <- pp:
		c.bump(func(s *ChannelStats) { s.QuotesSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.bump(func(s *ChannelStats) { s.QuotesDropped++ })
		return false
	}
}

func (c *Channels) SendSpread(ctx context.Context, rec models.SpreadRecord) bool {
	select {
	case c.Spreads <- rec:
		c.bump(func(s *ChannelStats) { s.SpreadsSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.bump(func(s *ChannelStats) { s.SpreadsDropped++ })
		return false
	}
}

func (c *Channels) SendAlert(ctx context.Context, evt models.AlertEvent) bool {
	select {
	case c.Alerts <- evt:
		c.bump(func(s *ChannelStats) { s.AlertsSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.bump(func(s *ChannelStats) { s.AlertsDropped++ })
		return false
	}
}

func (c *Channels) SendSnapshot(ctx context.Context, snap map[string]models.SymbolView) bool {
	select {
	case c.Snapshots <- snap:
		c.bump(func(s *ChannelStats) { s.SnapshotsSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.bump(func(s *ChannelStats) { s.SnapshotsDropped++ })
		return false
	}
}

func (c *Channels) bump(update func(*ChannelStats)) {
	c.statsMutex.Lock()
	update(&c.stats)
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting periodically logs queue depth and send/drop counters.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.GetStats()
			c.log.WithComponent("channels").WithFields(logger.Fields{
				"quotes_sent":       stats.QuotesSent,
				"quotes_dropped":    stats.QuotesDropped,
				"spreads_sent":      stats.SpreadsSent,
				"spreads_dropped":   stats.SpreadsDropped,
				"alerts_sent":       stats.AlertsSent,
				"alerts_dropped":    stats.AlertsDropped,
				"snapshots_sent":    stats.SnapshotsSent,
				"snapshots_dropped": stats.SnapshotsDropped,
				"quote_queue_len":   len(c.Quotes),
				"quote_queue_cap":   cap(c.Quotes),
			}).Info("channel metrics")
		}
	}
}
