package reader

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	appconfig "spreadflow/config"
	"spreadflow/internal/channel"
	"spreadflow/internal/symbols"
	"spreadflow/logger"
	"spreadflow/models"
)

// Hybrid keeps one venue's quotes flowing through two transports: a
// streaming subscription as primary source and rate-limited REST polling as
// fallback. The stream watchdog promotes polling when the stream goes silent
// and demotes it again on the next inbound stream message. Polling may
// overlap a freshly recovered stream for one tick; recency-wins writes in
// the cache make the overlap harmless.
type Hybrid struct {
	cfg      *appconfig.Config
	vcfg     appconfig.VenueConfig
	adapter  Adapter
	allow    *symbols.AllowList
	channels *channel.Channels
	log      *logger.Log

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	limiter *rate.Limiter

	marketsMu sync.RWMutex
	markets   map[string]string

	connected  atomic.Bool
	pollActive atomic.Bool
	lastStream atomic.Int64 // unix ms of last inbound stream message
	lastQuote  sync.Map     // symbol -> unix ms of last accepted quote
}

// NewHybrid builds a connector for one venue. The venue block from the
// configuration overrides the shared reader defaults where set.
func NewHybrid(cfg *appconfig.Config, vcfg appconfig.VenueConfig, adapter Adapter, allow *symbols.AllowList, ch *channel.Channels) *Hybrid {
	rl := cfg.Reader.RateLimit
	if rl.RequestsPerSecond <= 0 {
		rl.RequestsPerSecond = 5
	}
	if rl.BurstSize <= 0 {
		rl.BurstSize = rl.RequestsPerSecond
	}
	return &Hybrid{
		cfg:      cfg,
		vcfg:     vcfg,
		adapter:  adapter,
		allow:    allow,
		channels: ch,
		log:      logger.GetLogger(),
		limiter:  rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.BurstSize),
	}
}

// Start begins connecting the stream and immediately performs one fallback
// fetch so consumers have data before the handshake completes. Calling Start
// while running is a no-op.
func (h *Hybrid) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.mu.Unlock()

	// polling covers the gap until the stream handshake succeeds
	h.pollActive.Store(true)

	h.wg.Add(1)
	go h.run()

	h.log.WithComponent(h.component()).WithFields(logger.Fields{
		"stream_timeout": h.streamTimeout(),
		"poll_interval":  h.pollInterval(),
	}).Info("connector started")
	return nil
}

// Stop cancels the watchdog, reconnect and polling timers, releases the
// stream and waits for all connector goroutines. Safe to call when the
// connector was never started.
func (h *Hybrid) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	cancel := h.cancel
	h.mu.Unlock()

	cancel()
	h.wg.Wait()
	h.connected.Store(false)
	h.log.WithComponent(h.component()).Info("connector stopped")
}

// IsFresh reports whether the most recent accepted quote for the symbol,
// from either transport, is within the freshness threshold.
func (h *Hybrid) IsFresh(symbol string) bool {
	v, ok := h.lastQuote.Load(symbol)
	if !ok {
		return false
	}
	age := time.Now().UnixMilli() - v.(int64)
	return age <= h.cfg.Aggregator.FreshnessThreshold().Milliseconds()
}

// Status reports connector health for the API surface.
func (h *Hybrid) Status() models.ConnectorStatus {
	return models.ConnectorStatus{
		Venue:               h.adapter.Venue(),
		Connected:           h.connected.Load(),
		PollingActive:       h.pollActive.Load(),
		LastStreamMessageAt: h.lastStream.Load(),
	}
}

func (h *Hybrid) component() string {
	return strings.ToLower(h.adapter.Venue()) + "_connector"
}

func (h *Hybrid) streamTimeout() time.Duration {
	if h.vcfg.StreamTimeoutMs > 0 {
		return time.Duration(h.vcfg.StreamTimeoutMs) * time.Millisecond
	}
	return h.cfg.Reader.StreamTimeout()
}

func (h *Hybrid) pollInterval() time.Duration {
	if h.vcfg.PollIntervalMs > 0 {
		return time.Duration(h.vcfg.PollIntervalMs) * time.Millisecond
	}
	return h.cfg.Reader.PollInterval()
}

func (h *Hybrid) run() {
	defer h.wg.Done()

	if !h.discoverMarkets() {
		return
	}

	// one immediate fallback fetch before the stream is up
	h.pollOnce()

	h.wg.Add(3)
	go h.streamLoop()
	go h.pollLoop()
	go h.watchdogLoop()
}

// discoverMarkets retries the symbol-map fetch until it succeeds or the
// connector stops. Discovery failure never reaches the caller; the fallback
// path simply has nothing to serve until a fetch lands.
func (h *Hybrid) discoverMarkets() bool {
	log := h.log.WithComponent(h.component())
	wait := h.cfg.Reader.Reconnect.DiscoveryWait()
	if wait <= 0 {
		wait = 5 * time.Second
	}

	for {
		if err := h.limiter.Wait(h.ctx); err != nil {
			return false
		}
		markets, err := h.adapter.FetchMarkets(h.ctx)
		if err == nil {
			filtered := h.allow.Filter(markets)
			h.marketsMu.Lock()
			h.markets = filtered
			h.marketsMu.Unlock()
			log.WithFields(logger.Fields{
				"discovered": len(markets),
				"subscribed": len(filtered),
			}).Info("venue markets discovered")
			return true
		}

		log.WithError(err).Warn("market discovery failed, retrying")
		select {
		case <-time.After(wait):
		case <-h.ctx.Done():
			return false
		}
	}
}

func (h *Hybrid) marketsCopy() map[string]string {
	h.marketsMu.RLock()
	defer h.marketsMu.RUnlock()
	out := make(map[string]string, len(h.markets))
	for k, v := range h.markets {
		out[k] = v
	}
	return out
}

func (h *Hybrid) streamLoop() {
	defer h.wg.Done()

	log := h.log.WithComponent(h.component()).WithFields(logger.Fields{"worker": "stream"})
	rc := h.cfg.Reader.Reconnect
	b := &backoff.Backoff{
		Min:    rc.BaseDelay(),
		Max:    rc.MaxDelay(),
		Factor: 2,
		Jitter: true,
	}
	attempts := 0

	for {
		if h.ctx.Err() != nil {
			return
		}

		st, err := h.adapter.Connect(h.ctx, h.marketsCopy())
		if err != nil {
			attempts++
			h.pollActive.Store(true)

			var delay time.Duration
			if rc.MaxAttempts > 0 && attempts >= rc.MaxAttempts {
				// exhausted: polling stays primary, stream retried on a
				// longer fixed cadence
				delay = rc.StreamRetry()
				if delay <= 0 {
					delay = time.Minute
				}
			} else {
				delay = b.Duration()
			}

			log.WithError(err).WithFields(logger.Fields{
				"attempt":     attempts,
				"retry_delay": delay,
			}).Warn("stream connect failed")

			select {
			case <-time.After(delay):
			case <-h.ctx.Done():
				return
			}
			continue
		}

		attempts = 0
		b.Reset()
		h.connected.Store(true)
		h.lastStream.Store(time.Now().UnixMilli())
		h.pollActive.Store(false)
		log.Info("stream connected")

		h.readLoop(st)

		h.connected.Store(false)
		h.pollActive.Store(true)
		if h.ctx.Err() != nil {
			return
		}
		log.Warn("stream disconnected, reconnecting")
	}
}

func (h *Hybrid) readLoop(st Stream) {
	defer st.Close()

	// unblock Read when the connector stops
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-h.ctx.Done():
			st.Close()
		case <-done:
		}
	}()

	log := h.log.WithComponent(h.component()).WithFields(logger.Fields{"worker": "stream"})

	for {
		quotes, err := st.Read()
		if err != nil {
			if h.ctx.Err() == nil {
				log.WithError(err).Warn("stream read error")
			}
			return
		}

		// any inbound traffic counts as liveness and demotes polling
		h.lastStream.Store(time.Now().UnixMilli())
		h.pollActive.Store(false)

		for _, q := range quotes {
			if h.emit(q, models.SourceStream) {
				logger.IncrementStreamRead(h.adapter.Venue())
			}
		}
	}
}

func (h *Hybrid) pollLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if !h.pollActive.Load() {
				continue
			}
			h.pollOnce()
		}
	}
}

func (h *Hybrid) pollOnce() {
	markets := h.marketsCopy()
	if len(markets) == 0 {
		return
	}
	if err := h.limiter.Wait(h.ctx); err != nil {
		return
	}

	quotes, err := h.adapter.Poll(h.ctx, markets)
	if err != nil {
		if h.ctx.Err() == nil {
			h.log.WithComponent(h.component()).WithError(err).Warn("fallback poll failed")
		}
		return
	}

	for _, q := range quotes {
		if h.emit(q, models.SourcePoll) {
			logger.IncrementPollRead(h.adapter.Venue())
		}
	}
}

func (h *Hybrid) watchdogLoop() {
	defer h.wg.Done()

	timeout := h.streamTimeout()
	interval := timeout / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := h.log.WithComponent(h.component()).WithFields(logger.Fields{"worker": "watchdog"})

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if !h.connected.Load() {
				continue
			}
			silence := time.Now().UnixMilli() - h.lastStream.Load()
			if silence > timeout.Milliseconds() {
				// the stream handle stays up; it may recover on its own
				if h.pollActive.CompareAndSwap(false, true) {
					log.WithFields(logger.Fields{"silence_ms": silence}).Warn("stream silent, promoting fallback polling")
				}
			}
		}
	}
}

// emit stamps the quote with receipt time and transport source and hands it
// to the coordinator. Quotes with no data are dropped here so a half-parsed
// message can never look tradable downstream.
func (h *Hybrid) emit(pp models.PricePoint, src models.PriceSource) bool {
	if !pp.HasData() {
		return false
	}
	pp.Venue = h.adapter.Venue()
	pp.Source = src
	pp.Timestamp = time.Now().UnixMilli()
	h.lastQuote.Store(pp.Symbol, pp.Timestamp)
	return h.channels.SendQuote(h.ctx, pp)
}
