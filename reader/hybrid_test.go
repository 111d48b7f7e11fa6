package reader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appconfig "spreadflow/config"
	"spreadflow/internal/channel"
	"spreadflow/internal/symbols"
	"spreadflow/models"
)

type fakeStream struct {
	mu     sync.Mutex
	closed bool
	ch     chan []models.PricePoint
	done   chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		ch:   make(chan []models.PricePoint, 16),
		done: make(chan struct{}),
	}
}

func (s *fakeStream) Read() ([]models.PricePoint, error) {
	select {
	case q := <-s.ch:
		return q, nil
	case <-s.done:
		return nil, errors.New("stream closed")
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeAdapter struct {
	venue       string
	markets     map[string]string
	failConnect bool
	pollQuotes  []models.PricePoint
	pollErr     error

	mu       sync.Mutex
	streams  []*fakeStream
	connects int
	polls    int
}

func (a *fakeAdapter) Venue() string { return a.venue }

func (a *fakeAdapter) FetchMarkets(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(a.markets))
	for k, v := range a.markets {
		out[k] = v
	}
	return out, nil
}

func (a *fakeAdapter) Connect(ctx context.Context, markets map[string]string) (Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if a.failConnect {
		return nil, errors.New("handshake refused")
	}
	st := newFakeStream()
	a.streams = append(a.streams, st)
	return st, nil
}

func (a *fakeAdapter) Poll(ctx context.Context, markets map[string]string) ([]models.PricePoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	if a.pollErr != nil {
		return nil, a.pollErr
	}
	out := make([]models.PricePoint, len(a.pollQuotes))
	copy(out, a.pollQuotes)
	return out, nil
}

func (a *fakeAdapter) lastStream() *fakeStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.streams) == 0 {
		return nil
	}
	return a.streams[len(a.streams)-1]
}

func (a *fakeAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

func testConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Reader = appconfig.ReaderConfig{
		TimeoutMs:       1000,
		StreamTimeoutMs: 200,
		PollIntervalMs:  25,
		Reconnect: appconfig.ReconnectConfig{
			BaseDelayMs:     10,
			MaxDelayMs:      40,
			MaxAttempts:     3,
			StreamRetryMs:   50,
			DiscoveryWaitMs: 10,
		},
		RateLimit: appconfig.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}
	cfg.Aggregator.FreshnessThresholdMs = 30000
	return cfg
}

func newTestHybrid(adapter *fakeAdapter) (*Hybrid, *channel.Channels) {
	cfg := testConfig()
	ch := channel.NewChannels(256, 16)
	allow := symbols.NewAllowList([]string{"BTC", "ETH"})
	return NewHybrid(cfg, appconfig.VenueConfig{}, adapter, allow, ch), ch
}

func waitQuote(t *testing.T, ch *channel.Channels, source models.PriceSource, timeout time.Duration) models.PricePoint {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case pp := <-ch.Quotes:
			if source == "" || pp.Source == source {
				return pp
			}
		case <-deadline:
			t.Fatalf("no %q quote within %v", source, timeout)
			return models.PricePoint{}
		}
	}
}

func TestStartPerformsImmediateFallbackFetch(t *testing.T) {
	adapter := &fakeAdapter{
		venue:       "VEST",
		markets:     map[string]string{"BTC": "BTC-PERP"},
		failConnect: true,
		pollQuotes:  []models.PricePoint{{Symbol: "BTC", Bid: 101, Ask: 100}},
	}
	h, ch := newTestHybrid(adapter)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Stop()

	pp := waitQuote(t, ch, models.SourcePoll, 2*time.Second)
	if pp.Symbol != "BTC" || pp.Venue != "VEST" {
		t.Fatalf("unexpected quote %+v", pp)
	}
	if pp.Bid != 101 || pp.Ask != 100 {
		t.Fatalf("quote payload %+v", pp)
	}
	if pp.Timestamp == 0 {
		t.Fatalf("quote must carry a receipt timestamp")
	}
}

func TestWatchdogPromotesPollingOnSilence(t *testing.T) {
	adapter := &fakeAdapter{
		venue:      "VEST",
		markets:    map[string]string{"BTC": "BTC-PERP"},
		pollQuotes: []models.PricePoint{{Symbol: "BTC", Bid: 103, Ask: 102}},
	}
	h, ch := newTestHybrid(adapter)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Stop()

	// wait until the stream is up, then push one stream quote
	var st *fakeStream
	for i := 0; i < 100; i++ {
		if st = adapter.lastStream(); st != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st == nil {
		t.Fatalf("stream never connected")
	}
	st.ch <- []models.PricePoint{{Symbol: "BTC", Bid: 105, Ask: 104}}

	pp := waitQuote(t, ch, models.SourceStream, 2*time.Second)
	if pp.Bid != 105 {
		t.Fatalf("stream quote payload %+v", pp)
	}

	// the stream now goes silent; the watchdog must promote polling
	pp = waitQuote(t, ch, models.SourcePoll, 3*time.Second)
	if pp.Bid != 103 {
		t.Fatalf("poll quote payload %+v", pp)
	}
	if !h.Status().PollingActive {
		t.Fatalf("polling should be active after watchdog promotion")
	}

	// fresh stream traffic demotes polling again
	st.ch <- []models.PricePoint{{Symbol: "BTC", Bid: 106, Ask: 104}}
	waitQuote(t, ch, models.SourceStream, 2*time.Second)
	deadline := time.Now().Add(time.Second)
	for h.Status().PollingActive {
		if time.Now().After(deadline) {
			t.Fatalf("polling still active after stream recovery")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{venue: "VEST", markets: map[string]string{"BTC": "BTC-PERP"}}
	h, _ := newTestHybrid(adapter)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	h.Stop()
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	adapter := &fakeAdapter{venue: "VEST"}
	h, _ := newTestHybrid(adapter)
	h.Stop()
	h.Stop()
}

func TestStopReleasesStream(t *testing.T) {
	adapter := &fakeAdapter{
		venue:   "VEST",
		markets: map[string]string{"BTC": "BTC-PERP"},
	}
	h, _ := newTestHybrid(adapter)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var st *fakeStream
	for i := 0; i < 100; i++ {
		if st = adapter.lastStream(); st != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st == nil {
		t.Fatalf("stream never connected")
	}

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop did not return")
	}
	if !st.isClosed() {
		t.Fatalf("stream handle not released on Stop")
	}
}

func TestConnectFailuresFallBackToPolling(t *testing.T) {
	adapter := &fakeAdapter{
		venue:       "VEST",
		markets:     map[string]string{"BTC": "BTC-PERP"},
		failConnect: true,
		pollQuotes:  []models.PricePoint{{Symbol: "BTC", Bid: 101, Ask: 100}},
	}
	h, ch := newTestHybrid(adapter)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Stop()

	// polling keeps serving while the stream never comes up
	waitQuote(t, ch, models.SourcePoll, 2*time.Second)
	waitQuote(t, ch, models.SourcePoll, 2*time.Second)

	status := h.Status()
	if status.Connected {
		t.Fatalf("connector should not report connected")
	}
	if !status.PollingActive {
		t.Fatalf("polling should be active while the stream is down")
	}

	// reconnects keep being attempted with backoff
	deadline := time.Now().Add(3 * time.Second)
	for adapter.connectCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated connect attempts, got %d", adapter.connectCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEmitDropsEmptyQuotes(t *testing.T) {
	adapter := &fakeAdapter{
		venue:       "VEST",
		markets:     map[string]string{"BTC": "BTC-PERP"},
		failConnect: true,
		pollQuotes:  []models.PricePoint{{Symbol: "BTC"}},
	}
	h, ch := newTestHybrid(adapter)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Stop()

	select {
	case pp := <-ch.Quotes:
		t.Fatalf("zero/zero quote must not be emitted, got %+v", pp)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestIsFreshTracksAcceptedQuotes(t *testing.T) {
	adapter := &fakeAdapter{
		venue:       "VEST",
		markets:     map[string]string{"BTC": "BTC-PERP"},
		failConnect: true,
		pollQuotes:  []models.PricePoint{{Symbol: "BTC", Bid: 101, Ask: 100}},
	}
	h, ch := newTestHybrid(adapter)

	if h.IsFresh("BTC") {
		t.Fatalf("no quote yet, IsFresh must be false")
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Stop()

	waitQuote(t, ch, models.SourcePoll, 2*time.Second)
	if !h.IsFresh("BTC") {
		t.Fatalf("quote just accepted, IsFresh must be true")
	}
	if h.IsFresh("ETH") {
		t.Fatalf("no ETH quote was ever accepted")
	}
}
