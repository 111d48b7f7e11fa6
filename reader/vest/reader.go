package vest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "spreadflow/config"
	"spreadflow/internal/symbols"
	"spreadflow/logger"
	"spreadflow/models"
	"spreadflow/reader"
)

// Adapter speaks the Vest perpetuals API: REST exchange info for market
// discovery, a websocket ticker channel per market for streaming, and the
// latest-ticker REST endpoint for fallback polling. Vest has no Go SDK, so
// the adapter talks to the wire directly.
type Adapter struct {
	cfg        appconfig.VenueConfig
	httpClient *http.Client
	log        *logger.Log
}

func NewAdapter(cfg appconfig.VenueConfig, timeout time.Duration) *Adapter {
	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.GetLogger(),
	}
}

func (a *Adapter) Venue() string { return "VEST" }

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
}

// FetchMarkets maps internal tickers to Vest market names, e.g. BTC ->
// BTC-PERP. Non-trading markets are dropped here.
func (a *Adapter) FetchMarkets(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.RestURL+"/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("build exchange info request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange info status %d", resp.StatusCode)
	}

	var info exchangeInfoResp
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	markets := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Status, "TRADING") {
			continue
		}
		if !strings.HasSuffix(strings.ToUpper(s.Symbol), "-PERP") {
			continue
		}
		markets[symbols.Base(s.Symbol)] = s.Symbol
	}
	return markets, nil
}

// Connect dials the ticker websocket and subscribes to one ticker channel
// per market. Keep-alive is protocol-level ping frames.
func (a *Adapter) Connect(ctx context.Context, markets map[string]string) (reader.Stream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: a.httpClient.Timeout}
	conn, _, err := dialer.DialContext(ctx, a.cfg.WSURL+"?version=1.0", nil)
	if err != nil {
		return nil, fmt.Errorf("dial vest websocket: %w", err)
	}

	params := make([]string, 0, len(markets))
	bySymbol := make(map[string]string, len(markets))
	for sym, native := range markets {
		params = append(params, native+"@ticker")
		bySymbol[native] = sym
	}
	sub := map[string]interface{}{"method": "SUBSCRIBE", "params": params, "id": 1}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe vest tickers: %w", err)
	}

	st := &stream{
		conn:     conn,
		bySymbol: bySymbol,
		log:      a.log.WithComponent("vest_connector"),
		done:     make(chan struct{}),
	}
	go st.keepAlive()
	return st, nil
}

type latestTickersResp struct {
	Tickers []struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	} `json:"tickers"`
}

// Poll fetches the latest tickers for all markets in one request.
func (a *Adapter) Poll(ctx context.Context, markets map[string]string) ([]models.PricePoint, error) {
	natives := make([]string, 0, len(markets))
	bySymbol := make(map[string]string, len(markets))
	for sym, native := range markets {
		natives = append(natives, native)
		bySymbol[native] = sym
	}

	url := fmt.Sprintf("%s/ticker/latest?symbols=%s", a.cfg.RestURL, strings.Join(natives, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build ticker request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticker status %d", resp.StatusCode)
	}

	var tickers latestTickersResp
	if err := json.NewDecoder(resp.Body).Decode(&tickers); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}

	quotes := make([]models.PricePoint, 0, len(tickers.Tickers))
	for _, tk := range tickers.Tickers {
		sym, ok := bySymbol[tk.Symbol]
		if !ok {
			continue
		}
		bid, _ := strconv.ParseFloat(tk.BidPrice, 64)
		ask, _ := strconv.ParseFloat(tk.AskPrice, 64)
		quotes = append(quotes, models.PricePoint{Symbol: sym, Bid: bid, Ask: ask})
	}
	return quotes, nil
}

type stream struct {
	conn     *websocket.Conn
	bySymbol map[string]string
	log      *logger.Entry

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

type tickerEvent struct {
	Channel string `json:"channel"`
	Data    struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	} `json:"data"`
}

// Read parses one ticker event. Subscription acks and unknown frames are
// dropped silently; the next message supersedes them.
func (s *stream) Read() ([]models.PricePoint, error) {
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return parseTicker(msg, s.bySymbol), nil
}

// parseTicker converts one wire message into quotes. Anything that is not a
// well-formed ticker event for a subscribed market yields nil.
func parseTicker(msg []byte, bySymbol map[string]string) []models.PricePoint {
	var evt tickerEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		return nil
	}
	if !strings.HasSuffix(evt.Channel, "@ticker") {
		return nil
	}

	sym, ok := bySymbol[evt.Data.Symbol]
	if !ok {
		return nil
	}
	bid, _ := strconv.ParseFloat(evt.Data.BidPrice, 64)
	ask, _ := strconv.ParseFloat(evt.Data.AskPrice, 64)
	return []models.PricePoint{{Symbol: sym, Bid: bid, Ask: ask}}
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return s.conn.Close()
}

func (s *stream) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.closed {
				s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			s.mu.Unlock()
		}
	}
}
