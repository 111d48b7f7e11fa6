package paradex

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
	"spreadflow/logger"
	"spreadflow/models"
	"spreadflow/reader"
)

// Adapter speaks the Paradex API. The stream is JSON-RPC over websocket with
// one bbo channel per market; fallback polling hits the per-market bbo REST
// endpoint, so one poll cycle costs one request per subscribed market.
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

func (a *Adapter) Venue() string { return "PARADEX" }

type marketsResp struct {
	Results []struct {
		Symbol       string `json:"symbol"`
		BaseCurrency string `json:"base_currency"`
		AssetKind    string `json:"asset_kind"`
	} `json:"results"`
}

// FetchMarkets maps internal tickers to Paradex market names, e.g. BTC ->
// BTC-USD-PERP. Only perpetuals are kept.
func (a *Adapter) FetchMarkets(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.RestURL+"/markets", nil)
	if err != nil {
		return nil, fmt.Errorf("build markets request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("markets status %d", resp.StatusCode)
	}

	var mk marketsResp
	if err := json.NewDecoder(resp.Body).Decode(&mk); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}

	markets := make(map[string]string, len(mk.Results))
	for _, m := range mk.Results {
		if !strings.EqualFold(m.AssetKind, "PERP") {
			continue
		}
		markets[strings.ToUpper(m.BaseCurrency)] = m.Symbol
	}
	return markets, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

// Connect dials the JSON-RPC websocket and subscribes to the bbo channel of
// every market. Keep-alive is an application-level ping request on a timer.
func (a *Adapter) Connect(ctx context.Context, markets map[string]string) (reader.Stream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: a.httpClient.Timeout}
	conn, _, err := dialer.DialContext(ctx, a.cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial paradex websocket: %w", err)
	}

	st := &stream{
		conn:     conn,
		bySymbol: make(map[string]string, len(markets)),
		done:     make(chan struct{}),
		nextID:   1,
	}
	for sym, native := range markets {
		if err := st.writeJSON(rpcRequest{
			JSONRPC: "2.0",
			Method:  "subscribe",
			Params:  map[string]string{"channel": "bbo." + native},
			ID:      st.reserveID(),
		}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe bbo %s: %w", native, err)
		}
		st.bySymbol[native] = sym
	}
	a.log.WithComponent("paradex_connector").WithFields(logger.Fields{
		"channels": len(st.bySymbol),
	}).Debug("bbo channels subscribed")

	go st.keepAlive()
	return st, nil
}

type bboResp struct {
	Market string `json:"market"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
}

// Poll fetches the best bid and offer for each subscribed market. A failed
// market is skipped so one flaky endpoint cannot blank the whole venue.
func (a *Adapter) Poll(ctx context.Context, markets map[string]string) ([]models.PricePoint, error) {
	quotes := make([]models.PricePoint, 0, len(markets))
	var lastErr error
	for sym, native := range markets {
		bbo, err := a.fetchBBO(ctx, native)
		if err != nil {
			lastErr = err
			continue
		}
		bid, _ := strconv.ParseFloat(bbo.Bid, 64)
		ask, _ := strconv.ParseFloat(bbo.Ask, 64)
		quotes = append(quotes, models.PricePoint{Symbol: sym, Bid: bid, Ask: ask})
	}
	if len(quotes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return quotes, nil
}

func (a *Adapter) fetchBBO(ctx context.Context, market string) (*bboResp, error) {
	url := fmt.Sprintf("%s/bbo/%s", a.cfg.RestURL, market)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build bbo request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bbo %s: %w", market, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bbo %s status %d", market, resp.StatusCode)
	}

	var bbo bboResp
	if err := json.NewDecoder(resp.Body).Decode(&bbo); err != nil {
		return nil, fmt.Errorf("decode bbo %s: %w", market, err)
	}
	return &bbo, nil
}

type stream struct {
	conn     *websocket.Conn
	bySymbol map[string]string // native market -> internal symbol

	mu     sync.Mutex
	closed bool
	nextID int
	done   chan struct{}
}

type rpcMessage struct {
	Method string `json:"method"`
	Params struct {
		Channel string `json:"channel"`
		Data    struct {
			Market string `json:"market"`
			Bid    string `json:"bid"`
			Ask    string `json:"ask"`
		} `json:"data"`
	} `json:"params"`
}

// Read parses one JSON-RPC frame. Subscription acks, pong replies and
// frames for unknown channels yield no quotes.
func (s *stream) Read() ([]models.PricePoint, error) {
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return parseBBO(msg, s.bySymbol), nil
}

// parseBBO converts one wire frame into quotes. Anything that is not a bbo
// subscription update for a known market yields nil.
func parseBBO(msg []byte, bySymbol map[string]string) []models.PricePoint {
	var rpc rpcMessage
	if err := json.Unmarshal(msg, &rpc); err != nil {
		return nil
	}
	if rpc.Method != "subscription" || !strings.HasPrefix(rpc.Params.Channel, "bbo.") {
		return nil
	}
	sym, ok := bySymbol[rpc.Params.Data.Market]
	if !ok {
		return nil
	}
	bid, _ := strconv.ParseFloat(rpc.Params.Data.Bid, 64)
	ask, _ := strconv.ParseFloat(rpc.Params.Data.Ask, 64)
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

func (s *stream) reserveID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

func (s *stream) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteJSON(v)
}

func (s *stream) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeJSON(rpcRequest{JSONRPC: "2.0", Method: "ping", ID: s.reserveID()})
		}
	}
}
