package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	appconfig "spreadflow/config"
	"spreadflow/internal/symbols"
	"spreadflow/logger"
	"spreadflow/models"
	"spreadflow/reader"
)

// Adapter speaks the Lighter zk-exchange API. Markets are addressed by
// numeric id, the stream carries order-book snapshots and deltas rather than
// top-of-book tickers, so the stream keeps a local book per market and emits
// the best levels after every update.
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

func (a *Adapter) Venue() string { return "LIGHTER" }

type orderBooksResp struct {
	OrderBooks []struct {
		Symbol   string `json:"symbol"`
		MarketID int    `json:"market_id"`
		Status   string `json:"status"`
	} `json:"order_books"`
}

// FetchMarkets maps internal tickers to Lighter market ids, e.g. BTC -> "1".
func (a *Adapter) FetchMarkets(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.RestURL+"/api/v1/orderBooks", nil)
	if err != nil {
		return nil, fmt.Errorf("build order books request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch order books: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("order books status %d", resp.StatusCode)
	}

	var books orderBooksResp
	if err := json.NewDecoder(resp.Body).Decode(&books); err != nil {
		return nil, fmt.Errorf("decode order books: %w", err)
	}

	markets := make(map[string]string, len(books.OrderBooks))
	for _, ob := range books.OrderBooks {
		if !strings.EqualFold(ob.Status, "active") {
			continue
		}
		markets[symbols.Base(ob.Symbol)] = strconv.Itoa(ob.MarketID)
	}
	return markets, nil
}

// Connect dials the stream endpoint and subscribes to one order-book channel
// per market id. The server drives keep-alive with ping messages that the
// stream answers inline from Read.
func (a *Adapter) Connect(ctx context.Context, markets map[string]string) (reader.Stream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: a.httpClient.Timeout}
	conn, _, err := dialer.DialContext(ctx, a.cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial lighter stream: %w", err)
	}

	byMarket := make(map[string]string, len(markets))
	for sym, id := range markets {
		sub := map[string]string{"type": "subscribe", "channel": "order_book/" + id}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe order book %s: %w", id, err)
		}
		byMarket[id] = sym
	}
	a.log.WithComponent("lighter_connector").WithFields(logger.Fields{
		"channels": len(byMarket),
	}).Debug("order book channels subscribed")

	return &stream{
		conn:     conn,
		byMarket: byMarket,
		books:    make(map[string]*Book, len(byMarket)),
	}, nil
}

type orderBookDetailsResp struct {
	OrderBookDetails []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	} `json:"order_book_details"`
}

// Poll fetches the order book details snapshot, which carries top-of-book
// for every market in one response.
func (a *Adapter) Poll(ctx context.Context, markets map[string]string) ([]models.PricePoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.RestURL+"/api/v1/orderBookDetails", nil)
	if err != nil {
		return nil, fmt.Errorf("build order book details request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch order book details: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("order book details status %d", resp.StatusCode)
	}

	var details orderBookDetailsResp
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("decode order book details: %w", err)
	}

	subscribed := make(map[string]bool, len(markets))
	for sym := range markets {
		subscribed[sym] = true
	}

	quotes := make([]models.PricePoint, 0, len(markets))
	for _, d := range details.OrderBookDetails {
		sym := symbols.Base(d.Symbol)
		if !subscribed[sym] {
			continue
		}
		bid, _ := strconv.ParseFloat(d.BestBid, 64)
		ask, _ := strconv.ParseFloat(d.BestAsk, 64)
		quotes = append(quotes, models.PricePoint{Symbol: sym, Bid: bid, Ask: ask})
	}
	return quotes, nil
}

type stream struct {
	conn     *websocket.Conn
	byMarket map[string]string // market id -> internal symbol
	books    map[string]*Book
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookEvent struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	OrderBook struct {
		Bids []wireLevel `json:"bids"`
		Asks []wireLevel `json:"asks"`
	} `json:"order_book"`
}

// Read applies one stream message to the local books and emits the updated
// market's top of book. Server pings are answered here so the read loop
// stays the only writer after the subscribe handshake.
func (s *stream) Read() ([]models.PricePoint, error) {
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var evt bookEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		return nil, nil
	}

	if evt.Type == "ping" {
		s.conn.WriteJSON(map[string]string{"type": "pong"})
		return nil, nil
	}

	return s.apply(evt), nil
}

// apply routes one decoded event into the per-market book. Subscribe
// confirmations carry a full snapshot, updates carry deltas.
func (s *stream) apply(evt bookEvent) []models.PricePoint {
	id := marketID(evt.Channel)
	sym, ok := s.byMarket[id]
	if !ok {
		return nil
	}

	book := s.books[id]
	if book == nil {
		book = NewBook()
		s.books[id] = book
	}

	bids := parseLevels(evt.OrderBook.Bids)
	asks := parseLevels(evt.OrderBook.Asks)

	switch evt.Type {
	case "subscribed/order_book":
		book.ApplySnapshot(bids, asks)
	case "update/order_book":
		book.ApplyDelta(bids, asks)
	default:
		return nil
	}

	bid, ask := book.Best()
	return []models.PricePoint{{Symbol: sym, Bid: bid, Ask: ask}}
}

func (s *stream) Close() error {
	return s.conn.Close()
}

// marketID extracts the numeric id from a channel name; subscriptions use
// "order_book/3" while stream events use "order_book:3".
func marketID(channel string) string {
	for _, sep := range []string{":", "/"} {
		if i := strings.LastIndex(channel, sep); i >= 0 {
			return channel[i+1:]
		}
	}
	return channel
}

func parseLevels(in []wireLevel) []models.BookLevel {
	out := make([]models.BookLevel, 0, len(in))
	for _, lvl := range in {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		size, _ := strconv.ParseFloat(lvl.Size, 64)
		out = append(out, models.BookLevel{Price: price, Size: size})
	}
	return out
}
