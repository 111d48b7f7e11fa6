package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "spreadflow/config"
	"spreadflow/logger"
	"spreadflow/models"
)

// alertCooldown suppresses repeat alerts for a symbol whose spread stays
// above the threshold. The coordinator fires on every qualifying update;
// dedup lives here so every sink sees the same suppression.
const alertCooldown = time.Minute

// AlertWriter consumes alert events, suppresses repeats within the cooldown
// window per symbol, and emits the survivors as log lines and, when kafka is
// configured with an alert topic, as messages on that topic.
type AlertWriter struct {
	config     *appconfig.Config
	alertsChan <-chan models.AlertEvent
	writer     *kafka.Writer
	ctx        context.Context
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log

	lastAlerted map[string]int64 // symbol -> unix ms of last emitted alert
}

func NewAlertWriter(cfg *appconfig.Config, alertsChan <-chan models.AlertEvent) *AlertWriter {
	aw := &AlertWriter{
		config:      cfg,
		alertsChan:  alertsChan,
		wg:          &sync.WaitGroup{},
		log:         logger.GetLogger(),
		lastAlerted: make(map[string]int64),
	}

	if cfg.Storage.Kafka.Enabled && cfg.Storage.Kafka.AlertTopic != "" {
		aw.writer = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:    cfg.Storage.Kafka.AlertTopic,
			Balancer: &kafka.LeastBytes{},
		}
	}

	aw.log.WithComponent("alert_writer").WithFields(logger.Fields{
		"threshold": cfg.Aggregator.AlertThreshold,
		"cooldown":  alertCooldown,
		"kafka":     aw.writer != nil,
	}).Debug("alert writer initialized")
	return aw
}

func (aw *AlertWriter) Start(ctx context.Context) error {
	aw.mu.Lock()
	if aw.running {
		aw.mu.Unlock()
		return fmt.Errorf("alert writer already running")
	}
	aw.running = true
	aw.ctx = ctx
	aw.mu.Unlock()

	aw.wg.Add(1)
	go aw.run()

	return nil
}

func (aw *AlertWriter) run() {
	defer aw.wg.Done()

	for {
		select {
		case <-aw.ctx.Done():
			return
		case evt, ok := <-aw.alertsChan:
			if !ok {
				return
			}
			if !aw.shouldEmit(evt.View.Symbol, evt.Timestamp) {
				continue
			}
			aw.emit(evt)
		}
	}
}

// shouldEmit applies the per-symbol cooldown and records the emission time
// when the alert passes.
func (aw *AlertWriter) shouldEmit(symbol string, ts int64) bool {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	if last, ok := aw.lastAlerted[symbol]; ok && ts-last < alertCooldown.Milliseconds() {
		return false
	}
	aw.lastAlerted[symbol] = ts
	return true
}

func (aw *AlertWriter) emit(evt models.AlertEvent) {
	view := evt.View
	aw.log.WithComponent("alert_writer").WithFields(logger.Fields{
		"alert_id":       evt.ID,
		"symbol":         view.Symbol,
		"spread_percent": view.SpreadPercent,
		"best_bid":       view.BestBid,
		"best_bid_venue": view.BestBidVenue,
		"best_ask":       view.BestAsk,
		"best_ask_venue": view.BestAskVenue,
	}).Warn("spread above alert threshold")

	if aw.writer == nil {
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		aw.log.WithComponent("alert_writer").WithError(err).Warn("failed to marshal alert")
		return
	}
	msg := kafka.Message{
		Key:   []byte(view.Symbol),
		Value: data,
	}
	if err := aw.writer.WriteMessages(aw.ctx, msg); err != nil {
		aw.log.WithComponent("alert_writer").WithError(err).Warn("failed to write alert")
	}
}

func (aw *AlertWriter) Stop() {
	aw.mu.Lock()
	aw.running = false
	aw.mu.Unlock()

	if aw.writer != nil {
		aw.writer.Close()
	}
	aw.wg.Wait()
	aw.log.WithComponent("alert_writer").Debug("alert writer stopped")
}
