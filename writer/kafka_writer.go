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

// broadcastPayload is the wire shape of one snapshot broadcast.
type broadcastPayload struct {
	Timestamp int64                        `json:"timestamp"`
	Views     map[string]models.SymbolView `json:"views"`
}

// KafkaWriter publishes coalesced cache snapshots to the broadcast topic.
// One message carries the full view of every tracked symbol, keyed by a
// constant so all snapshots land on one partition in order.
type KafkaWriter struct {
	config        *appconfig.Config
	snapshotsChan <-chan map[string]models.SymbolView
	writer        *kafka.Writer
	ctx           context.Context
	wg            *sync.WaitGroup
	mu            sync.RWMutex
	running       bool
	log           *logger.Log
}

func NewKafkaWriter(cfg *appconfig.Config, snapshotsChan <-chan map[string]models.SymbolView) (*KafkaWriter, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := &KafkaWriter{
		config:        cfg,
		snapshotsChan: snapshotsChan,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:    cfg.Storage.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		wg:  &sync.WaitGroup{},
		log: logger.GetLogger(),
	}
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case snap, ok := <-kw.snapshotsChan:
			if !ok {
				return
			}
			payload := broadcastPayload{
				Timestamp: time.Now().UnixMilli(),
				Views:     snap,
			}
			data, err := json.Marshal(payload)
			if err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to marshal snapshot")
				continue
			}
			msg := kafka.Message{
				Key:   []byte("spread-snapshot"),
				Value: data,
			}
			if err := kw.writer.WriteMessages(kw.ctx, msg); err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to write snapshot")
			} else {
				kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
					"symbols": len(snap),
					"bytes":   len(data),
				}).Debug("snapshot broadcast to kafka")
			}
		}
	}
}

func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	kw.writer.Close()
	kw.wg.Wait()
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}
