package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "spreadflow/config"
	"spreadflow/logger"
	"spreadflow/models"
)

// SpreadRow is the parquet schema for one persisted spread observation.
type SpreadRow struct {
	ID            string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol        string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	BestBid       float64 `parquet:"name=best_bid, type=DOUBLE"`
	BestBidVenue  string  `parquet:"name=best_bid_venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	BestAsk       float64 `parquet:"name=best_ask, type=DOUBLE"`
	BestAskVenue  string  `parquet:"name=best_ask_venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	SpreadPercent float64 `parquet:"name=spread_percent, type=DOUBLE"`
	Timestamp     int64   `parquet:"name=timestamp, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)  { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// SpreadWriter buffers spread records and flushes them to S3 as parquet
// files on an interval, partitioned by date and hour. A shutdown flush runs
// before the writer stops so throttled records are never lost.
type SpreadWriter struct {
	config      *appconfig.Config
	spreadsChan <-chan models.SpreadRecord
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      []models.SpreadRecord
	flushTicker *time.Ticker
}

func NewSpreadWriter(cfg *appconfig.Config, spreadsChan <-chan models.SpreadRecord) (*SpreadWriter, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("spread_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	sw := &SpreadWriter{
		config:      cfg,
		spreadsChan: spreadsChan,
		s3Client:    s3Client,
		wg:          &sync.WaitGroup{},
		log:         log,
	}

	log.WithComponent("spread_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("spread writer initialized")

	return sw, nil
}

func (w *SpreadWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("spread writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	flushInterval := w.config.Storage.S3.FlushInterval()
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	w.flushTicker = time.NewTicker(flushInterval)

	w.wg.Add(2)
	go w.worker()
	go w.flushWorker()

	w.log.WithComponent("spread_writer").WithFields(logger.Fields{
		"flush_interval": flushInterval,
	}).Info("spread writer started")
	return nil
}

func (w *SpreadWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("spread_writer").Info("stopping spread writer")
	w.wg.Wait()
	w.log.WithComponent("spread_writer").Info("spread writer stopped")
}

func (w *SpreadWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("spread_writer").WithFields(logger.Fields{"worker": "buffer"})

	for {
		select {
		case <-w.ctx.Done():
			return
		case rec, ok := <-w.spreadsChan:
			if !ok {
				log.Info("spreads channel closed, worker stopping")
				return
			}
			w.mu.Lock()
			w.buffer = append(w.buffer, rec)
			w.mu.Unlock()
		}
	}
}

func (w *SpreadWriter) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("spread_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.flush("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flush("interval")
		}
	}
}

func (w *SpreadWriter) flush(reason string) {
	w.mu.Lock()
	records := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(records) == 0 {
		return
	}

	log := w.log.WithComponent("spread_writer").WithFields(logger.Fields{
		"record_count": len(records),
		"reason":       reason,
	})
	log.Info("flushing spread records")

	data, err := buildParquet(records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key := w.objectKey(time.Now().UTC())
	if err := w.upload(key, data); err != nil {
		log.WithError(err).
			WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket, "s3_key": key}).
			Error("failed to upload to S3")
		return
	}

	logger.IncrementSpreadWrite(len(data))
	log.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("spread records uploaded")
}

// objectKey builds the partitioned object path, e.g.
// spreads/dt=2026-09-01/hour=13/spreads_20260901130500.parquet.
func (w *SpreadWriter) objectKey(ts time.Time) string {
	key := filepath.Join(
		"spreads",
		fmt.Sprintf("dt=%s", ts.Format("2006-01-02")),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("spreads_%s.parquet", ts.Format("20060102150405")),
	)
	return filepath.ToSlash(key)
}

// buildParquet encodes records into one snappy-compressed parquet file.
func buildParquet(records []models.SpreadRecord) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := parquetwriter.NewParquetWriter(fw, new(SpreadRow), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := SpreadRow{
			ID:            rec.ID,
			Symbol:        rec.Symbol,
			BestBid:       rec.BestBid,
			BestBidVenue:  rec.BestBidVenue,
			BestAsk:       rec.BestAsk,
			BestAskVenue:  rec.BestAskVenue,
			SpreadPercent: rec.SpreadPercent,
			Timestamp:     rec.Timestamp,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func (w *SpreadWriter) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"spreadflow-version": w.config.Spreadflow.Version,
		},
	}

	// shutdown flushes must survive the cancelled run context
	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}
