// Package reporter publishes cycle reports to Kafka.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"cfgkeeper/internal/agent/config"
	"cfgkeeper/internal/types"
	"cfgkeeper/internal/version"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes messages to a topic; *kafka.Writer implements it
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the published message value
type Envelope struct {
	Hostname   string             `json:"hostname"`
	Version    string             `json:"version"`
	ReportedAt time.Time          `json:"reported_at"`
	Report     *types.CycleReport `json:"report"`
}

// Reporter queues reports and publishes them in the background
type Reporter struct {
	config    *config.PublishConfig
	logger    *zap.Logger
	publisher Publisher
	hostname  string
	buffer    chan *types.CycleReport
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewReporter creates a reporter writing to the configured brokers
func NewReporter(cfg *config.PublishConfig, logger *zap.Logger) *Reporter {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return NewReporterWithPublisher(cfg, writer, logger)
}

// NewReporterWithPublisher creates a reporter using publisher
func NewReporterWithPublisher(cfg *config.PublishConfig, publisher Publisher, logger *zap.Logger) *Reporter {
	size := cfg.BufferSize
	if size <= 0 {
		size = 100
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Reporter{
		config:    cfg,
		logger:    logger.Named("reporter"),
		publisher: publisher,
		hostname:  hostname,
		buffer:    make(chan *types.CycleReport, size),
		stopChan:  make(chan struct{}),
	}
}

// Start starts the reporter
func (r *Reporter) Start(ctx context.Context) error {
	r.wg.Add(1)
	go r.processLoop(ctx)
	return nil
}

// Stop flushes queued reports and closes the publisher
func (r *Reporter) Stop() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	return r.publisher.Close()
}

// Report queues a cycle report
func (r *Reporter) Report(report *types.CycleReport) error {
	if report == nil {
		return nil
	}
	select {
	case r.buffer <- report:
		return nil
	default:
		return fmt.Errorf("reporter buffer is full")
	}
}

func (r *Reporter) processLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case <-r.stopChan:
			r.flush()
			return
		case report := <-r.buffer:
			// bounded by the writer's WriteTimeout
			r.publishLogged(context.WithoutCancel(ctx), report)
		}
	}
}

// flush publishes whatever is still buffered
func (r *Reporter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout+time.Second)
	defer cancel()

	for {
		select {
		case report := <-r.buffer:
			r.publishLogged(ctx, report)
		default:
			return
		}
	}
}

func (r *Reporter) publishLogged(ctx context.Context, report *types.CycleReport) {
	if err := r.publish(ctx, report); err != nil {
		r.logger.Error("Failed to publish cycle report",
			zap.String("run_id", report.RunID),
			zap.Error(err))
	}
}

// publish sends one report keyed by its run id
func (r *Reporter) publish(ctx context.Context, report *types.CycleReport) error {
	payload, err := json.Marshal(Envelope{
		Hostname:   r.hostname,
		Version:    version.GetInfo().Version,
		ReportedAt: time.Now(),
		Report:     report,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cycle report: %w", err)
	}

	r.logger.Debug("Publishing cycle report",
		zap.String("run_id", report.RunID),
		zap.String("topic", r.config.Topic))

	return r.publisher.WriteMessages(ctx, kafka.Message{
		Key:   []byte(report.RunID),
		Value: payload,
		Time:  report.FinishedAt,
	})
}
