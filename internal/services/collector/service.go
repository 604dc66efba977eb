package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model"
	"github.com/LeonardoBeccarini/smartmeter_sim/pkg/dedup"
	"github.com/LeonardoBeccarini/smartmeter_sim/pkg/mqttclient"
)

// DefaultQueueSize bounds the inbox between the delivery callback and the worker.
const DefaultQueueSize = 64

// Mirror receives every stored reading. Failures never affect the log.
type Mirror interface {
	Mirror(ctx context.Context, topic string, reading model.Reading) error
}

type Options struct {
	QueueSize int
	Policy    Policy
	// DedupTTL is how long a packet id is remembered; zero uses the default.
	DedupTTL time.Duration
	Mirror   Mirror
}

// Service ingests meter readings from a consumer into the bounded log.
type Service struct {
	consumer mqttclient.IConsumer
	store    *Log
	writer   *FileWriter
	mirror   Mirror
	dedup    *dedup.Deduper
	policy   Policy
	inbox    chan inbound
	log      *slog.Logger
	metrics  *Metrics
}

func NewService(consumer mqttclient.IConsumer, store *Log, writer *FileWriter, opts Options,
	logger *slog.Logger, metrics *Metrics) *Service {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Policy == "" {
		opts.Policy = PolicyResume
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		consumer: consumer,
		store:    store,
		writer:   writer,
		mirror:   opts.Mirror,
		dedup:    dedup.New(opts.DedupTTL, 0),
		policy:   opts.Policy,
		inbox:    make(chan inbound, opts.QueueSize),
		log:      logger.With("component", "collector"),
		metrics:  metrics,
	}
}

func (s *Service) Store() *Log { return s.store }

func (s *Service) Writer() *FileWriter { return s.writer }

func (s *Service) Policy() Policy { return s.policy }

// Restore applies the persistence policy to the log file and the in-memory
// log. It leaves a valid JSON array on disk.
func (s *Service) Restore() error {
	switch s.policy {
	case PolicyReset:
		s.store.Seed(nil)
	case PolicyResume:
		prior, dropped, err := s.writer.Load()
		if errors.Is(err, ErrCorruptLog) {
			s.log.Warn("discarding unreadable log file", "path", s.writer.Path(), "err", err)
			prior = nil
		} else if err != nil {
			return err
		}
		if dropped > 0 {
			s.log.Warn("discarding invalid entries from log file", "path", s.writer.Path(), "dropped", dropped)
		}
		s.store.Seed(prior)
		if len(prior) > 0 {
			s.log.Info("resumed log", "path", s.writer.Path(), "loaded", len(prior), "kept", s.store.Len())
		}
	default:
		return fmt.Errorf("collector: unknown persistence policy %q", s.policy)
	}

	snapshot := s.store.Snapshot()
	s.metrics.entries.Set(float64(len(snapshot)))
	if err := s.writer.Flush(snapshot); err != nil {
		return fmt.Errorf("initialize log: %w", err)
	}
	return nil
}

// Start restores the log, then consumes until ctx is cancelled. Readings
// already queued when ctx is cancelled are still ingested before it returns.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Restore(); err != nil {
		return err
	}

	// queued readings were already acknowledged to the broker; they are
	// ingested even after ctx is cancelled
	workCtx := context.WithoutCancel(ctx)
	draining := make(chan struct{})
	s.consumer.SetHandler(s.enqueue(draining))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.work(workCtx, draining)
	}()

	err := s.consumer.ConsumeMessage(ctx)
	close(draining)
	wg.Wait()
	return err
}

func (s *Service) work(ctx context.Context, draining <-chan struct{}) {
	for {
		select {
		case m := <-s.inbox:
			// errors are already logged and counted
			_ = s.HandleMessage(ctx, m.topic, m.payload)
		case <-draining:
			s.drain(ctx)
			return
		}
	}
}

// drain ingests whatever is left in the inbox.
func (s *Service) drain(ctx context.Context) {
	n := 0
	for {
		select {
		case m := <-s.inbox:
			_ = s.HandleMessage(ctx, m.topic, m.payload)
			n++
		default:
			if n > 0 {
				s.log.Info("drained inbox on shutdown", "readings", n)
			}
			return
		}
	}
}
