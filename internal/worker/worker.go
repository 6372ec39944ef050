// Package worker drains queued conversation turns into storage.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/metrics"
	"relaychat/internal/queue"
	"relaychat/internal/storage"
)

type TurnSink interface {
	AppendTurn(ctx context.Context, t storage.Turn) (storage.Turn, error)
}

type Worker struct {
	sink          TurnSink
	queue         *queue.StreamQueue
	batchSize     int64
	maxJobRetries int
	readBackoff   time.Duration
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type Config struct {
	Sink          TurnSink
	Queue         *queue.StreamQueue
	BatchSize     int64
	MaxJobRetries int
	ReadBackoff   time.Duration
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 16
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = time.Second
	}
	return &Worker{
		sink:          cfg.Sink,
		queue:         cfg.Queue,
		batchSize:     cfg.BatchSize,
		maxJobRetries: cfg.MaxJobRetries,
		readBackoff:   cfg.ReadBackoff,
		logger:        cfg.Logger,
		metrics:       m,
	}
}

// Start runs concurrency consumers until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	w.logger.Info().
		Str("consumer", w.queue.Consumer()).
		Int("concurrency", concurrency).
		Msg("turn worker started")

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		if _, err := w.drainOnce(ctx, log); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.readBackoff):
			}
		}
	}
}

// drainOnce reads one batch and writes each turn. A failed write is
// re-enqueued with its attempt counter bumped until maxJobRetries is spent,
// after which the turn is dropped.
func (w *Worker) drainOnce(ctx context.Context, log zerolog.Logger) (int, error) {
	messages, err := w.queue.Read(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		_, err := w.sink.AppendTurn(ctx, msg.Job.Turn)
		if err == nil {
			w.metrics.ProcessedJobs.Inc()
			if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
			}
			continue
		}

		w.metrics.FailedJobs.Inc()
		log.Error().Err(err).Str("job_id", msg.Job.JobID).Int("attempt", msg.Job.Attempts).Msg("turn write failed")

		if msg.Job.Attempts < w.maxJobRetries {
			msg.Job.Attempts++
			if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
				log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue failed job")
				continue
			}
			if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after re-enqueue")
			}
			continue
		}

		log.Warn().Str("job_id", msg.Job.JobID).Str("session_id", msg.Job.Turn.SessionID).Msg("dropping turn after retries")
		if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack terminal failed message")
		}
	}
	return len(messages), nil
}
