package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"relaychat/internal/storage"
)

// TurnJob is one conversation turn waiting to be written to storage.
type TurnJob struct {
	JobID      string       `json:"job_id"`
	Turn       storage.Turn `json:"turn"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	Attempts   int          `json:"attempts"`
}

type StreamQueue struct {
	redis    *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

type Message struct {
	ID  string
	Job TurnJob
}

func NewStreamQueue(rdb *redis.Client, stream, group, consumer string, block time.Duration) *StreamQueue {
	return &StreamQueue{
		redis:    rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    block,
	}
}

func (q *StreamQueue) EnsureGroup(ctx context.Context) error {
	if q == nil {
		return fmt.Errorf("queue is nil")
	}
	// "0" so turns enqueued before the first worker started are not skipped.
	err := q.redis.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create stream group: %w", err)
	}
	return nil
}

func (q *StreamQueue) Enqueue(ctx context.Context, job TurnJob) (string, error) {
	if strings.TrimSpace(job.JobID) == "" {
		job.JobID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	id, err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

// Read fetches up to count new messages for this consumer. Entries whose
// payload cannot be decoded are acked and dropped.
func (q *StreamQueue) Read(ctx context.Context, count int64) ([]Message, error) {
	res, err := q.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    q.block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	out := make([]Message, 0)
	for _, s := range res {
		for _, m := range s.Messages {
			job, ok := decodeJob(m.Values["payload"])
			if !ok {
				_ = q.Ack(ctx, m.ID)
				continue
			}
			out = append(out, Message{ID: m.ID, Job: job})
		}
	}

	return out, nil
}

func decodeJob(raw any) (TurnJob, bool) {
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return TurnJob{}, false
	}
	var job TurnJob
	if err := json.Unmarshal(b, &job); err != nil {
		return TurnJob{}, false
	}
	return job, true
}

func (q *StreamQueue) Ack(ctx context.Context, messageID string) error {
	if err := q.redis.XAck(ctx, q.stream, q.group, messageID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.redis.XDel(ctx, q.stream, messageID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.redis.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen: %w", err)
	}
	return n, nil
}

func (q *StreamQueue) Consumer() string {
	return q.consumer
}
