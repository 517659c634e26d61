package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/pkg/broker"
)

var errMissingTaskID = errors.New("decode verdict: missing taskId")

// Delivery is a verdict addressed to a review task.
type Delivery struct {
	TaskID  uuid.UUID `json:"taskId"`
	Verdict Verdict   `json:"verdict"`
}

// Handler processes one delivered verdict.
type Handler func(ctx context.Context, d Delivery) error

// Queue hands tasks to reviewers and delivers their verdicts back.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Pending returns up to limit queued tasks without removing them.
	Pending(ctx context.Context, limit int) ([]Task, error)
	// Ack removes a task from the pending queue once it is resolved.
	Ack(ctx context.Context, taskID uuid.UUID) error
	Publish(ctx context.Context, taskID uuid.UUID, v Verdict) error
	// Subscribe calls h for every published verdict until ctx is done.
	Subscribe(ctx context.Context, h Handler) error
}

// redisQueue keeps task ids in FIFO order on a list, task bodies in a hash,
// and fans verdicts out over a channel.
type redisQueue struct {
	broker   broker.System
	tasks    string
	payloads string
	verdicts string
	logger   *slog.Logger
}

// NewRedisQueue creates a Queue on the broker's Redis.
func NewRedisQueue(b broker.System, logger *slog.Logger) Queue {
	return &redisQueue{
		broker:   b,
		tasks:    b.Key("review", "tasks"),
		payloads: b.Key("review", "payloads"),
		verdicts: b.Key("review", "verdicts"),
		logger:   logger.With("system", "review-queue"),
	}
}

func (q *redisQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	id := task.ID.String()
	pipe := q.broker.Client().TxPipeline()
	pipe.LRem(ctx, q.tasks, 0, id)
	pipe.RPush(ctx, q.tasks, id)
	pipe.HSet(ctx, q.payloads, id, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}

	q.logger.Info("task enqueued", "task_id", task.ID, "run_id", task.RunID)
	return nil
}

func (q *redisQueue) Pending(ctx context.Context, limit int) ([]Task, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	client := q.broker.Client()
	ids, err := client.LRange(ctx, q.tasks, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending tasks: %w", err)
	}
	if len(ids) == 0 {
		return []Task{}, nil
	}

	bodies, err := client.HMGet(ctx, q.payloads, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read task payloads: %w", err)
	}

	tasks := make([]Task, 0, len(bodies))
	for i, body := range bodies {
		s, ok := body.(string)
		if !ok {
			q.logger.Warn("pending task has no payload", "task_id", ids[i])
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			q.logger.Warn("skipping malformed task", "task_id", ids[i], "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (q *redisQueue) Ack(ctx context.Context, taskID uuid.UUID) error {
	id := taskID.String()
	pipe := q.broker.Client().TxPipeline()
	pipe.LRem(ctx, q.tasks, 0, id)
	pipe.HDel(ctx, q.payloads, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	return nil
}

func (q *redisQueue) Publish(ctx context.Context, taskID uuid.UUID, v Verdict) error {
	data, err := encodeDelivery(taskID, v)
	if err != nil {
		return err
	}
	if err := q.broker.Client().Publish(ctx, q.verdicts, data).Err(); err != nil {
		return fmt.Errorf("publish verdict: %w", err)
	}
	return nil
}

func (q *redisQueue) Subscribe(ctx context.Context, h Handler) error {
	sub := q.broker.Client().Subscribe(ctx, q.verdicts)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", q.verdicts, err)
	}
	q.logger.Info("listening for verdicts", "channel", q.verdicts)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			d, err := decodeDelivery([]byte(msg.Payload))
			if err != nil {
				q.logger.Warn("dropping malformed verdict", "error", err)
				continue
			}
			if err := h(ctx, d); err != nil {
				q.logger.Error("verdict handler failed", "task_id", d.TaskID, "error", err)
			}
		}
	}
}

func encodeDelivery(taskID uuid.UUID, v Verdict) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(Delivery{TaskID: taskID, Verdict: v})
	if err != nil {
		return nil, fmt.Errorf("encode verdict: %w", err)
	}
	return data, nil
}

func decodeDelivery(data []byte) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("decode verdict: %w", err)
	}
	if d.TaskID == uuid.Nil {
		return d, errMissingTaskID
	}
	return d, d.Verdict.Validate()
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []Task
	subs    []chan Delivery
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = slices.DeleteFunc(q.pending, func(t Task) bool { return t.ID == task.ID })
	q.pending = append(q.pending, task)
	return nil
}

func (q *MemoryQueue) Pending(ctx context.Context, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Task, n)
	copy(out, q.pending)
	return out, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, taskID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = slices.DeleteFunc(q.pending, func(t Task) bool { return t.ID == taskID })
	return nil
}

func (q *MemoryQueue) Publish(ctx context.Context, taskID uuid.UUID, v Verdict) error {
	if err := v.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	subs := append([]chan Delivery(nil), q.subs...)
	q.mu.Unlock()

	d := Delivery{TaskID: taskID, Verdict: v}
	for _, ch := range subs {
		select {
		case ch <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (q *MemoryQueue) Subscribe(ctx context.Context, h Handler) error {
	ch := make(chan Delivery, 16)

	q.mu.Lock()
	q.subs = append(q.subs, ch)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		for i, c := range q.subs {
			if c == ch {
				q.subs = append(q.subs[:i], q.subs[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-ch:
			_ = h(ctx, d)
		}
	}
}
