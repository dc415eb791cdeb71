package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"docqa-go/pkg/log"
)

// ErrQueueFull is returned when the in-process buffer has no room.
var ErrQueueFull = errors.New("task queue is full")

// MemoryQueue delivers tasks to a fixed pool of in-process workers.
// Tasks are dropped when the buffer is full or the process exits.
type MemoryQueue struct {
	ch chan TitleTask
	wg sync.WaitGroup
}

// NewMemoryQueue creates a queue with the given buffer size.
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan TitleTask, size)}
}

// Enqueue never blocks.
func (q *MemoryQueue) Enqueue(_ context.Context, task TitleTask) error {
	select {
	case q.ch <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs workers until ctx is cancelled.
func (q *MemoryQueue) Start(ctx context.Context, workers int, p Processor) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-q.ch:
					runTask(ctx, p, task)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}

func runTask(ctx context.Context, p Processor, task TitleTask) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[TitleWorker] panic while processing conversation %s: %v", task.ConversationID, r)
		}
	}()
	taskCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := p.Process(taskCtx, task); err != nil {
		log.Errorf("[TitleWorker] 处理标题任务失败: conversation=%s, err=%v", task.ConversationID, err)
	}
}

// MemoryClaimer remembers claimed ids for the lifetime of the process.
type MemoryClaimer struct {
	claimed sync.Map
}

func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{}
}

func (c *MemoryClaimer) Claim(_ context.Context, id string) (bool, error) {
	_, loaded := c.claimed.LoadOrStore(id, struct{}{})
	return !loaded, nil
}
