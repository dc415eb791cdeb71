package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu   sync.Mutex
	seen []string
	done chan struct{}
	fail bool
}

func (p *recordingProcessor) Process(_ context.Context, task TitleTask) error {
	p.mu.Lock()
	p.seen = append(p.seen, task.ConversationID)
	p.mu.Unlock()
	p.done <- struct{}{}
	if p.fail {
		return errors.New("boom")
	}
	return nil
}

func TestMemoryQueue_Delivers(t *testing.T) {
	q := NewMemoryQueue(4)
	p := &recordingProcessor{done: make(chan struct{}, 4), fail: true}
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx, 2, p)

	require.NoError(t, q.Enqueue(ctx, TitleTask{ConversationID: "c1"}))
	require.NoError(t, q.Enqueue(ctx, TitleTask{ConversationID: "c2"}))

	for i := 0; i < 2; i++ {
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			t.Fatal("task not delivered")
		}
	}
	cancel()
	q.Wait()

	assert.ElementsMatch(t, []string{"c1", "c2"}, p.seen)
}

func TestMemoryQueue_Full(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), TitleTask{ConversationID: "c1"}))
	assert.ErrorIs(t, q.Enqueue(context.Background(), TitleTask{ConversationID: "c2"}), ErrQueueFull)
}

func TestClaimers_AtMostOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	claimers := map[string]Claimer{
		"memory": NewMemoryClaimer(),
		"redis":  NewRedisClaimer(rdb, "title:claimed:", time.Hour),
	}
	for name, c := range claimers {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := c.Claim(context.Background(), "conv-1")
					if err == nil && ok {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)

			ok, err := c.Claim(context.Background(), "conv-2")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}
