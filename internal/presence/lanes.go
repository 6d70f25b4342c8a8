package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Lanes runs tasks for the same key strictly in submission order, one at a time.
// Tasks for different keys run concurrently. A lane's goroutine exits once its queue is empty.
type Lanes struct {
	mu    sync.Mutex
	lanes map[uuid.UUID]*lane
	wg    sync.WaitGroup
	// OnPanic is called with the recovered value when a task panics. The lane keeps running.
	OnPanic func(key uuid.UUID, v any)
}

type lane struct {
	queue []func()
}

// NewLanes creates an empty lane set.
func NewLanes() *Lanes {
	return &Lanes{lanes: make(map[uuid.UUID]*lane)}
}

// Submit queues fn on key's lane and returns a channel closed after fn has run.
func (l *Lanes) Submit(key uuid.UUID, fn func()) <-chan struct{} {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		defer func() {
			if v := recover(); v != nil && l.OnPanic != nil {
				l.OnPanic(key, v)
			}
		}()
		fn()
	}

	l.mu.Lock()
	ln, running := l.lanes[key]
	if !running {
		ln = &lane{}
		l.lanes[key] = ln
	}
	ln.queue = append(ln.queue, task)
	if !running {
		l.wg.Add(1)
		go l.drain(key, ln)
	}
	l.mu.Unlock()
	return done
}

// Do submits fn and waits for it. If ctx ends first fn still runs; Do just stops waiting.
func (l *Lanes) Do(ctx context.Context, key uuid.UUID, fn func()) error {
	done := l.Submit(key, fn)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lane %s: %w", key, ctx.Err())
	}
}

// Wait blocks until every lane has drained.
func (l *Lanes) Wait() {
	l.wg.Wait()
}

func (l *Lanes) drain(key uuid.UUID, ln *lane) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		if len(ln.queue) == 0 {
			delete(l.lanes, key)
			l.mu.Unlock()
			return
		}
		task := ln.queue[0]
		ln.queue[0] = nil
		ln.queue = ln.queue[1:]
		l.mu.Unlock()
		task()
	}
}
