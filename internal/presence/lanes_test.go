package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanesPreserveOrderPerKey(t *testing.T) {
	l := NewLanes()
	key := uuid.New()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Submit(key, func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	l.mu.Lock()
	assert.Empty(t, l.lanes, "drained lanes are reclaimed")
	l.mu.Unlock()
}

func TestLanesRunKeysConcurrently(t *testing.T) {
	l := NewLanes()
	release := make(chan struct{})
	blocked := l.Submit(uuid.New(), func() { <-release })

	done := l.Submit(uuid.New(), func() {})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second key blocked behind first")
	}
	close(release)
	<-blocked
	l.Wait()
}

func TestLanesDoStopsWaitingOnCancel(t *testing.T) {
	l := NewLanes()
	key := uuid.New()
	release := make(chan struct{})
	ran := make(chan struct{})
	l.Submit(key, func() { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Do(ctx, key, func() { close(ran) })
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run after caller gave up")
	}
	l.Wait()
}

func TestLanesRecoverPanics(t *testing.T) {
	l := NewLanes()
	key := uuid.New()
	var recovered any
	l.OnPanic = func(_ uuid.UUID, v any) { recovered = v }

	require.NoError(t, l.Do(context.Background(), key, func() { panic("boom") }))
	ran := false
	require.NoError(t, l.Do(context.Background(), key, func() { ran = true }))

	assert.Equal(t, "boom", recovered)
	assert.True(t, ran)
}
