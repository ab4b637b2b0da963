package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishFansOutToSubscribers(t *testing.T) {
	b := New()
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	var got atomic.Int32
	wg.Add(2)
	for i := 0; i < 2; i++ {
		b.Subscribe(EventTypeStateCommitted, func(e Event) {
			defer wg.Done()
			assert.Equal(t, 42, e.Data)
			got.Add(1)
		})
	}
	b.Subscribe(EventTypeConfigChanged, func(Event) {
		t.Error("unexpected config_changed delivery")
	})

	b.Publish(Event{Type: EventTypeStateCommitted, Data: 42})
	wg.Wait()
	assert.Equal(t, int32(2), got.Load())
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	b := NewWithConfig(1, 1)

	release := make(chan struct{})
	var handled atomic.Int32
	b.Subscribe(EventTypeStateCommitted, func(Event) {
		<-release
		handled.Add(1)
	})

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: EventTypeStateCommitted})
	}
	close(release)
	b.Close(context.Background())

	// One in the worker, one in the queue.
	assert.LessOrEqual(t, handled.Load(), int32(2))
	assert.GreaterOrEqual(t, handled.Load(), int32(1))
}

func TestHandlerPanicRecovered(t *testing.T) {
	b := NewWithConfig(1, 4)
	done := make(chan struct{})
	b.Subscribe(EventTypeConfigChanged, func(e Event) {
		if e.Data == "boom" {
			panic("boom")
		}
		close(done)
	})

	b.Publish(Event{Type: EventTypeConfigChanged, Data: "boom"})
	b.Publish(Event{Type: EventTypeConfigChanged, Data: "ok"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive handler panic")
	}
	b.Close(context.Background())
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := New()
	b.Subscribe(EventTypeStateCommitted, func(Event) { t.Error("delivered after close") })
	b.Close(context.Background())
	b.Close(context.Background())

	require.NotPanics(t, func() { b.Publish(Event{Type: EventTypeStateCommitted}) })
}
