package notification

import (
	"context"
	"testing"
	"time"

	"pawpool/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishFansOut(t *testing.T) {
	hub := NewHub(logger.NewNop(), 4)
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	hub.Publish(context.Background(), Event{Type: EventDeposit, Amount: decimal.NewFromInt(1000)})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			assert.Equal(t, EventDeposit, e.Type)
			assert.NotZero(t, e.ID)
			assert.False(t, e.OccurredAt.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(logger.NewNop(), 1)
	ch, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(context.Background(), Event{Type: EventRefund})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestHub_CancelAndClose(t *testing.T) {
	hub := NewHub(logger.NewNop(), 1)
	ch, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers())
	_, open := <-ch
	assert.False(t, open)

	other, _ := hub.Subscribe()
	hub.Close()
	_, open = <-other
	assert.False(t, open)

	late, _ := hub.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
