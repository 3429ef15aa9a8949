package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPersistsPublishedEvents(t *testing.T) {
	store := NewInMemoryStore()
	inbox := make(chan Event, 8)
	worker := NewWorker(store, inbox, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	publisher := NewPublisher(inbox, nil)
	consentID := uuid.New()
	publisher.Publish(Event{ConsentID: consentID, Action: ActionCreated, Actor: "tpp-1"})
	publisher.Publish(Event{ConsentID: consentID, Action: ActionRevoked, Actor: "tpp-1"})

	require.Eventually(t, func() bool {
		return len(store.Events()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	events := store.Events()
	assert.Equal(t, ActionCreated, events[0].Action)
	assert.Equal(t, ActionRevoked, events[1].Action)
	assert.False(t, events[0].OccurredAt.IsZero(), "publisher stamps OccurredAt")
}

func TestWorkerDrainsBufferedEventsOnShutdown(t *testing.T) {
	store := NewInMemoryStore()
	inbox := make(chan Event, 8)
	worker := NewWorker(store, inbox, slog.New(slog.NewTextHandler(io.Discard, nil)))

	publisher := NewPublisher(inbox, nil)
	for i := 0; i < 5; i++ {
		publisher.Publish(Event{ConsentID: uuid.New(), Action: ActionCreated, Actor: "tpp-1"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := worker.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, store.Events(), 5, "buffered events are flushed before exit")
}

func TestPublisherDropsWhenBufferFull(t *testing.T) {
	inbox := make(chan Event, 1)
	publisher := NewPublisher(inbox, nil)

	publisher.Publish(Event{Action: ActionCreated})
	publisher.Publish(Event{Action: ActionCreated}) // buffer full, dropped silently

	assert.Len(t, inbox, 1)
}

func TestSummarizeUserAgent(t *testing.T) {
	summary := SummarizeUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Contains(t, summary, "Chrome")
	assert.Contains(t, summary, "Windows")

	assert.Empty(t, SummarizeUserAgent(""))
}
