package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "topic-a", msgs[0].Topic)
	assert.JSONEq(t, `{"k":"v"}`, string(msgs[0].Data))

	msgs[0].Topic = "modified"
	assert.Equal(t, "topic-a", pub.Messages()[0].Topic)
}

func TestPublisherEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	finished := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := pub.Publish(context.Background(), "done", audit.CompletionEvent{
		RunID: "run-1", Kind: audit.KindAudit, Status: audit.StatusReady, FinishedAt: finished,
	})
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "other", audit.CompletionEvent{RunID: "run-2"})
	require.NoError(t, err)

	events, err := pub.Events("done")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, audit.StatusReady, events[0].Status)
	assert.True(t, finished.Equal(events[0].FinishedAt))
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
	assert.Empty(t, New().Messages())
}
