package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisher_PublishesEventWithAttributes(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "runs-done")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Close()

	event := audit.CompletionEvent{
		RunID:      "run-1",
		Kind:       audit.KindCrawl,
		Status:     audit.StatusFailed,
		URL:        "https://example.com",
		Error:      "http status 404 Not Found",
		FinishedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	id, err := pub.Publish(ctx, "runs-done", event)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "run-1", msgs[0].Attributes["run_id"])
	assert.Equal(t, "crawl", msgs[0].Attributes["kind"])
	assert.Equal(t, "failed", msgs[0].Attributes["status"])

	var got audit.CompletionEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, event.Error, got.Error)
}

func TestPublisher_UnknownTopicFails(t *testing.T) {
	client, _ := newTestClient(t)
	pub := New(client)
	defer pub.Close()

	_, err := pub.Publish(context.Background(), "missing", map[string]string{"a": "b"})
	require.Error(t, err)
}

func TestPublisher_NotConfigured(t *testing.T) {
	_, err := New(nil).Publish(context.Background(), "t", "x")
	require.Error(t, err)
}
