//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/internal/audit"
	"custodia/pkg/testutil/containers"
)

const testTopic = "custodia.audit.events"

func TestKafkaSinkPublishesEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rp := containers.NewRedpandaContainer(t)
	rp.CreateTopic(t, testTopic)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink, err := audit.NewKafkaSink(rp.Brokers, testTopic, logger)
	require.NoError(t, err)
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	want := audit.Event{
		Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
		ActorID:       "steward-1",
		Action:        audit.ActionBatchApproved,
		ResourceType:  audit.ResourceApplication,
		ResourceID:    "app-1",
		ApproverGroup: "ADMIN-GROUP",
		Details:       map[string]any{"transitioned": float64(3)},
	}
	require.NoError(t, sink.Append(ctx, want))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics(testTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	var got audit.Event
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	require.Equal(t, want.Action, got.Action)
	require.Equal(t, want.ResourceID, got.ResourceID)
	require.Equal(t, want.Details, got.Details)
	require.Equal(t, "application:app-1", string(records[0].Key))
}
