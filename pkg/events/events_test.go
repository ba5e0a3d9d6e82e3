package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/natsutil/natstest"
)

func testRecord() *models.ScanRecord {
	num := int64(7)

	return &models.ScanRecord{
		Time:       "2025-01-02T03:04:05Z",
		ReceivedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Channel:    "dock 1",
		ScannerID:  "dev-1",
		UserID:     "dev-1",
		IP:         "10.0.0.5",
		Data:       "ABC123",
		Num:        &num,
	}
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "ops", subjectToken("ops"))
	assert.Equal(t, "dock_1_a_b", subjectToken("dock 1.a*b"))
	assert.Equal(t, "_", subjectToken(""))
}

func TestJetStreamPublisher(t *testing.T) {
	srv := natstest.RunServer(t)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := &models.NATSConfig{Stream: "SCANRELAY_TEST", SubjectPrefix: "scanrelay.events"}

	pub, err := NewJetStreamPublisher(ctx, nc, cfg, "scanrelay-test")
	require.NoError(t, err)

	defer func() { _ = pub.Close() }()

	require.NoError(t, pub.PublishScan(ctx, testRecord()))
	require.NoError(t, pub.PublishSession(ctx, &models.SessionHistoryEntry{
		Channel:        "dock 1",
		UserID:         "dev-1",
		DisconnectedAt: time.Now(),
		Scans:          3,
	}))

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	stream, err := js.Stream(ctx, cfg.Stream)
	require.NoError(t, err)

	scan, err := stream.GetLastMsgForSubject(ctx, "scanrelay.events.scan.dock_1")
	require.NoError(t, err)

	var event models.CloudEvent
	require.NoError(t, json.Unmarshal(scan.Data, &event))
	assert.Equal(t, ScanEventType, event.Type)
	assert.Equal(t, "scanrelay-test", event.Source)
	assert.Equal(t, "dock 1/dev-1", event.Subject)

	data, ok := event.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ABC123", data["data"])
	assert.InDelta(t, 7, data["num"], 0)

	session, err := stream.GetLastMsgForSubject(ctx, "scanrelay.events.session.dock_1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(session.Data, &event))
	assert.Equal(t, SessionEventType, event.Type)
}

func TestPubSubPublisher(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	defer conn.Close()

	admin, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = admin.CreateTopic(ctx, "scans")
	require.NoError(t, err)

	t.Run("publishes_with_attributes", func(t *testing.T) {
		pub, err := NewPubSubPublisher(ctx, &models.PubSubConfig{ProjectID: "test-project", TopicID: "scans"},
			"scanrelay-test", option.WithGRPCConn(conn))
		require.NoError(t, err)

		defer pub.topic.Stop()

		require.NoError(t, pub.PublishScan(ctx, testRecord()))

		msgs := srv.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, ScanEventType, msgs[0].Attributes["type"])
		assert.Equal(t, "dock 1", msgs[0].Attributes["channel"])
		assert.Equal(t, "dev-1", msgs[0].Attributes["scanner_id"])

		var event models.CloudEvent
		require.NoError(t, json.Unmarshal(msgs[0].Data, &event))
		assert.Equal(t, "1.0", event.SpecVersion)
		assert.NotEmpty(t, event.ID)
	})

	t.Run("missing_topic", func(t *testing.T) {
		_, err := NewPubSubPublisher(ctx, &models.PubSubConfig{ProjectID: "test-project", TopicID: "nope"},
			"scanrelay-test", option.WithGRPCConn(conn))
		require.ErrorIs(t, err, errTopicNotFound)
	})
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}

	require.NoError(t, p.PublishScan(context.Background(), testRecord()))
	require.NoError(t, p.PublishSession(context.Background(), &models.SessionHistoryEntry{}))
	require.NoError(t, p.Close())
}
