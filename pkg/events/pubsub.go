package events

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/carverauto/scanrelay/pkg/models"
)

// PubSubPublisher publishes events to a Google Cloud Pub/Sub topic. The
// event type and channel travel as message attributes.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	source string
}

func NewPubSubPublisher(ctx context.Context, cfg *models.PubSubConfig, source string, opts ...option.ClientOption) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)

	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("pubsub topic %s: %w", cfg.TopicID, err)
	}

	if !ok {
		_ = client.Close()

		return nil, fmt.Errorf("%w: %s", errTopicNotFound, cfg.TopicID)
	}

	return &PubSubPublisher{client: client, topic: topic, source: source}, nil
}

func (p *PubSubPublisher) publish(ctx context.Context, data []byte, attrs map[string]string) error {
	_, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)

	return err
}

func (p *PubSubPublisher) PublishScan(ctx context.Context, rec *models.ScanRecord) error {
	b, err := scanEvent(p.source, rec)
	if err != nil {
		return err
	}

	err = p.publish(ctx, b, map[string]string{
		"type":       ScanEventType,
		"channel":    rec.Channel,
		"scanner_id": rec.ScannerID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish scan event: %w", err)
	}

	return nil
}

func (p *PubSubPublisher) PublishSession(ctx context.Context, entry *models.SessionHistoryEntry) error {
	b, err := sessionEvent(p.source, entry)
	if err != nil {
		return err
	}

	err = p.publish(ctx, b, map[string]string{
		"type":       SessionEventType,
		"channel":    entry.Channel,
		"scanner_id": entry.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	return nil
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()

	return p.client.Close()
}
