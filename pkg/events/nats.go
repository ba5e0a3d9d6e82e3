package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/scanrelay/pkg/models"
)

// JetStreamPublisher publishes events to <prefix>.scan.<channel> and
// <prefix>.session.<channel> on a JetStream stream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	source string
}

// NewJetStreamPublisher ensures the events stream exists. The publisher
// owns nc and drains it in Close.
func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, cfg *models.NATSConfig, source string) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create or get stream %s: %w", cfg.Stream, err)
	}

	return &JetStreamPublisher{
		nc:     nc,
		js:     js,
		prefix: cfg.SubjectPrefix,
		source: source,
	}, nil
}

func (p *JetStreamPublisher) subject(kind, channel string) string {
	return p.prefix + "." + kind + "." + subjectToken(channel)
}

func (p *JetStreamPublisher) PublishScan(ctx context.Context, rec *models.ScanRecord) error {
	b, err := scanEvent(p.source, rec)
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(ctx, p.subject(scanKind, rec.Channel), b); err != nil {
		return fmt.Errorf("failed to publish scan event: %w", err)
	}

	return nil
}

func (p *JetStreamPublisher) PublishSession(ctx context.Context, entry *models.SessionHistoryEntry) error {
	b, err := sessionEvent(p.source, entry)
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(ctx, p.subject(sessionKind, entry.Channel), b); err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	return nil
}

func (p *JetStreamPublisher) Close() error {
	return p.nc.Drain()
}
