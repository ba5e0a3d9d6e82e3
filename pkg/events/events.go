// Package events exports accepted scans and finished scanner sessions as
// CloudEvents.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/scanrelay/pkg/models"
)

const (
	ScanEventType    = "com.carverauto.scanrelay.scan"
	SessionEventType = "com.carverauto.scanrelay.session"

	scanKind    = "scan"
	sessionKind = "session"
)

var errTopicNotFound = errors.New("pubsub topic not found")

// Publisher is the event export sink. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishScan(ctx context.Context, rec *models.ScanRecord) error
	PublishSession(ctx context.Context, entry *models.SessionHistoryEntry) error
	Close() error
}

func newEvent(source, eventType, subject string, at time.Time, data interface{}) models.CloudEvent {
	return models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          source,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &at,
		Data:            data,
	}
}

func scanEvent(source string, rec *models.ScanRecord) ([]byte, error) {
	event := newEvent(source, ScanEventType, rec.Channel+"/"+rec.ScannerID, rec.ReceivedAt, rec)

	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan event: %w", err)
	}

	return b, nil
}

func sessionEvent(source string, entry *models.SessionHistoryEntry) ([]byte, error) {
	event := newEvent(source, SessionEventType, entry.Channel+"/"+entry.UserID, entry.DisconnectedAt, entry)

	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session event: %w", err)
	}

	return b, nil
}

// subjectToken turns a channel name into a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishScan(context.Context, *models.ScanRecord) error { return nil }

func (Noop) PublishSession(context.Context, *models.SessionHistoryEntry) error { return nil }

func (Noop) Close() error { return nil }
