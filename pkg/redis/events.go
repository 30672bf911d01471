package redis

import (
	"context"
	"fmt"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/model"
)

// Stream and channel naming for the live event feed. Every committed
// journal event lands on the firehose stream and on a per-challenge
// stream, so dashboards can tail one challenge without filtering.
const (
	EventFirehoseStream = "challenges:events"
	EventChannel        = "challenges.events"
)

// ChallengeStream returns the per-challenge stream name.
func ChallengeStream(challengeID string) string {
	return fmt.Sprintf("challenge:%s", challengeID)
}

// EventPublisher fans committed journal events out to Redis. It is
// best-effort: the event is already durable in the ledger before it gets
// here, so failures only degrade liveness of the feed.
type EventPublisher struct {
	client *Client
	logger *zap.Logger
}

func NewEventPublisher(client *Client, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{client: client, logger: logger}
}

func (p *EventPublisher) PublishEvent(ctx context.Context, ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("Failed to marshal event for Redis", zap.Uint64("seq", ev.Seq), zap.Error(err))
		return
	}

	values := map[string]interface{}{
		"seq":  ev.Seq,
		"kind": string(ev.Kind),
		"data": string(data),
	}
	if ev.ChallengeID != "" {
		values["challengeId"] = ev.ChallengeID
	}

	p.client.XAdd(ctx, EventFirehoseStream, values)
	if ev.ChallengeID != "" {
		p.client.XAdd(ctx, ChallengeStream(ev.ChallengeID), values)
	}
	p.client.Publish(ctx, EventChannel, string(data))
}

// GetData is a helper to extract the "data" field from a message.
// Returns nil if not found.
func (m *Message) GetData() []byte {
	if data, ok := m.Values["data"].(string); ok {
		return []byte(data)
	}
	if data, ok := m.Values["data"].([]byte); ok {
		return data
	}
	return nil
}

// GetChallengeID is a helper to extract the challenge ID from a message.
// Returns "" for platform-level events like role grants.
func (m *Message) GetChallengeID() string {
	if id, ok := m.Values["challengeId"].(string); ok {
		return id
	}
	return ""
}

// GetSeq is a helper to extract the journal sequence from a message.
// Returns 0 if not found or not parseable.
func (m *Message) GetSeq() uint64 {
	val, ok := m.Values["seq"]
	if !ok {
		return 0
	}
	return parseUint64(val)
}

// DecodeEvent unmarshals the embedded journal event.
func (m *Message) DecodeEvent() (model.Event, error) {
	data := m.GetData()
	if data == nil {
		return model.Event{}, fmt.Errorf("stream message %s has no data field", m.ID)
	}
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Event{}, fmt.Errorf("decode stream message %s: %w", m.ID, err)
	}
	return ev, nil
}

// parseUint64 converts various types to uint64.
func parseUint64(v interface{}) uint64 {
	switch val := v.(type) {
	case uint64:
		return val
	case int64:
		return uint64(val)
	case float64:
		return uint64(val)
	case int:
		return uint64(val)
	case string:
		// Redis returns numbers as strings
		var result uint64
		for _, c := range val {
			if c >= '0' && c <= '9' {
				result = result*10 + uint64(c-'0')
			}
		}
		return result
	}
	return 0
}
