package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/paylifecycle/pkg/config"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	"github.com/angelmondragon/paylifecycle/pkg/enums"
	"github.com/angelmondragon/paylifecycle/pkg/outbox"
	"github.com/angelmondragon/paylifecycle/pkg/outbox/payloads"
)

// EventDescriptor routes one event type: where it is published and which
// payload struct its data decodes into.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	// Ordered events carry the aggregate id as Pub/Sub ordering key.
	Ordered    bool
	newPayload func() any
}

// ResolvedEvent is a decoded outbox row ready for publishing.
type ResolvedEvent struct {
	Descriptor  EventDescriptor
	Envelope    outbox.PayloadEnvelope
	Payload     any
	AggregateID uuid.UUID
}

// OrderingKey is empty for unordered descriptors.
func (r *ResolvedEvent) OrderingKey() string {
	if r == nil || !r.Descriptor.Ordered || r.AggregateID == uuid.Nil {
		return ""
	}
	return r.AggregateID.String()
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks rows that will never publish no matter how often
// they are retried.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// NewEventRegistry routes status changes to the intents topic and approvals
// to the approvals topic, which defaults to the intents topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.IntentsTopic == "" {
		return nil, errors.New("intents topic is required")
	}

	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	descriptors := []EventDescriptor{
		{
			EventType:     enums.EventPaymentIntentStatusChanged,
			AggregateType: enums.AggregatePaymentIntent,
			Topic:         cfg.IntentsTopic,
			Ordered:       cfg.Ordered,
			newPayload:    func() any { return &payloads.PaymentIntentStatusChangedEvent{} },
		},
		{
			EventType:     enums.EventPaymentIntentApproved,
			AggregateType: enums.AggregatePaymentIntent,
			Topic:         cfg.ApprovalsTopicOrDefault(),
			Ordered:       cfg.Ordered,
			newPayload:    func() any { return &payloads.PaymentIntentApprovedEvent{} },
		},
	}
	for _, desc := range descriptors {
		if err := reg.register(desc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) error {
	if !desc.EventType.IsValid() {
		return fmt.Errorf("register %q: unknown event type", desc.EventType)
	}
	if desc.newPayload == nil {
		return fmt.Errorf("register %s: payload factory missing", desc.EventType)
	}
	if _, dup := r.entries[desc.EventType]; dup {
		return fmt.Errorf("register %s: already registered", desc.EventType)
	}
	r.entries[desc.EventType] = desc
	return nil
}

// Topics lists every topic some descriptor publishes to, sorted.
func (r *EventRegistry) Topics() []string {
	var topics []string
	for _, desc := range r.entries {
		if !slices.Contains(topics, desc.Topic) {
			topics = append(topics, desc.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve validates the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the row itself is malformed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", event.EventType)
	}

	payload := desc.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}

	return &ResolvedEvent{
		Descriptor:  desc,
		Envelope:    envelope,
		Payload:     payload,
		AggregateID: event.AggregateID,
	}, nil
}
