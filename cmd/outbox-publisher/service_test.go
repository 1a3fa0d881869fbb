package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/config"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	"github.com/angelmondragon/paylifecycle/pkg/enums"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/outbox"
	"github.com/angelmondragon/paylifecycle/pkg/outbox/payloads"
	"github.com/angelmondragon/paylifecycle/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			{
				ID:            uuid.New(),
				EventType:     enums.EventPaymentIntentStatusChanged,
				AggregateType: enums.AggregatePaymentIntent,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-one"),
			},
			{
				ID:            uuid.New(),
				EventType:     enums.EventPaymentIntentStatusChanged,
				AggregateType: enums.AggregatePaymentIntent,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-two"),
			},
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "payment-intent-events",
			AggregateType: enums.AggregatePaymentIntent,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.PaymentIntentStatusChangedEvent{},
	}
	eventRegistry := &fakeRegistry{resolved: resolved}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, eventRegistry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestOrderedPublishResumesKeyAfterFailure(t *testing.T) {
	intentID := uuid.New()
	repo := &fakeRepo{events: []models.OutboxEvent{{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentIntentStatusChanged,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intentID,
		Payload:       mustEnvelopePayload(t, "ordered"),
	}}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("unavailable")}}}
	resolved := &registry.ResolvedEvent{
		Descriptor:  registry.EventDescriptor{Topic: "payment-intent-events", Ordered: true},
		Payload:     &payloads.PaymentIntentStatusChangedEvent{},
		AggregateID: intentID,
	}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.messages) != 1 || pub.messages[0].OrderingKey != intentID.String() {
		t.Fatalf("expected ordering key %s, got %+v", intentID, pub.messages)
	}
	if len(pub.resumed) != 1 || pub.resumed[0] != intentID.String() {
		t.Fatalf("expected key resumed after failure, got %v", pub.resumed)
	}
	if len(repo.failed) != 1 {
		t.Fatalf("expected the row marked failed, got %d", len(repo.failed))
	}
}

func TestPublishersAreReusedPerTopic(t *testing.T) {
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{},
			fakePublishResult{},
		},
	}
	events := []models.OutboxEvent{
		{
			ID:            uuid.New(),
			EventType:     enums.EventPaymentIntentStatusChanged,
			AggregateType: enums.AggregatePaymentIntent,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelopePayload(t, "changed"),
		},
		{
			ID:            uuid.New(),
			EventType:     enums.EventPaymentIntentApproved,
			AggregateType: enums.AggregatePaymentIntent,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelopePayload(t, "approved"),
		},
	}
	repo := &fakeRepo{events: events}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "payment-intent-events"},
		Payload:    &payloads.PaymentIntentApprovedEvent{},
	}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	created := 0
	service.publisherFactory = func(topic string) publisher {
		if topic != "payment-intent-events" {
			t.Fatalf("unexpected topic %q", topic)
		}
		created++
		return pub
	}

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if created != 1 {
		t.Fatalf("expected one publisher for the topic, created %d", created)
	}
	if len(repo.published) != 2 {
		t.Fatalf("expected both rows published, got %d", len(repo.published))
	}
	if len(pub.messages) != 2 || pub.messages[0].Attributes["event_type"] != string(enums.EventPaymentIntentStatusChanged) {
		t.Fatalf("unexpected published messages %+v", pub.messages)
	}

	service.stopPublishers()
	if !pub.stopped {
		t.Fatalf("expected publisher to be stopped")
	}
}

func TestServiceProcessBatchMissingPublisherIsTerminal(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentIntentApproved,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "no-topic"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolved := &registry.ResolvedEvent{Descriptor: registry.EventDescriptor{Topic: "missing"}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: resolved}, dlqRepo, nil)
	service.publisherFactory = func(string) publisher { return nil }

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(dlqRepo.entries) != 1 || dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonUnroutable {
		t.Fatalf("expected unroutable dlq entry, got %+v", dlqRepo.entries)
	}
	if !dlqRepo.entries[0].FailedAt.Equal(testNow) {
		t.Fatalf("expected failed_at from clock, got %s", dlqRepo.entries[0].FailedAt)
	}
}

func TestSettingsFromAppliesDefaults(t *testing.T) {
	st := settingsFrom(config.OutboxConfig{MaxAttempts: 3})
	if st.batchSize != 50 || st.maxAttempts != 3 || st.pollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected settings %+v", st)
	}
}

func TestProcessBatchRecordsMetrics(t *testing.T) {
	events := []models.OutboxEvent{
		{
			ID:            uuid.New(),
			EventType:     enums.EventPaymentIntentStatusChanged,
			AggregateType: enums.AggregatePaymentIntent,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelopePayload(t, "ok"),
		},
	}
	resolved := &registry.ResolvedEvent{Descriptor: registry.EventDescriptor{Topic: "missing"}}
	service := newTestService(t, &fakeRepo{events: events}, nil, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	service.publisherFactory = func(string) publisher { return nil }
	rec := &fakeRecorder{}
	service.metrics = rec

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(rec.publishes) != 1 || rec.publishes[0] != "missing:failed" {
		t.Fatalf("unexpected publish observations %v", rec.publishes)
	}
	if len(rec.deadLetters) != 1 || rec.deadLetters[0] != enums.OutboxDLQReasonUnroutable.String() {
		t.Fatalf("unexpected dead letter observations %v", rec.deadLetters)
	}
	if rec.batches != 1 {
		t.Fatalf("expected one batch observation, got %d", rec.batches)
	}

	rec.batches = 0
	service.repo = &fakeRepo{}
	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("empty batch returned error: %v", err)
	}
	if rec.batches != 0 {
		t.Fatalf("empty batches must not be observed")
	}
}

type fakeRecorder struct {
	publishes   []string
	deadLetters []string
	batches     int
}

func (f *fakeRecorder) ObservePublish(topic string, err error) {
	result := "published"
	if err != nil {
		result = "failed"
	}
	f.publishes = append(f.publishes, topic+":"+result)
}

func (f *fakeRecorder) ObserveDeadLetter(reason string) {
	f.deadLetters = append(f.deadLetters, reason)
}

func (f *fakeRecorder) ObserveBatch(time.Duration) {
	f.batches++
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunFailsWhenDependencyDown(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	service.db = &fakeDB{pingErr: errors.New("connection refused")}
	if err := service.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness failure")
	}
}

func TestBackOffGrowsToCap(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	b := service.newBackOff()
	var last time.Duration
	for i := 0; i < 20; i++ {
		last = b.NextBackOff()
	}
	upper := time.Duration(float64(maxBackoff) * (1 + backoffJitter))
	if last <= 0 || last > upper {
		t.Fatalf("expected backoff capped near %s, got %s", maxBackoff, last)
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentIntentStatusChanged,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "nonretryable"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	registry := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakePublisher{}, registry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentIntentStatusChanged,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "max-attempts"),
		AttemptCount:  1,
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "payment-intent-events",
			AggregateType: enums.AggregatePaymentIntent,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    event.ID.String(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.PaymentIntentStatusChangedEvent{},
	}
	registry := &fakeRegistry{resolved: resolved}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, registry, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo outboxRepository, pub *fakePublisher, registry registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	var factoryPub publisher
	if pub != nil {
		factoryPub = pub
	}
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         registry,
		PublisherFactory: func(_ string) publisher { return factoryPub },
		DLQRepository:    dlq,
		Clock:            clock.NewFake(testNow),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeDB struct {
	pingErr error
}

func (f *fakeDB) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
	stopped  bool
	resumed  []string
}

func (f *fakePublisher) Stop() { f.stopped = true }

func (f *fakePublisher) ResumePublish(key string) { f.resumed = append(f.resumed, key) }

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
