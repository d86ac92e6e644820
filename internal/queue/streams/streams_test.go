package streams

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPublishReadAck(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	reg, err := NewBaseRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	const stream = "requirements.decompose"
	if err := EnsureGroup(ctx, client, stream, "workers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	pub := NewPublisher(client, reg)
	id, err := pub.PublishPayload(ctx, stream, EventDecomposeRequested, VersionV1, DecomposeRequest{RequirementID: "req-1", JobID: "job-1"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatalf("expected entry id")
	}

	cons := NewConsumer(client, reg, "workers", "w1", nil)
	msgs, err := cons.Read(ctx, stream, WithCount(10))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	var req DecomposeRequest
	if err := msgs[0].Envelope.Decode(&req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.RequirementID != "req-1" || req.JobID != "job-1" {
		t.Fatalf("unexpected payload %+v", req)
	}
	if msgs[0].Envelope.EventID == "" || msgs[0].Envelope.OccurredAt.IsZero() {
		t.Fatalf("publisher must stamp id and time: %+v", msgs[0].Envelope)
	}
	if err := cons.Ack(ctx, stream, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	pending, err := client.XPending(ctx, stream, "workers").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending entries, got %d", pending.Count)
	}
}

func TestPublishRejectsInvalidPayload(t *testing.T) {
	_, client := newTestClient(t)
	reg, err := NewBaseRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	pub := NewPublisher(client, reg)
	_, err = pub.PublishPayload(context.Background(), "s", EventDecomposeRequested, VersionV1, map[string]string{"requirement_id": ""})
	if err == nil {
		t.Fatalf("expected schema violation")
	}
	if _, err := pub.PublishPayload(context.Background(), "s", "unknown.event", VersionV1, map[string]string{}); err == nil {
		t.Fatalf("expected unregistered event type to fail")
	}
}

func TestMalformedEntriesAreDropped(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	reg, _ := NewBaseRegistry()
	const stream = "requirements.decompose"
	if err := EnsureGroup(ctx, client, stream, "workers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"envelope": "{not json"}})
	client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"other": "x"}})
	if _, err := NewPublisher(client, reg).PublishPayload(ctx, stream, EventDecomposeRequested, VersionV1, DecomposeRequest{RequirementID: "req-2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	cons := NewConsumer(client, reg, "workers", "w1", nil)
	msgs, err := cons.Read(ctx, stream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected only the valid entry, got %d", len(msgs))
	}
	pending, err := client.XPending(ctx, stream, "workers").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected dropped entries acked, pending=%d", pending.Count)
	}
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := EnsureGroup(ctx, client, "s", "g"); err != nil {
			t.Fatalf("ensure group attempt %d: %v", i+1, err)
		}
	}
	if err := EnsureGroup(ctx, client, "", "g"); err == nil {
		t.Fatalf("expected error for empty stream")
	}
}

func TestGroupCreatedAfterPublishSeesBacklog(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	reg, _ := NewBaseRegistry()
	pub := NewPublisher(client, reg)
	if _, err := pub.PublishPayload(ctx, "s", EventDecomposeRequested, VersionV1, DecomposeRequest{RequirementID: "early"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := EnsureGroup(ctx, client, "s", "g"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	msgs, err := NewConsumer(client, reg, "g", "c", nil).Read(ctx, "s")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected backlog entry, got %d", len(msgs))
	}
}

func TestEnvelopeValidate(t *testing.T) {
	if _, err := UnmarshalEnvelope([]byte(`{"event_id":"1","event_type":"x","payload_version":"v1","attempt":-1,"data":{}}`)); err == nil {
		t.Fatalf("expected negative attempt rejected")
	}
	env, err := UnmarshalEnvelope([]byte(`{"event_id":"1","event_type":"x","payload_version":"v1","attempt":0,"data":{"a":1}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.EventType != "x" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
