package events

import (
	"context"
	"encoding/json"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestNewCaptureEvent(t *testing.T) {
	evt := NewCaptureEvent("session-1", "vin", 2, OutcomeRetry)
	if _, err := uuid.Parse(evt.ID); err != nil {
		t.Fatalf("id is not a uuid: %q", evt.ID)
	}
	if evt.OccurredAt.IsZero() || evt.Attempt != 2 || evt.Outcome != OutcomeRetry {
		t.Fatalf("event = %+v", evt)
	}
	if other := NewCaptureEvent("session-1", "vin", 2, OutcomeRetry); other.ID == evt.ID {
		t.Fatalf("ids must be unique")
	}
}

func TestMemoryPublisherKeepsNewest(t *testing.T) {
	p := NewMemoryPublisher(2)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if err := p.Publish(ctx, NewCaptureEvent("s", "vin", i, OutcomeRetry)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	recent := p.Recent(0)
	if len(recent) != 2 || recent[0].Attempt != 2 || recent[1].Attempt != 3 {
		t.Fatalf("recent = %+v", recent)
	}
	if got := p.Recent(1); len(got) != 1 || got[0].Attempt != 3 {
		t.Fatalf("recent(1) = %+v", got)
	}
	if len(p.Session("s")) != 2 || len(p.Session("other")) != 0 {
		t.Fatalf("session filter broken")
	}
	_ = p.Close()
	if err := p.Publish(ctx, NewCaptureEvent("s", "vin", 4, OutcomeSuccess)); err != ErrPublisherClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestRedisPublisherPushesCappedList(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := NewRedisPublisherFromClient(client, "events", 2)
	defer p.Close()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if err := p.Publish(ctx, NewCaptureEvent("s", "odometer", i, OutcomeSuccess)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	items, err := mr.List("events")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected capped list, got %d items", len(items))
	}
	var newest CaptureEvent
	if err := json.Unmarshal([]byte(items[0]), &newest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if newest.Attempt != 3 || newest.CaptureType != "odometer" {
		t.Fatalf("newest = %+v", newest)
	}
}

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher(context.Background(), Config{})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := p.(*MemoryPublisher); !ok {
		t.Fatalf("expected memory publisher, got %T", p)
	}
	if _, err := NewPublisher(context.Background(), Config{Driver: "kafka"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := NewPublisher(context.Background(), Config{Driver: "rabbitmq"}); err == nil {
		t.Fatalf("expected missing url error")
	}
	if _, err := NewPublisher(context.Background(), Config{Driver: "redis"}); err == nil {
		t.Fatalf("expected missing address error")
	}
}

func TestRoutingKey(t *testing.T) {
	evt := CaptureEvent{Outcome: OutcomeCancelled}
	if got := routingKey("", "q", evt); got != "q" {
		t.Fatalf("default exchange key = %s", got)
	}
	if got := routingKey("motomind", "q", evt); got != "capture.cancelled" {
		t.Fatalf("topic key = %s", got)
	}
}
