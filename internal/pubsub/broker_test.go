package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	broker, err := NewRedisBroker("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis broker: %v", err)
	}
	t.Cleanup(func() { _ = broker.Close() })
	return broker, s
}

func TestNewRedisBrokerRejectsBadURL(t *testing.T) {
	if _, err := NewRedisBroker("://nope"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedisBrokerPing(t *testing.T) {
	broker, _ := setupTestRedis(t)
	if err := broker.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisBrokerPublishSubscribe(t *testing.T) {
	broker, _ := setupTestRedis(t)
	ctx := context.Background()

	got := make(chan Notice, 4)
	cancel, err := broker.Subscribe(ctx, "buyer:k1", func(n Notice) { got <- n })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if _, err := broker.Publish(ctx, Notice{PlanKey: "other:k1", Action: "plan_plan_row_update"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	sent, err := broker.Publish(ctx, Notice{PlanKey: "buyer:k1", Action: "plan_plan_row_update", EIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if sent.Revision != 1 {
		t.Errorf("expected revision 1, got %d", sent.Revision)
	}

	select {
	case n := <-got:
		if n.PlanKey != "buyer:k1" || n.Revision != 1 || len(n.EIDs) != 1 {
			t.Errorf("unexpected notice %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notice not delivered")
	}

	cancel()
	cancel()

	if _, err := broker.Publish(ctx, Notice{PlanKey: "buyer:k1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case n := <-got:
		t.Fatalf("notice delivered after cancel: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}

	rev, err := broker.Revision(ctx, "buyer:k1")
	if err != nil {
		t.Fatalf("Revision failed: %v", err)
	}
	if rev != 2 {
		t.Errorf("expected revision 2, got %d", rev)
	}
}

func TestRedisBrokerRevisionUnknownPlan(t *testing.T) {
	broker, _ := setupTestRedis(t)
	rev, err := broker.Revision(context.Background(), "never")
	if err != nil || rev != 0 {
		t.Fatalf("Revision = %d, %v", rev, err)
	}
}

func TestMemoryBroker(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	var got []Notice
	cancel, err := broker.Subscribe(ctx, "buyer:k1", func(n Notice) { got = append(got, n) })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if _, err := broker.Publish(ctx, Notice{PlanKey: "buyer:k1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	cancel()
	cancel()
	if _, err := broker.Publish(ctx, Notice{PlanKey: "buyer:k1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(got) != 1 || got[0].Revision != 1 {
		t.Fatalf("unexpected notices %+v", got)
	}
	if rev, _ := broker.Revision(ctx, "buyer:k1"); rev != 2 {
		t.Fatalf("expected revision 2, got %d", rev)
	}
}
