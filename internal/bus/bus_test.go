package bus

import (
	"sync"
	"testing"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	var got1, got2 int
	b.Subscribe("topic", func(payload any) { got1 = payload.(int) })
	b.Subscribe("topic", func(payload any) { got2 = payload.(int) })

	b.Publish("topic", 42)

	if got1 != 42 || got2 != 42 {
		t.Fatalf("expected both handlers to receive 42, got %d and %d", got1, got2)
	}
}

func TestPublishToUnknownTopicIsNoop(t *testing.T) {
	b := New()
	b.Publish("nothing-subscribed", "payload")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	handler := func(payload any) { calls++ }

	b.Subscribe("topic", handler)
	b.Publish("topic", nil)
	b.Unsubscribe("topic", handler)
	b.Publish("topic", nil)

	if calls != 1 {
		t.Fatalf("expected exactly 1 call before unsubscribe, got %d", calls)
	}
}

func TestSubscriptionHelperUnsubscribes(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Subscription("topic", func(payload any) { calls++ })

	b.Publish("topic", nil)
	unsub()
	b.Publish("topic", nil)

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestPanickingHandlerDoesNotStopRemainingHandlers(t *testing.T) {
	b := New()
	secondRan := false
	b.Subscribe("topic", func(payload any) { panic("boom") })
	b.Subscribe("topic", func(payload any) { secondRan = true })

	b.Publish("topic", nil)

	if !secondRan {
		t.Fatal("expected second handler to run despite first handler panicking")
	}
}

func TestSubscribeDuringPublishDoesNotAffectInFlightSnapshot(t *testing.T) {
	b := New()
	lateHandlerCalls := 0
	b.Subscribe("topic", func(payload any) {
		b.Subscribe("topic", func(payload any) { lateHandlerCalls++ })
	})

	b.Publish("topic", nil)
	if lateHandlerCalls != 0 {
		t.Fatalf("handler added mid-publish should not run in the same publish, got %d calls", lateHandlerCalls)
	}

	b.Publish("topic", nil)
	if lateHandlerCalls != 1 {
		t.Fatalf("handler added mid-publish should run on the next publish, got %d calls", lateHandlerCalls)
	}
}

func TestConcurrentPublishIsRaceFree(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := 0
	b.Subscribe("topic", func(payload any) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish("topic", nil)
		}()
	}
	wg.Wait()

	if count != 50 {
		t.Fatalf("expected 50 deliveries, got %d", count)
	}
}
