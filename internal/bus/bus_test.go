package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b := NewChannelBus(10)
	defer b.Close()

	received := make(chan *domain.Message, 10)
	sub, err := b.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, domain.TopicAlert, []byte(`{"type":"risk_rejected"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Topic != domain.TopicAlert {
			t.Errorf("unexpected topic: %s", msg.Topic)
		}
		if string(msg.Payload) != `{"type":"risk_rejected"}` {
			t.Errorf("unexpected payload: %s", msg.Payload)
		}
		if msg.ID == "" {
			t.Error("expected message id")
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	ctx := context.Background()
	b := NewChannelBus(10)
	defer b.Close()

	received := make(chan *domain.Message, 10)
	b.Subscribe(ctx, domain.TopicPayoutSettled, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})

	b.Publish(ctx, domain.TopicAlert, []byte("wrong topic"))
	b.Publish(ctx, domain.TopicPayoutSettled, []byte("right topic"))

	select {
	case msg := <-received:
		if string(msg.Payload) != "right topic" {
			t.Errorf("received message from wrong topic: %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	select {
	case msg := <-received:
		t.Errorf("unexpected extra message: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	ctx := context.Background()
	b := NewChannelBus(10)
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		b.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			wg.Done()
			return nil
		})
	}

	b.Publish(ctx, domain.TopicAlert, []byte("fan out"))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers received the message")
	}
}

func TestChannelBusPublishNeverBlocks(t *testing.T) {
	ctx := context.Background()
	b := NewChannelBus(1)
	defer b.Close()

	// A handler that never finishes; its buffer fills after one message.
	block := make(chan struct{})
	defer close(block)
	b.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		<-block
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(ctx, domain.TopicAlert, []byte("burst"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestChannelBusClosed(t *testing.T) {
	ctx := context.Background()
	b := NewChannelBus(10)
	b.Close()

	if err := b.Publish(ctx, domain.TopicAlert, []byte("x")); err == nil {
		t.Error("expected publish error after close")
	}
	if _, err := b.Subscribe(ctx, domain.TopicAlert, func(context.Context, *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	// Closing again is a no-op.
	if err := b.Close(); err != nil {
		t.Errorf("repeated close should not error: %v", err)
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b := NewChannelBus(10)
	defer b.Close()

	received := make(chan *domain.Message, 10)
	sub, err := b.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	sub.Unsubscribe()
	// The handler goroutine observes cancellation asynchronously.
	time.Sleep(20 * time.Millisecond)

	b.Publish(ctx, domain.TopicAlert, []byte("after unsubscribe"))

	select {
	case msg := <-received:
		t.Errorf("received message after unsubscribe: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Close()

	if _, err := New(domain.EventBusConfig{Type: "smoke-signals"}); err == nil {
		t.Error("expected error for unknown bus type")
	}
}
