package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/tgate/pkg/models"
)

func TestMemoryFansOut(t *testing.T) {
	b := NewMemory(1)
	first, cancelFirst := b.Subscribe()
	defer cancelFirst()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	ev := models.InboundEvent{ID: "1", Content: "hi"}
	if err := b.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	for _, ch := range []<-chan models.InboundEvent{first, second} {
		if got := <-ch; got.ID != "1" {
			t.Errorf("received %+v, want event 1", got)
		}
	}
}

func TestMemoryPublishRespectsContext(t *testing.T) {
	b := NewMemory(0)
	_, cancel := b.Subscribe()
	defer cancel()

	ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	if err := b.Publish(ctx, models.InboundEvent{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish() error = %v, want deadline exceeded", err)
	}
}

func TestMemoryCancelledSubscriberDoesNotBlock(t *testing.T) {
	b := NewMemory(0)
	_, cancel := b.Subscribe()
	cancel()
	cancel()

	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", b.Subscribers())
	}
	if err := b.Publish(context.Background(), models.InboundEvent{}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestMemoryClosed(t *testing.T) {
	b := NewMemory(1)
	b.Close()
	if err := b.Publish(context.Background(), models.InboundEvent{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() error = %v, want ErrClosed", err)
	}
}

func TestPublisherFunc(t *testing.T) {
	var got string
	var p Publisher = PublisherFunc(func(_ context.Context, ev models.InboundEvent) error {
		got = ev.ID
		return nil
	})
	_ = p.Publish(context.Background(), models.InboundEvent{ID: "x"})
	if got != "x" {
		t.Errorf("PublisherFunc did not receive the event")
	}
}
