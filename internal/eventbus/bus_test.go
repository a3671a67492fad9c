package eventbus

import (
	"testing"
	"time"

	"pindrop/internal/annotation"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(annotation.Event{Kind: annotation.KindAdd, ID: "a1"})

	for i, ch := range []<-chan annotation.Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.ID != "a1" {
				t.Fatalf("subscriber %d got wrong event: %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got no event", i)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	// Nobody is reading; buffer is 1. Extra publishes must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(annotation.Event{Kind: annotation.KindUpdate, ID: "a1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(annotation.Event{Kind: annotation.KindRemove, ID: "a1"})
}

func TestNopBusDropsEverything(t *testing.T) {
	b := Nop()
	b.Publish(annotation.Event{Kind: annotation.KindAdd, ID: "a1"})
	ch, unsub := b.Subscribe(1)
	unsub()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("nop bus delivered an event")
		}
	default:
	}
}
