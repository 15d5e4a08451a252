package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRegistryOpenTwiceClosesFirst(t *testing.T) {
	reg := NewRegistry()
	sub := uuid.New()

	first := reg.Open(sub)
	second := reg.Open(sub)

	select {
	case <-first.Closed():
	default:
		t.Fatal("expected first channel to be closed by second Open")
	}
	select {
	case <-second.Closed():
		t.Fatal("second channel should remain open")
	default:
	}
}

func TestRegistryPublishDeliversToCurrentChannel(t *testing.T) {
	reg := NewRegistry()
	sub := uuid.New()
	ch := reg.Open(sub)

	reg.Publish(sub, Snapshot{SessionID: uuid.New(), CumulativeBytes: 100})

	select {
	case snap := <-ch.Snapshots():
		if snap.CumulativeBytes != 100 {
			t.Fatalf("expected 100 bytes, got %d", snap.CumulativeBytes)
		}
	default:
		t.Fatal("expected a queued snapshot")
	}
}

func TestRegistryPublishToUnknownSubscriberIsNoop(t *testing.T) {
	reg := NewRegistry()
	reg.Publish(uuid.New(), Snapshot{})
}

func TestChannelSendDropsOldestWhenFull(t *testing.T) {
	ch := newChannel()
	for i := 0; i < channelBuffer+2; i++ {
		ch.Send(Snapshot{CumulativeBytes: int64(i)})
	}

	var last Snapshot
	count := 0
	for {
		select {
		case snap := <-ch.Snapshots():
			last = snap
			count++
		default:
			goto done
		}
	}
done:
	if count != channelBuffer {
		t.Fatalf("expected buffer capped at %d, drained %d", channelBuffer, count)
	}
	if last.CumulativeBytes != int64(channelBuffer+1) {
		t.Fatalf("expected newest snapshot retained, got %d", last.CumulativeBytes)
	}
}

func TestRegistryCloseOnlyRemovesCurrentChannel(t *testing.T) {
	reg := NewRegistry()
	sub := uuid.New()
	first := reg.Open(sub)
	second := reg.Open(sub)

	// first was already replaced by second; closing it must not touch
	// the registry's current entry.
	reg.Close(sub, first)

	reg.Publish(sub, Snapshot{CumulativeBytes: 7})
	select {
	case <-second.Snapshots():
	default:
		t.Fatal("expected second channel to still receive publishes")
	}
}

type fakeSource struct {
	snap Snapshot
	more bool
	err  error
}

func (f *fakeSource) Sample(ctx context.Context, subscriberID uuid.UUID) (Snapshot, bool, error) {
	return f.snap, f.more, f.err
}

func TestRunStopsAfterSourceReportsSessionEnded(t *testing.T) {
	ch := newChannel()
	source := &fakeSource{snap: Snapshot{Status: "disconnected"}, more: false}

	done := make(chan struct{})
	go func() {
		Run(context.Background(), uuid.New(), ch, source, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after session ended")
	}

	select {
	case snap := <-ch.Snapshots():
		if snap.Status != "disconnected" {
			t.Fatalf("expected final disconnected snapshot, got %q", snap.Status)
		}
	default:
		t.Fatal("expected a final snapshot to have been sent")
	}
}

func TestRunStopsWhenChannelClosed(t *testing.T) {
	ch := newChannel()
	source := &fakeSource{snap: Snapshot{}, more: true}

	done := make(chan struct{})
	go func() {
		Run(context.Background(), uuid.New(), ch, source, time.Millisecond)
		close(done)
	}()

	ch.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
}

type fakeAggregateSource struct {
	snap AggregateSnapshot
}

func (f *fakeAggregateSource) SampleAggregate(ctx context.Context) (AggregateSnapshot, error) {
	return f.snap, nil
}

func TestOperatorHubBroadcastsToSubscribers(t *testing.T) {
	hub := NewOperatorHub()
	ch := hub.Subscribe()
	source := &fakeAggregateSource{snap: AggregateSnapshot{ActiveSessions: 3}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunOperatorHub(ctx, hub, source, time.Millisecond)
		close(done)
	}()

	select {
	case snap := <-ch.Snapshots():
		if snap.ActiveSessions != 3 {
			t.Fatalf("expected aggregate active sessions forwarded, got %d", snap.ActiveSessions)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast snapshot")
	}
	cancel()
	<-done
}

func TestOperatorHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewOperatorHub()
	ch := hub.Subscribe()
	hub.Unsubscribe(ch)

	select {
	case <-ch.Closed():
	default:
		t.Fatal("expected unsubscribed channel to be closed")
	}
}
