package track

import (
	"context"
	"testing"
	"time"

	"github.com/nwah/lockad-server/geo"
)

func TestFeedPush(t *testing.T) {
	feed := NewFeed(1)
	if feed.Push(Fix{}) {
		t.Error("push without a subscriber succeeded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	fixes, err := feed.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !feed.Active() {
		t.Fatal("feed not active after Subscribe")
	}
	if !feed.Push(Fix{Point: northbound[1]}) {
		t.Fatal("push failed")
	}
	if feed.Push(Fix{Point: northbound[2]}) {
		t.Error("push to a full buffer succeeded")
	}
	if fix := <-fixes; fix.Point != northbound[1] {
		t.Errorf("got %v", fix.Point)
	}

	cancel()
	select {
	case _, ok := <-fixes:
		if ok {
			t.Error("unexpected fix after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if feed.Active() {
		t.Error("feed still active after cancel")
	}
}

func TestReplay(t *testing.T) {
	src := &Replay{
		Points:   northbound,
		Interval: time.Millisecond,
		Offset:   geo.Point{Lat: 0.001},
		Accuracy: 5,
	}

	fixes, err := src.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var got []Fix
	for fix := range fixes {
		got = append(got, fix)
	}
	if len(got) != len(northbound) {
		t.Fatalf("replayed %d fixes, want %d", len(got), len(northbound))
	}
	for i, fix := range got {
		want := geo.Point{Lat: northbound[i].Lat + 0.001, Lng: northbound[i].Lng}
		if fix.Point != want || fix.Accuracy != 5 || fix.Timestamp.IsZero() {
			t.Errorf("fix %d = %+v, want point %v", i, fix, want)
		}
	}
}

func TestReplayCancel(t *testing.T) {
	src := &Replay{Points: northbound, Interval: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	fixes, err := src.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	<-fixes
	cancel()

	select {
	case _, ok := <-fixes:
		if ok {
			t.Error("fix delivered after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("replay did not stop on cancel")
	}
}

func TestReplayResumes(t *testing.T) {
	offset := geo.Point{Lat: 0.001}
	src := &Replay{Points: northbound, Interval: time.Hour, Offset: offset}

	ctx, cancel := context.WithCancel(context.Background())
	fixes, err := src.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	first := <-fixes
	cancel()
	for range fixes {
		t.Error("fix delivered after cancel")
	}
	if want := (geo.Point{Lat: northbound[0].Lat + offset.Lat, Lng: northbound[0].Lng}); first.Point != want {
		t.Fatalf("first fix = %v, want %v", first.Point, want)
	}

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	fixes, err = src.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case fix := <-fixes:
		want := geo.Point{Lat: northbound[1].Lat + offset.Lat, Lng: northbound[1].Lng}
		if fix.Point != want {
			t.Errorf("resubscribe started at %v, want %v", fix.Point, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no fix after resubscribe")
	}
}

func TestReplayExhausted(t *testing.T) {
	src := &Replay{Points: northbound[:2]}

	fixes, err := src.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range fixes {
		n++
	}
	if n != 2 {
		t.Fatalf("replayed %d fixes, want 2", n)
	}

	fixes, err = src.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for fix := range fixes {
		t.Errorf("exhausted replay sent %v", fix.Point)
	}
}
