package track

import (
	"context"
	"sync"
	"time"

	"github.com/nwah/lockad-server/geo"
)

// Fix is a single live position report.
type Fix struct {
	Point     geo.Point `json:"point"`
	Accuracy  float64   `json:"accuracy"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// PositionSource produces live fixes. Subscribe starts a stream that runs
// until ctx is cancelled, at which point the channel is closed.
type PositionSource interface {
	Subscribe(ctx context.Context) (<-chan Fix, error)
}

// Feed is a push-based PositionSource: fixes handed to Push are delivered
// to whichever subscription is active. Only one subscription is live at a
// time; a new Subscribe replaces the old one.
type Feed struct {
	mu     sync.Mutex
	ch     chan Fix
	buffer int
}

// NewFeed returns a Feed whose subscriptions buffer up to buffer fixes.
func NewFeed(buffer int) *Feed {
	if buffer < 1 {
		buffer = 1
	}
	return &Feed{buffer: buffer}
}

func (f *Feed) Subscribe(ctx context.Context) (<-chan Fix, error) {
	ch := make(chan Fix, f.buffer)

	f.mu.Lock()
	if f.ch != nil {
		close(f.ch)
	}
	f.ch = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.ch == ch {
			close(ch)
			f.ch = nil
		}
	}()
	return ch, nil
}

// Push delivers fix to the active subscription. It reports false when
// there is no subscriber or its buffer is full.
func (f *Feed) Push(fix Fix) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ch == nil {
		return false
	}
	select {
	case f.ch <- fix:
		return true
	default:
		return false
	}
}

// Active reports whether a subscription is currently open.
func (f *Feed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch != nil
}

// Replay is a simulated PositionSource that walks a fixed list of points,
// emitting one every Interval. Offset shifts every point, which is handy
// for pushing a walk off its route. A new subscription picks up at the
// first point the previous one did not deliver.
type Replay struct {
	Points   []geo.Point
	Interval time.Duration
	Offset   geo.Point
	Accuracy float64

	mu   sync.Mutex
	next int
}

func (r *Replay) Subscribe(ctx context.Context) (<-chan Fix, error) {
	ch := make(chan Fix)
	go func() {
		defer close(ch)

		var tick <-chan time.Time
		if r.Interval > 0 {
			ticker := time.NewTicker(r.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for sent := 0; ; sent++ {
			if sent > 0 && tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}

			r.mu.Lock()
			i := r.next
			r.mu.Unlock()
			if i >= len(r.Points) {
				return
			}

			p := r.Points[i]
			fix := Fix{
				Point:     geo.Point{Lat: p.Lat + r.Offset.Lat, Lng: p.Lng + r.Offset.Lng},
				Accuracy:  r.Accuracy,
				Timestamp: time.Now(),
			}
			select {
			case ch <- fix:
				r.mu.Lock()
				if r.next == i {
					r.next++
				}
				r.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
