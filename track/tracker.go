package track

import (
	"context"
	"errors"
	"fmt"

	"github.com/nwah/lockad-server/geo"
)

// DefaultOffRouteThreshold is how far, in meters, a fix may stray from the
// route before it counts as off-route.
const DefaultOffRouteThreshold = 60.0

// ErrDegenerateRoute is returned by Start for routes with fewer than 2 points.
var ErrDegenerateRoute = errors.New("track: route needs at least 2 coordinates")

// State is the tracker's lifecycle state.
type State int

const (
	Idle State = iota
	Tracking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Update is the result of feeding one fix to the tracker. Traveled and
// Remaining share their boundary vertex.
type Update struct {
	Position              geo.Point   `json:"position"`
	Traveled              []geo.Point `json:"traveled"`
	Remaining             []geo.Point `json:"remaining"`
	Index                 int         `json:"index"`
	OnRouteDistanceMeters float64     `json:"onRouteDistanceMeters"`
	OffRoute              bool        `json:"offRoute"`
}

// Snapshot is a copy of the tracking state at some instant.
type Snapshot struct {
	State                     State       `json:"-"`
	Route                     []geo.Point `json:"route"`
	Traveled                  []geo.Point `json:"traveled"`
	Remaining                 []geo.Point `json:"remaining"`
	LastKnownPosition         geo.Point   `json:"lastKnownPosition"`
	LastOnRouteDistanceMeters float64     `json:"lastOnRouteDistanceMeters"`
	Fixes                     int         `json:"fixes"`
}

// Tracker is the route-following state machine: Idle -> Tracking -> Idle.
type Tracker struct {
	threshold float64

	state     State
	route     []geo.Point
	traveled  []geo.Point
	remaining []geo.Point
	last      geo.Point
	lastDist  float64
	fixes     int

	// cancel stops the live position subscription, if one is open.
	cancel context.CancelFunc
}

// NewTracker returns an idle Tracker. A non-positive threshold selects
// DefaultOffRouteThreshold.
func NewTracker(thresholdMeters float64) *Tracker {
	if thresholdMeters <= 0 {
		thresholdMeters = DefaultOffRouteThreshold
	}
	return &Tracker{threshold: thresholdMeters}
}

// Threshold returns the off-route distance in meters.
func (t *Tracker) Threshold() float64 { return t.threshold }

// State returns the current lifecycle state.
func (t *Tracker) State() State { return t.state }

// Start begins tracking route, replacing whatever was tracked before.
// Nothing has been walked yet, so the whole route is remaining.
func (t *Tracker) Start(route []geo.Point) error {
	if len(route) < 2 {
		return ErrDegenerateRoute
	}

	t.route = clone(route)
	t.traveled = nil
	t.remaining = clone(route)
	t.last = geo.Point{}
	t.lastDist = 0
	t.fixes = 0
	t.state = Tracking
	return nil
}

// Update feeds one position fix. While Idle it does nothing and returns an
// empty, on-route Update. When p is further than the threshold from the
// route the tracker stops (subscription included) and OffRoute is set.
func (t *Tracker) Update(p geo.Point) Update {
	if t.state != Tracking {
		return Update{Position: p}
	}

	near, err := geo.NearestOnRoute(p, t.route)
	if err != nil {
		// Unreachable: Start rejects routes shorter than 2 points.
		return Update{Position: p}
	}

	t.traveled = clone(t.route[:near.Index+1])
	t.remaining = clone(t.route[near.Index:])
	t.last = p
	t.lastDist = near.DistanceMeters
	t.fixes++

	u := Update{
		Position:              p,
		Traveled:              clone(t.traveled),
		Remaining:             clone(t.remaining),
		Index:                 near.Index,
		OnRouteDistanceMeters: near.DistanceMeters,
	}

	if near.DistanceMeters > t.threshold {
		u.OffRoute = true
		t.Stop()
	}
	return u
}

// Stop clears the route, cancels any position subscription and returns to
// Idle. It is safe to call repeatedly.
func (t *Tracker) Stop() {
	t.unsubscribe()
	t.state = Idle
	t.route = nil
	t.traveled = nil
	t.remaining = nil
}

// Subscribe opens a position subscription on src, first closing any
// subscription the tracker already holds, so at most one is ever live.
// The returned channel is closed when the subscription ends.
func (t *Tracker) Subscribe(ctx context.Context, src PositionSource) (<-chan Fix, error) {
	t.unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	fixes, err := src.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to position source: %w", err)
	}
	t.cancel = cancel
	return fixes, nil
}

// Subscribed reports whether a position subscription is open.
func (t *Tracker) Subscribed() bool { return t.cancel != nil }

func (t *Tracker) unsubscribe() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Snapshot returns a copy of the current tracking state.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		State:                     t.state,
		Route:                     clone(t.route),
		Traveled:                  clone(t.traveled),
		Remaining:                 clone(t.remaining),
		LastKnownPosition:         t.last,
		LastOnRouteDistanceMeters: t.lastDist,
		Fixes:                     t.fixes,
	}
}

func clone(pts []geo.Point) []geo.Point {
	if pts == nil {
		return nil
	}
	return append([]geo.Point(nil), pts...)
}
