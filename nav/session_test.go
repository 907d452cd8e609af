package nav

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nwah/lockad-server/geo"
	"github.com/nwah/lockad-server/track"
)

// places is the fake geocoder shared by the session tests.
var places = map[string]geo.Point{
	"quezon city": {Lat: 14.6, Lng: 121.0},
}

func fakeGeocoder() Geocoder {
	return &GeocoderChain{Services: []Geocoder{geocoderFunc(func(_ context.Context, q string) (geo.Point, error) {
		if p, ok := places[strings.ToLower(q)]; ok {
			return p, nil
		}
		return geo.Point{}, &ErrNoResults{Query: q}
	})}}
}

// fakeRouter offers a fast and a slow walk between any two points and
// records where each request started. Calls after the first block on
// hold when it is set.
type fakeRouter struct {
	mu      sync.Mutex
	origins []geo.Point
	hold    chan struct{}
	fail    error
	empty   bool
}

func (r *fakeRouter) Name() string { return "fake" }

func (r *fakeRouter) Routes(ctx context.Context, from, to geo.Point) ([]RouteCandidate, error) {
	r.mu.Lock()
	r.origins = append(r.origins, from)
	n, hold, fail := len(r.origins), r.hold, r.fail
	r.mu.Unlock()

	if n > 1 && hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n > 1 && fail != nil {
		return nil, fail
	}
	if r.empty {
		return nil, nil
	}

	mid := geo.Point{Lat: (from.Lat + to.Lat) / 2, Lng: (from.Lng + to.Lng) / 2}
	return []RouteCandidate{
		{Coordinates: []geo.Point{from, to}, DurationSeconds: 900, DistanceMeters: 320, StepCount: 5, Provider: "fake"},
		{
			Coordinates: []geo.Point{from, mid, to}, DurationSeconds: 600, DistanceMeters: 120, StepCount: 2, Provider: "fake",
			Steps: []StepInstruction{
				{Text: "Head north", DistanceMeters: 100, DurationSeconds: 500},
				{Text: "Arrive at destination", DistanceMeters: 20, DurationSeconds: 100},
			},
		},
	}, nil
}

func (r *fakeRouter) calls() []geo.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]geo.Point(nil), r.origins...)
}

// recorder is a Presenter that keeps every event it is shown.
type recorder struct {
	mu        sync.Mutex
	planned   []RouteSummary
	updates   []track.Update
	rerouting []geo.Point
	failures  []error
}

func (r *recorder) RoutePlanned(_ *RouteCandidate, s RouteSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planned = append(r.planned, s)
}

func (r *recorder) PositionTracked(u track.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) Rerouting(from geo.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rerouting = append(r.rerouting, from)
}

func (r *recorder) Failed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recorder) counts() (planned, updates, rerouting, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.planned), len(r.updates), len(r.rerouting), len(r.failures)
}

// syncBuffer lets a slog handler and a polling test share a buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPlannerPlan(t *testing.T) {
	router := &fakeRouter{}
	p := &Planner{Geocoder: fakeGeocoder(), Router: router, Log: discardLogger()}

	plan, err := p.Plan(context.Background(), Query("14.5,121.0"), "Quezon City", ModeFastest)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Route.DurationSeconds != 600 {
		t.Errorf("fastest picked duration %v, want 600", plan.Route.DurationSeconds)
	}
	if plan.Origin != (geo.Point{Lat: 14.5, Lng: 121.0}) || plan.Destination != places["quezon city"] {
		t.Errorf("plan endpoints = %v -> %v", plan.Origin, plan.Destination)
	}
	if plan.Alternatives != 2 {
		t.Errorf("alternatives = %d", plan.Alternatives)
	}
	if got := plan.Summary().String(); got != "Provider: fake · Distance: 0.12 km · Duration: 10 min · Steps (approx): 2" {
		t.Errorf("summary = %q", got)
	}

	safer, err := p.PlanRoute(context.Background(), At(geo.Point{Lat: 14.5, Lng: 121.0}), "quezon city", ModeSafer)
	if err != nil {
		t.Fatal(err)
	}
	if safer.StepCount != 5 {
		t.Errorf("safer picked %d steps, want 5", safer.StepCount)
	}
}

func TestPlannerErrors(t *testing.T) {
	ctx := context.Background()

	p := &Planner{Geocoder: fakeGeocoder(), Router: &fakeRouter{}}
	_, err := p.Plan(ctx, Query("14.5,121.0"), "Atlantis", ModeFastest)
	var gerr *GeocodeError
	if !errors.As(err, &gerr) || gerr.Role != "destination" || !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown destination: err = %v", err)
	}
	if !IsGeocodeError(err) {
		t.Error("IsGeocodeError = false")
	}

	_, err = p.Plan(ctx, Query("nowhere"), "Quezon City", ModeFastest)
	if !errors.As(err, &gerr) || gerr.Role != "origin" {
		t.Errorf("unknown origin: err = %v", err)
	}

	p.Router = &fakeRouter{empty: true}
	_, err = p.Plan(ctx, Query("14.5,121.0"), "Quezon City", ModeFastest)
	var rerr *RoutingError
	if !errors.As(err, &rerr) || !errors.Is(err, ErrNoRouteFound) {
		t.Errorf("no candidates: err = %v", err)
	}
	if IsGeocodeError(err) {
		t.Error("routing failure reported as geocode error")
	}
}

func newTestSession(router *fakeRouter, log *slog.Logger) (*Session, *track.Feed, *recorder) {
	if log == nil {
		log = discardLogger()
	}
	feed := track.NewFeed(16)
	rec := &recorder{}
	s := NewSession(Planner{Geocoder: fakeGeocoder(), Router: router, Log: log}, feed,
		SessionOptions{OffRouteThresholdMeters: 60, Presenter: rec, Log: log})
	return s, feed, rec
}

func startJourney(t *testing.T, s *Session) *Plan {
	t.Helper()
	plan, err := s.Plan(context.Background(), Query("14.5,121.0"), "Quezon City", ModeFastest)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Follow(context.Background(), plan); err != nil {
		t.Fatal(err)
	}
	return plan
}

func TestSessionFollowsRoute(t *testing.T) {
	s, feed, rec := newTestSession(&fakeRouter{}, nil)
	defer s.Stop()
	startJourney(t, s)

	if st := s.Status(); st.State != "tracking" || st.Generation != 1 || len(st.Last.Remaining) != 3 {
		t.Fatalf("status after start = %+v", st)
	}
	if planned, _, _, _ := rec.counts(); planned != 1 {
		t.Fatalf("RoutePlanned called %d times", planned)
	}

	on := geo.Point{Lat: 14.55, Lng: 121.0}
	if !feed.Push(track.Fix{Point: on}) {
		t.Fatal("no active subscription")
	}
	waitFor(t, "position update", func() bool { _, n, _, _ := rec.counts(); return n == 1 })

	st := s.Status()
	if st.Last.OffRoute || st.Last.OnRouteDistanceMeters > 1 || st.Last.Index != 1 {
		t.Errorf("on-route update = %+v", st.Last)
	}
	if st.Generation != 1 || st.Reroutes != 0 {
		t.Errorf("unexpected reroute: %+v", st)
	}
}

func TestSessionReroutesWhenOffRoute(t *testing.T) {
	router := &fakeRouter{}
	s, feed, rec := newTestSession(router, nil)
	defer s.Stop()
	startJourney(t, s)

	off := geo.Point{Lat: 14.55, Lng: 121.01} // ~1 km east of the route
	feed.Push(track.Fix{Point: off})

	waitFor(t, "rerouted journey", func() bool { return s.Status().Generation == 3 })

	calls := router.calls()
	if len(calls) != 2 || calls[1] != off {
		t.Fatalf("router origins = %v, want reroute from %v", calls, off)
	}
	st := s.Status()
	if st.State != "tracking" || st.Reroutes != 1 {
		t.Errorf("status after reroute = %+v", st)
	}
	if st.Route.Coordinates[0] != off {
		t.Errorf("new route starts at %v", st.Route.Coordinates[0])
	}
	planned, updates, rerouting, failures := rec.counts()
	if planned != 2 || updates != 1 || rerouting != 1 || failures != 0 {
		t.Errorf("presenter saw planned=%d updates=%d rerouting=%d failures=%d", planned, updates, rerouting, failures)
	}
	if !rec.updates[0].OffRoute {
		t.Error("off-route fix not reported as off-route")
	}

	// The new route's subscription is the live one.
	if !feed.Push(track.Fix{Point: off}) {
		t.Fatal("no subscription after reroute")
	}
	waitFor(t, "update on new route", func() bool { _, n, _, _ := rec.counts(); return n == 2 })
	if s.Status().Last.OffRoute {
		t.Error("fix at new route start reported off-route")
	}
}

func TestSessionDiscardsStaleReroute(t *testing.T) {
	var logs syncBuffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	router := &fakeRouter{hold: make(chan struct{})}
	s, feed, rec := newTestSession(router, log)
	startJourney(t, s)

	feed.Push(track.Fix{Point: geo.Point{Lat: 14.55, Lng: 121.01}})
	waitFor(t, "reroute in flight", func() bool { return s.Status().State == "rerouting" })

	s.Stop()
	close(router.hold)
	waitFor(t, "stale result discarded", func() bool { return strings.Contains(logs.String(), "discarding reroute") })

	st := s.Status()
	if st.State != "idle" || st.Route != nil {
		t.Errorf("status after stop = %+v", st)
	}
	if st.Last.OffRoute || len(st.Last.Traveled) > 0 || len(st.Last.Remaining) > 0 {
		t.Errorf("update from the stopped journey still reported: %+v", st.Last)
	}
	if planned, _, _, _ := rec.counts(); planned != 1 {
		t.Errorf("stale plan was shown: RoutePlanned called %d times", planned)
	}
	waitFor(t, "subscription closed", func() bool { return !feed.Active() })
}

func TestSessionRerouteFailure(t *testing.T) {
	router := &fakeRouter{fail: &RoutingError{Provider: "fake", Err: ErrNoRouteFound}}
	s, feed, rec := newTestSession(router, nil)
	defer s.Stop()
	startJourney(t, s)

	feed.Push(track.Fix{Point: geo.Point{Lat: 14.55, Lng: 121.01}})
	waitFor(t, "failure", func() bool { _, _, _, n := rec.counts(); return n == 1 })

	st := s.Status()
	if st.State != "failed" || !strings.Contains(st.Error, "no route found") {
		t.Errorf("status after failed reroute = %+v", st)
	}
	if !errors.Is(rec.failures[0], ErrNoRouteFound) {
		t.Errorf("presenter got %v", rec.failures[0])
	}
	waitFor(t, "subscription closed", func() bool { return !feed.Active() })

	s.Stop()
	st = s.Status()
	if st.State != "idle" || st.Error != "" {
		t.Errorf("status after stopping a failed journey = %+v", st)
	}
	if st.Last.OffRoute || len(st.Last.Traveled) > 0 || len(st.Last.Remaining) > 0 {
		t.Errorf("update from the failed journey still reported: %+v", st.Last)
	}
}

func TestSessionSingleSubscription(t *testing.T) {
	s, feed, rec := newTestSession(&fakeRouter{}, nil)
	defer s.Stop()

	route := &RouteCandidate{
		Coordinates: []geo.Point{{Lat: 14.5, Lng: 121.0}, {Lat: 14.6, Lng: 121.0}},
		Provider:    "fake",
	}
	if err := s.BeginJourney(context.Background(), route); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginJourney(context.Background(), route); err != nil {
		t.Fatal(err)
	}

	feed.Push(track.Fix{Point: geo.Point{Lat: 14.52, Lng: 121.0}})
	waitFor(t, "position update", func() bool { _, n, _, _ := rec.counts(); return n >= 1 })
	time.Sleep(20 * time.Millisecond)
	if _, n, _, _ := rec.counts(); n != 1 {
		t.Errorf("one fix produced %d updates", n)
	}
	if s.Generation() != 2 {
		t.Errorf("generation = %d", s.Generation())
	}
}

func TestSessionRejectsDegenerateRoute(t *testing.T) {
	s, feed, _ := newTestSession(&fakeRouter{}, nil)

	err := s.BeginJourney(context.Background(), &RouteCandidate{Coordinates: []geo.Point{{Lat: 1, Lng: 1}}})
	if !errors.Is(err, track.ErrDegenerateRoute) {
		t.Errorf("err = %v", err)
	}
	if err := s.BeginJourney(context.Background(), nil); !errors.Is(err, track.ErrDegenerateRoute) {
		t.Errorf("nil route: err = %v", err)
	}
	if feed.Active() || s.Status().State != "idle" {
		t.Error("degenerate route started tracking")
	}
}
