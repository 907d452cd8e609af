package nav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nwah/lockad-server/geo"
	"github.com/nwah/lockad-server/track"
)

// Endpoint is a route origin: either a free-text query or a known position.
type Endpoint struct {
	Query string
	Point *geo.Point
}

// Query is an Endpoint to be geocoded.
func Query(q string) Endpoint { return Endpoint{Query: q} }

// At is an Endpoint at a known position.
func At(p geo.Point) Endpoint { return Endpoint{Point: &p} }

func (e Endpoint) String() string {
	if e.Point != nil {
		return e.Point.String()
	}
	return e.Query
}

// Plan is the outcome of planning a route: the chosen candidate plus what
// it was chosen from.
type Plan struct {
	Route        RouteCandidate `json:"route"`
	Alternatives int            `json:"alternatives"`
	Origin       geo.Point      `json:"origin"`
	Destination  geo.Point      `json:"destination"`
	Mode         SafetyMode     `json:"mode"`
}

// Summary describes the plan's route for display.
func (p *Plan) Summary() RouteSummary {
	return Summarize(&p.Route, p.Alternatives, p.Mode)
}

// Planner resolves endpoints, fetches candidates and picks one.
type Planner struct {
	Geocoder Geocoder
	Router   RoutingProvider
	Log      *slog.Logger
}

// Plan geocodes origin and destination concurrently, asks the routing
// provider for candidates and selects one under mode.
func (p *Planner) Plan(ctx context.Context, origin Endpoint, destination string, mode SafetyMode) (*Plan, error) {
	var from, to geo.Point

	eg, gctx := errgroup.WithContext(ctx)
	if origin.Point != nil {
		from = *origin.Point
	} else {
		eg.Go(func() error {
			var err error
			if from, err = p.Geocoder.Resolve(gctx, origin.Query); err != nil {
				return &GeocodeError{Role: "origin", Query: origin.Query, Err: err}
			}
			return nil
		})
	}
	eg.Go(func() error {
		var err error
		if to, err = p.Geocoder.Resolve(gctx, destination); err != nil {
			return &GeocodeError{Role: "destination", Query: destination, Err: err}
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	candidates, err := p.Router.Routes(ctx, from, to)
	if err != nil {
		return nil, err
	}
	chosen := SelectRoute(candidates, mode)
	if chosen == nil {
		return nil, &RoutingError{Provider: p.Router.Name(), Err: ErrNoRouteFound}
	}

	if p.Log != nil {
		p.Log.Info("route planned",
			slog.String("provider", p.Router.Name()),
			slog.String("origin", from.String()),
			slog.String("destination", to.String()),
			slog.String("mode", string(mode)),
			slog.Int("candidates", len(candidates)),
			slog.Float64("duration_s", chosen.DurationSeconds),
			slog.Float64("distance_m", chosen.DistanceMeters))
	}

	return &Plan{
		Route:        *chosen,
		Alternatives: len(candidates),
		Origin:       from,
		Destination:  to,
		Mode:         mode,
	}, nil
}

// PlanRoute is Plan reduced to the chosen candidate.
func (p *Planner) PlanRoute(ctx context.Context, origin Endpoint, destination string, mode SafetyMode) (*RouteCandidate, error) {
	plan, err := p.Plan(ctx, origin, destination, mode)
	if err != nil {
		return nil, err
	}
	return &plan.Route, nil
}

// Presenter receives everything a journey wants shown. Calls are made with
// the session locked and in event order, so implementations must not call
// back into the Session.
type Presenter interface {
	RoutePlanned(route *RouteCandidate, summary RouteSummary)
	PositionTracked(u track.Update)
	Rerouting(from geo.Point)
	Failed(err error)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	OffRouteThresholdMeters float64
	Mode                    SafetyMode
	Presenter               Presenter
	Log                     *slog.Logger
}

// Session owns one traveler's journey: the tracked route, the live
// position subscription and the automatic reroute loop. Every mutation is
// made under mu, and a journey's fixes are handled by a single goroutine
// in arrival order.
type Session struct {
	Planner

	source    track.PositionSource
	presenter Presenter

	mu           sync.Mutex
	tracker      *track.Tracker
	generation   uint64
	mode         SafetyMode
	destination  string
	route        *RouteCandidate
	alternatives int
	last         track.Update
	reroutes     int
	rerouting    bool
	lastErr      error
}

// NewSession returns an idle session reading fixes from source.
func NewSession(planner Planner, source track.PositionSource, opts SessionOptions) *Session {
	if planner.Log == nil {
		planner.Log = slog.Default()
	}
	mode := opts.Mode
	if !mode.IsValid() {
		mode = DefaultSafetyMode
	}
	return &Session{
		Planner:   planner,
		source:    source,
		presenter: opts.Presenter,
		tracker:   track.NewTracker(opts.OffRouteThresholdMeters),
		mode:      mode,
	}
}

// Follow begins a journey along plan's route. Reroutes head for the plan's
// destination using the plan's mode.
func (s *Session) Follow(ctx context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destination = plan.Destination.String()
	s.mode = plan.Mode
	s.alternatives = plan.Alternatives
	route := plan.Route
	return s.beginLocked(ctx, &route)
}

// BeginJourney starts tracking c and subscribes to the position source,
// superseding any journey in progress. ctx bounds the journey and every
// reroute it triggers. Without a prior Follow, reroutes head for the
// route's last coordinate.
func (s *Session) BeginJourney(ctx context.Context, c *RouteCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c != nil && len(c.Coordinates) > 0 {
		s.destination = c.Coordinates[len(c.Coordinates)-1].String()
	}
	s.alternatives = 0
	return s.beginLocked(ctx, c)
}

func (s *Session) beginLocked(ctx context.Context, c *RouteCandidate) error {
	if c == nil || len(c.Coordinates) < 2 {
		return track.ErrDegenerateRoute
	}

	s.generation++
	gen := s.generation

	// Closing the old subscription first means no fix from it can be
	// applied to the new route.
	s.tracker.Stop()
	if err := s.tracker.Start(c.Coordinates); err != nil {
		return err
	}
	fixes, err := s.tracker.Subscribe(ctx, s.source)
	if err != nil {
		s.tracker.Stop()
		return err
	}

	s.route = c
	s.lastErr = nil
	s.rerouting = false
	s.last = track.Update{Remaining: append([]geo.Point(nil), c.Coordinates...)}

	s.Log.Info("journey started",
		slog.Uint64("generation", gen),
		slog.String("provider", c.Provider),
		slog.Int("points", len(c.Coordinates)))
	if s.presenter != nil {
		s.presenter.RoutePlanned(c, Summarize(c, s.alternatives, s.mode))
	}

	go s.follow(ctx, gen, fixes)
	return nil
}

// follow applies fixes from one subscription until it closes, the journey
// is superseded, or the traveler leaves the route.
func (s *Session) follow(ctx context.Context, gen uint64, fixes <-chan track.Fix) {
	for fix := range fixes {
		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}
		u := s.tracker.Update(fix.Point)
		s.last = u
		if s.presenter != nil {
			s.presenter.PositionTracked(u)
		}
		s.mu.Unlock()

		if u.OffRoute {
			s.reroute(ctx, gen, fix.Point)
			return
		}
	}
}

// reroute plans again from where the traveler is now. The plan is thrown
// away if the session moved on (Stop or a new journey) while it was in
// flight.
func (s *Session) reroute(ctx context.Context, gen uint64, from geo.Point) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen = s.generation
	s.reroutes++
	s.rerouting = true
	destination, mode := s.destination, s.mode
	s.Log.Info("off route, rerouting",
		slog.String("from", from.String()),
		slog.Float64("off_by_m", s.last.OnRouteDistanceMeters),
		slog.Int("reroutes", s.reroutes))
	if s.presenter != nil {
		s.presenter.Rerouting(from)
	}
	s.mu.Unlock()

	plan, err := s.Plan(ctx, At(from), destination, mode)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// Whoever bumped the generation owns the session state now.
		s.Log.Debug("discarding reroute", slog.Any("error", ErrStaleSession), slog.Uint64("generation", gen))
		return
	}
	s.rerouting = false
	if err != nil {
		s.lastErr = err
		s.Log.Warn("reroute failed", slog.Any("error", err))
		if s.presenter != nil {
			s.presenter.Failed(err)
		}
		return
	}

	s.alternatives = plan.Alternatives
	route := plan.Route
	if err := s.beginLocked(ctx, &route); err != nil {
		s.lastErr = fmt.Errorf("starting rerouted journey: %w", err)
		s.Log.Warn("reroute failed", slog.Any("error", s.lastErr))
		if s.presenter != nil {
			s.presenter.Failed(s.lastErr)
		}
	}
}

// Stop ends the journey: tracking stops, the subscription closes and any
// reroute still being planned is discarded when it completes.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.tracker.Stop()
	s.route = nil
	s.rerouting = false
	s.lastErr = nil
	s.last = track.Update{}
}

// Generation is bumped whenever a journey starts, a reroute begins or the
// session stops.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// JourneyStatus is a point-in-time view of a Session.
type JourneyStatus struct {
	State      string          `json:"state"`
	Generation uint64          `json:"generation"`
	Reroutes   int             `json:"reroutes"`
	Mode       SafetyMode      `json:"mode"`
	Route      *RouteCandidate `json:"route,omitempty"`
	Summary    *RouteSummary   `json:"summary,omitempty"`
	Last       track.Update    `json:"last"`
	Error      string          `json:"error,omitempty"`
}

// Status returns the session's current state.
func (s *Session) Status() JourneyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.tracker.State().String()
	switch {
	case s.rerouting:
		state = "rerouting"
	case s.lastErr != nil:
		state = "failed"
	}
	st := JourneyStatus{
		State:      state,
		Generation: s.generation,
		Reroutes:   s.reroutes,
		Mode:       s.mode,
		Last:       s.last,
	}
	if s.route != nil {
		r := *s.route
		sum := Summarize(&r, s.alternatives, s.mode)
		st.Route, st.Summary = &r, &sum
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// IsGeocodeError reports whether err is an unresolved origin/destination.
func IsGeocodeError(err error) bool {
	var gerr *GeocodeError
	return errors.As(err, &gerr)
}
