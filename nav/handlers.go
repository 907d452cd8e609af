package nav

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/nwah/lockad-server/geo"
	"github.com/nwah/lockad-server/track"
)

// Searcher returns ranked place matches for the geocode endpoint.
type Searcher interface {
	Search(ctx context.Context, query string) ([]GeocodeResult, error)
}

// Server serves the /nav endpoints: geocoding, one-shot routing and live
// journeys that reroute as fixes arrive.
type Server struct {
	ctx      context.Context
	planner  *Planner
	searcher Searcher
	cfg      NavConfig
	log      *slog.Logger

	mu       sync.Mutex
	journeys map[uuid.UUID]*journey
}

type journey struct {
	session *Session
	feed    *track.Feed
	cancel  context.CancelFunc
}

// NewServer returns a Server. Journeys live until they are deleted, Close
// is called or ctx is cancelled.
func NewServer(ctx context.Context, planner *Planner, searcher Searcher, cfg NavConfig, log *slog.Logger) *Server {
	return &Server{
		ctx:      ctx,
		planner:  planner,
		searcher: searcher,
		cfg:      cfg,
		log:      log,
		journeys: make(map[uuid.UUID]*journey),
	}
}

// Register adds the /nav routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /nav/geocode", s.handleGeocode)
	mux.HandleFunc("POST /nav/geocode", s.handleGeocodeText)
	mux.HandleFunc("GET /nav/route", s.handleRoute)
	mux.HandleFunc("POST /nav/route", s.handleRouteText)
	mux.HandleFunc("POST /nav/journeys", s.handleStartJourney)
	mux.HandleFunc("GET /nav/journeys/{id}", s.handleJourneyStatus)
	mux.HandleFunc("POST /nav/journeys/{id}/fixes", s.handleFix)
	mux.HandleFunc("DELETE /nav/journeys/{id}", s.handleStopJourney)
}

// Close stops every journey.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.journeys {
		j.stop()
		delete(s.journeys, id)
	}
}

func (j *journey) stop() {
	j.session.Stop()
	j.cancel()
}

// Helper functions for formatting
func formatDuration(seconds float64) string {
	hours := int(seconds / 3600)
	minutes := int((seconds - float64(hours*3600)) / 60)

	if hours > 0 {
		if minutes > 0 {
			return fmt.Sprintf("%dhr %dmin", hours, minutes)
		}
		return fmt.Sprintf("%dhr", hours)
	}
	return fmt.Sprintf("%dmin", minutes)
}

func formatDistance(meters float64, units DistanceUnit) string {
	distance := units.Convert(meters)
	if units == UnitMiles {
		if distance < 0.1 {
			return fmt.Sprintf("%.0fft", distance*5280)
		}
		return fmt.Sprintf("%.1fmi", distance)
	}
	if distance < 1.0 {
		return fmt.Sprintf("%.0fm", meters)
	}
	return fmt.Sprintf("%.1fkm", distance)
}

func writePlainTextRoute(w http.ResponseWriter, route *RouteCandidate, units DistanceUnit) {
	w.Header().Set("Content-Type", "text/plain")

	fmt.Fprintf(w, "%s\n", formatDuration(route.DurationSeconds))
	fmt.Fprintf(w, "%s\n", formatDistance(route.DistanceMeters, units))
	fmt.Fprintf(w, "%d\n", len(route.Steps))

	// The arrival step has no distance worth printing.
	for i, step := range route.Steps {
		if i < len(route.Steps)-1 {
			fmt.Fprintf(w, "%s (%s)\n", step.Text, formatDistance(step.DistanceMeters, units))
		} else {
			fmt.Fprintf(w, "%s\n", step.Text)
		}
	}
}

func writePlainTextError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "\n\n0\n%s\n", message)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

// planStatus maps a planning failure to an HTTP status.
func planStatus(err error) int {
	switch {
	case IsGeocodeError(err), errors.Is(err, ErrNoRouteFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

///////////////////////////////////////////////////////////////////////////
// Geocoding

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	results, err := s.searcher.Search(r.Context(), query)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Warn("geocode failed", slog.String("query", query), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.log.Debug("geocode", slog.String("query", query), slog.Int("results", len(results)))
	writeJSON(w, http.StatusOK, results)
}

// handleGeocodeText takes the query as the request body and answers in
// plain text: a count line, then four lines per result.
func (s *Server) handleGeocodeText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	query := strings.TrimSpace(string(body))
	if query == "" {
		writeError(w, http.StatusBadRequest, "request body cannot be empty")
		return
	}

	results, err := s.searcher.Search(r.Context(), query)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "%d\n", len(results))
	for _, result := range results {
		fmt.Fprintf(w, "%.4f,%.4f\n%s\n%s\n%s\n", result.Lat, result.Lng, result.Name, result.Address, result.Country)
	}
}

///////////////////////////////////////////////////////////////////////////
// Routing

// RouteResponse is the JSON answer to GET /nav/route.
type RouteResponse struct {
	Summary     RouteSummary               `json:"summary"`
	Text        string                     `json:"text"`
	Headline    string                     `json:"headline"`
	Origin      geo.Point                  `json:"origin"`
	Destination geo.Point                  `json:"destination"`
	Units       DistanceUnit               `json:"units"`
	Distance    float64                    `json:"distance"` // in Units
	Duration    float64                    `json:"duration"` // seconds
	Steps       []StepInstruction          `json:"steps"`
	GeoJSON     *geojson.FeatureCollection `json:"geojson"`
}

func newRouteResponse(plan *Plan, units DistanceUnit) RouteResponse {
	sum := plan.Summary()
	fc := geojson.NewFeatureCollection()
	if f := geo.LineFeature("route", plan.Route.Coordinates); f != nil {
		f.Properties["color"] = sum.Color
		fc.Append(f)
	}
	fc.Append(geo.PointFeature("origin", plan.Origin))
	fc.Append(geo.PointFeature("destination", plan.Destination))

	return RouteResponse{
		Summary:     sum,
		Text:        sum.String(),
		Headline:    sum.Headline(),
		Origin:      plan.Origin,
		Destination: plan.Destination,
		Units:       units,
		Distance:    units.Convert(plan.Route.DistanceMeters),
		Duration:    plan.Route.DurationSeconds,
		Steps:       plan.Route.Steps,
		GeoJSON:     fc,
	}
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := strings.TrimSpace(q.Get("from"))
	to := strings.TrimSpace(q.Get("to"))
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "both 'from' and 'to' parameters are required")
		return
	}

	mode := s.cfg.SafetyMode
	if m := q.Get("mode"); m != "" {
		mode = SafetyMode(strings.ToLower(m))
		if !mode.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid mode. Must be one of: %s, %s", ModeFastest, ModeSafer))
			return
		}
	}

	units := DefaultUnit
	if u := q.Get("units"); u != "" {
		units = DistanceUnit(strings.ToLower(u))
		if !units.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid units. Must be one of: %s, %s", UnitKilometers, UnitMiles))
			return
		}
	}

	plan, err := s.planner.Plan(r.Context(), Query(from), to, mode)
	if err != nil {
		writeError(w, planStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newRouteResponse(plan, units))
}

// handleRouteText reads mode, units, from and to as four lines and answers
// with the plain-text route. Errors come back in the same shape with a
// zero step count.
func (s *Server) handleRouteText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writePlainTextError(w, "failed to read request body")
		return
	}

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) < 4 {
		writePlainTextError(w, "request must contain at least 4 lines")
		return
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(strings.TrimRight(lines[i], "\r"))
	}

	mode := ParseSafetyMode(lines[0])
	units := DistanceUnit(strings.ToLower(lines[1]))
	if !units.IsValid() {
		units = DefaultUnit
	}
	from, to := lines[2], lines[3]
	if from == "" || to == "" {
		writePlainTextError(w, "both origin and destination are required")
		return
	}

	route, err := s.planner.PlanRoute(r.Context(), Query(from), to, mode)
	if err != nil {
		writePlainTextError(w, err.Error())
		return
	}
	writePlainTextRoute(w, route, units)
}

///////////////////////////////////////////////////////////////////////////
// Journeys

// JourneyRequest starts a journey.
type JourneyRequest struct {
	From string     `json:"from"`
	To   string     `json:"to"`
	Mode SafetyMode `json:"mode"`
}

// JourneyResponse describes a journey and its progress along the route.
type JourneyResponse struct {
	ID uuid.UUID `json:"id"`
	JourneyStatus
	Text     string                     `json:"text,omitempty"`
	Progress *geojson.FeatureCollection `json:"progress"`
}

// FixRequest is one position report for a journey.
type FixRequest struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

func newJourneyResponse(id uuid.UUID, st JourneyStatus) JourneyResponse {
	fc := geojson.NewFeatureCollection()
	for _, f := range []*geojson.Feature{
		geo.LineFeature("traveled", st.Last.Traveled),
		geo.LineFeature("remaining", st.Last.Remaining),
	} {
		if f != nil {
			fc.Append(f)
		}
	}
	if len(st.Last.Traveled) > 0 {
		fc.Append(geo.PointFeature("position", st.Last.Position))
	}

	resp := JourneyResponse{ID: id, JourneyStatus: st, Progress: fc}
	if st.Summary != nil {
		resp.Text = st.Summary.String()
	}
	return resp
}

func (s *Server) lookup(r *http.Request) (uuid.UUID, *journey, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.journeys[id]
	return id, j, ok
}

func (s *Server) handleStartJourney(w http.ResponseWriter, r *http.Request) {
	var req JourneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid journey request: "+err.Error())
		return
	}
	req.From, req.To = strings.TrimSpace(req.From), strings.TrimSpace(req.To)
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "both 'from' and 'to' are required")
		return
	}
	if req.Mode == "" {
		req.Mode = s.cfg.SafetyMode
	}
	if !req.Mode.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid mode. Must be one of: %s, %s", ModeFastest, ModeSafer))
		return
	}

	plan, err := s.planner.Plan(r.Context(), Query(req.From), req.To, req.Mode)
	if err != nil {
		writeError(w, planStatus(err), err.Error())
		return
	}

	id := uuid.New()
	log := s.log.With(slog.String("journey", id.String()))
	planner := *s.planner
	planner.Log = log
	feed := track.NewFeed(32)
	session := NewSession(planner, feed, SessionOptions{
		OffRouteThresholdMeters: s.cfg.OffRouteThresholdMeters,
		Mode:                    req.Mode,
		Presenter:               &LogPresenter{Log: log},
		Log:                     log,
	})

	ctx, cancel := context.WithCancel(s.ctx)
	if err := session.Follow(ctx, plan); err != nil {
		cancel()
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.mu.Lock()
	s.journeys[id] = &journey{session: session, feed: feed, cancel: cancel}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, newJourneyResponse(id, session.Status()))
}

func (s *Server) handleJourneyStatus(w http.ResponseWriter, r *http.Request) {
	id, j, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "journey not found")
		return
	}
	writeJSON(w, http.StatusOK, newJourneyResponse(id, j.session.Status()))
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	_, j, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "journey not found")
		return
	}

	var req FixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid fix: "+err.Error())
		return
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180 {
		writeError(w, http.StatusBadRequest, "fix coordinates out of range")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	// Fixes arriving while a reroute is being planned have no subscriber
	// and are dropped.
	accepted := j.feed.Push(track.Fix{
		Point:     geo.Point{Lat: req.Lat, Lng: req.Lng},
		Accuracy:  req.Accuracy,
		Timestamp: req.Timestamp,
	})
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}

func (s *Server) handleStopJourney(w http.ResponseWriter, r *http.Request) {
	id, j, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, "journey not found")
		return
	}

	s.mu.Lock()
	delete(s.journeys, id)
	s.mu.Unlock()

	j.stop()
	w.WriteHeader(http.StatusNoContent)
}

// LogPresenter shows a journey's events in the log.
type LogPresenter struct {
	Log *slog.Logger
}

func (p *LogPresenter) RoutePlanned(route *RouteCandidate, summary RouteSummary) {
	p.Log.Info("route ready", slog.String("summary", summary.String()))
}

func (p *LogPresenter) PositionTracked(u track.Update) {
	p.Log.Debug("position tracked",
		slog.String("position", u.Position.String()),
		slog.Int("index", u.Index),
		slog.Float64("off_by_m", u.OnRouteDistanceMeters),
		slog.Bool("off_route", u.OffRoute))
}

func (p *LogPresenter) Rerouting(from geo.Point) {
	p.Log.Info("rerouting", slog.String("from", from.String()))
}

func (p *LogPresenter) Failed(err error) {
	p.Log.Error("journey failed", slog.Any("error", err))
}
