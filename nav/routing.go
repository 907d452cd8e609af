package nav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nwah/lockad-server/geo"
)

// RoutingProvider returns the candidate walking routes between two points.
// A successful call always yields at least one candidate; an empty answer
// is reported as ErrNoRouteFound.
type RoutingProvider interface {
	Name() string
	Routes(ctx context.Context, origin, destination geo.Point) ([]RouteCandidate, error)
}

// NewRoutingProvider builds the provider cfg asks for. "auto" uses ORS when
// a plausible key is configured, and the free engine otherwise; "premium"
// without a key also falls back, with a warning.
func NewRoutingProvider(cfg NavConfig, client *http.Client, log *slog.Logger) RoutingProvider {
	fallback := newFallbackProvider(cfg, client)
	premium := &ORS{BaseURL: cfg.ORSURL, APIKey: cfg.ORSAPIKey, Client: client}

	switch cfg.RoutingProvider {
	case ProviderFallback:
		return fallback
	case ProviderPremium:
		if !hasORSKey(cfg.ORSAPIKey) {
			log.Warn("premium routing requested but ORS key missing, using fallback",
				slog.String("fallback", fallback.Name()))
			return fallback
		}
		return premium
	default:
		if hasORSKey(cfg.ORSAPIKey) {
			return premium
		}
		return fallback
	}
}

// ActiveProviderDescription is the status line shown for the provider cfg
// selects.
func ActiveProviderDescription(cfg NavConfig) string {
	engine := strings.ToUpper(string(cfg.FallbackProvider))
	if cfg.FallbackProvider == EngineValhalla {
		engine = "Valhalla"
	}
	switch {
	case cfg.RoutingProvider != ProviderFallback && hasORSKey(cfg.ORSAPIKey):
		return "OpenRouteService (ORS)"
	case cfg.RoutingProvider == ProviderPremium:
		return engine + " (ORS key missing)"
	default:
		return engine + " (fallback)"
	}
}

func hasORSKey(key string) bool {
	return len(key) >= minORSKeyLength
}

func newFallbackProvider(cfg NavConfig, client *http.Client) RoutingProvider {
	if cfg.FallbackProvider == EngineValhalla {
		return &Valhalla{BaseURL: cfg.ValhallaURL, Client: client}
	}
	return &OSRM{BaseURL: cfg.OSRMURL, Client: client}
}

// routingErr wraps a provider failure, leaving ErrNoRouteFound and context
// errors recognizable through errors.Is.
func routingErr(provider string, err error) error {
	var rerr *RoutingError
	if errors.As(err, &rerr) {
		return err
	}
	return &RoutingError{Provider: provider, Err: err}
}

///////////////////////////////////////////////////////////////////////////
// OpenRouteService

// ORS is the premium provider: OpenRouteService foot-walking directions,
// asking for up to three alternatives.
type ORS struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type orsAlternatives struct {
	TargetCount  int     `json:"target_count"`
	ShareFactor  float64 `json:"share_factor"`
	WeightFactor float64 `json:"weight_factor"`
}

type orsRequest struct {
	Coordinates       [][2]float64    `json:"coordinates"`
	Instructions      bool            `json:"instructions"`
	AlternativeRoutes orsAlternatives `json:"alternative_routes"`
}

type orsSummary struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
}

type orsStep struct {
	Instruction string  `json:"instruction"`
	Distance    float64 `json:"distance"`
	Duration    float64 `json:"duration"`
}

type orsFeature struct {
	Geometry struct {
		Coordinates [][]float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		Summary  *orsSummary `json:"summary"`
		Distance *float64    `json:"distance"`
		Duration *float64    `json:"duration"`
		Segments []struct {
			Steps []orsStep `json:"steps"`
		} `json:"segments"`
	} `json:"properties"`
}

type orsResponse struct {
	Features []orsFeature `json:"features"`
}

func (o *ORS) Name() string { return "ors" }

func (o *ORS) Routes(ctx context.Context, origin, destination geo.Point) ([]RouteCandidate, error) {
	if !hasORSKey(o.APIKey) {
		return nil, routingErr(o.Name(), ErrNoAPIKey)
	}

	body := orsRequest{
		Coordinates:  [][2]float64{{origin.Lng, origin.Lat}, {destination.Lng, destination.Lat}},
		Instructions: true,
		AlternativeRoutes: orsAlternatives{
			TargetCount:  3,
			ShareFactor:  0.6,
			WeightFactor: 1.4,
		},
	}
	endpoint := strings.TrimRight(o.BaseURL, "/") + "/v2/directions/foot-walking/geojson"
	header := http.Header{"Authorization": {o.APIKey}}

	var resp orsResponse
	if err := postJSON(ctx, o.Client, endpoint, "ORS", header, body, &resp); err != nil {
		return nil, routingErr(o.Name(), err)
	}
	if len(resp.Features) == 0 {
		return nil, routingErr(o.Name(), ErrNoRouteFound)
	}

	var out []RouteCandidate
	for _, f := range resp.Features {
		c := orsCandidate(f)
		if len(c.Coordinates) >= 2 {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, routingErr(o.Name(), ErrNoRouteFound)
	}
	return out, nil
}

// orsCandidate normalizes one feature. Totals come from the summary when
// present, else from the top-level properties.
func orsCandidate(f orsFeature) RouteCandidate {
	c := RouteCandidate{Provider: "ors"}
	switch {
	case f.Properties.Summary != nil:
		c.DistanceMeters = f.Properties.Summary.Distance
		c.DurationSeconds = f.Properties.Summary.Duration
	default:
		if f.Properties.Distance != nil {
			c.DistanceMeters = *f.Properties.Distance
		}
		if f.Properties.Duration != nil {
			c.DurationSeconds = *f.Properties.Duration
		}
	}

	for _, seg := range f.Properties.Segments {
		for _, s := range seg.Steps {
			c.Steps = append(c.Steps, StepInstruction{Text: s.Instruction, DistanceMeters: s.Distance, DurationSeconds: s.Duration})
		}
	}
	c.StepCount = len(c.Steps)

	for _, xy := range f.Geometry.Coordinates {
		if p, ok := geo.FromLngLat(xy); ok {
			c.Coordinates = append(c.Coordinates, p)
		}
	}
	return c
}

///////////////////////////////////////////////////////////////////////////
// OSRM

// OSRM is the free fallback provider: the OSRM foot profile with
// alternatives and steps.
type OSRM struct {
	BaseURL string
	Client  *http.Client
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Name     string  `json:"name"`
	Maneuver struct {
		Type     string `json:"type"`
		Modifier string `json:"modifier"`
	} `json:"maneuver"`
}

type osrmRoute struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Geometry struct {
		Coordinates [][]float64 `json:"coordinates"`
	} `json:"geometry"`
	Legs []struct {
		Steps []osrmStep `json:"steps"`
	} `json:"legs"`
}

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

func (o *OSRM) Name() string { return "osrm" }

func (o *OSRM) Routes(ctx context.Context, origin, destination geo.Point) ([]RouteCandidate, error) {
	apiURL := fmt.Sprintf("%s/route/v1/foot/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson&alternatives=true&steps=true",
		strings.TrimRight(o.BaseURL, "/"), origin.Lng, origin.Lat, destination.Lng, destination.Lat)

	var resp osrmResponse
	if err := getJSON(ctx, o.Client, apiURL, "OSRM", &resp); err != nil {
		var serr *statusError
		// OSRM answers "NoRoute" with a 400.
		if errors.As(err, &serr) && strings.Contains(serr.Body, `"NoRoute"`) {
			return nil, routingErr(o.Name(), ErrNoRouteFound)
		}
		return nil, routingErr(o.Name(), err)
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return nil, routingErr(o.Name(), fmt.Errorf("%w (code %q)", ErrNoRouteFound, resp.Code))
	}

	var out []RouteCandidate
	for _, r := range resp.Routes {
		c := RouteCandidate{
			Provider:        "osrm",
			DistanceMeters:  r.Distance,
			DurationSeconds: r.Duration,
		}
		for _, leg := range r.Legs {
			for _, s := range leg.Steps {
				c.Steps = append(c.Steps, StepInstruction{Text: osrmInstruction(s), DistanceMeters: s.Distance, DurationSeconds: s.Duration})
			}
		}
		c.StepCount = len(c.Steps)
		for _, xy := range r.Geometry.Coordinates {
			if p, ok := geo.FromLngLat(xy); ok {
				c.Coordinates = append(c.Coordinates, p)
			}
		}
		if len(c.Coordinates) >= 2 {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, routingErr(o.Name(), ErrNoRouteFound)
	}
	return out, nil
}

// osrmInstruction renders a step the way the maneuver reads aloud, e.g.
// "Turn left onto Roxas Boulevard".
func osrmInstruction(s osrmStep) string {
	var verb string
	switch s.Maneuver.Type {
	case "depart":
		verb = "Head"
		if s.Maneuver.Modifier != "" {
			verb += " " + s.Maneuver.Modifier
		}
	case "arrive":
		return "Arrive at destination"
	case "turn", "end of road", "fork":
		verb = "Turn " + s.Maneuver.Modifier
	case "continue", "new name":
		verb = "Continue"
		if s.Maneuver.Modifier != "" && s.Maneuver.Modifier != "straight" {
			verb += " " + s.Maneuver.Modifier
		}
	case "roundabout", "rotary":
		verb = "Enter the roundabout"
	default:
		verb = capitalize(s.Maneuver.Type) + " " + s.Maneuver.Modifier
	}
	verb = strings.TrimSpace(verb)
	if s.Name != "" {
		return verb + " onto " + s.Name
	}
	return verb
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

///////////////////////////////////////////////////////////////////////////
// Valhalla

// Valhalla is the alternative free provider, using pedestrian costing and
// asking for up to two alternates.
type Valhalla struct {
	BaseURL string
	Client  *http.Client
}

type valhallaLocation struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Type string  `json:"type"`
}

type valhallaRequest struct {
	Locations  []valhallaLocation `json:"locations"`
	Costing    string             `json:"costing"`
	Units      string             `json:"units"`
	Alternates int                `json:"alternates,omitempty"`
}

type valhallaManeuver struct {
	Type        int     `json:"type"`
	Instruction string  `json:"instruction"`
	Length      float64 `json:"length"` // kilometers
	Time        float64 `json:"time"`   // seconds
}

type valhallaTrip struct {
	Legs []struct {
		Maneuvers []valhallaManeuver `json:"maneuvers"`
		Shape     string             `json:"shape"`
	} `json:"legs"`
	Summary struct {
		Time   float64 `json:"time"`
		Length float64 `json:"length"` // kilometers
	} `json:"summary"`
}

type valhallaResponse struct {
	Trip       valhallaTrip `json:"trip"`
	Alternates []struct {
		Trip valhallaTrip `json:"trip"`
	} `json:"alternates"`
}

// valhallaNoRoute is Valhalla's "no path could be found" error code.
const valhallaNoRoute = 442

func (v *Valhalla) Name() string { return "valhalla" }

func (v *Valhalla) Routes(ctx context.Context, origin, destination geo.Point) ([]RouteCandidate, error) {
	req := valhallaRequest{
		Locations: []valhallaLocation{
			{Lat: origin.Lat, Lon: origin.Lng, Type: "break"},
			{Lat: destination.Lat, Lon: destination.Lng, Type: "break"},
		},
		Costing:    "pedestrian",
		Units:      "kilometers",
		Alternates: 2,
	}

	var resp valhallaResponse
	endpoint := strings.TrimRight(v.BaseURL, "/") + "/route"
	if err := postJSON(ctx, v.Client, endpoint, "valhalla", nil, req, &resp); err != nil {
		var serr *statusError
		if errors.As(err, &serr) && strings.Contains(serr.Body, fmt.Sprintf(`"error_code":%d`, valhallaNoRoute)) {
			return nil, routingErr(v.Name(), ErrNoRouteFound)
		}
		return nil, routingErr(v.Name(), err)
	}

	trips := []valhallaTrip{resp.Trip}
	for _, alt := range resp.Alternates {
		trips = append(trips, alt.Trip)
	}

	var out []RouteCandidate
	for _, trip := range trips {
		c, err := valhallaCandidate(trip)
		if err != nil {
			return nil, routingErr(v.Name(), err)
		}
		if len(c.Coordinates) >= 2 {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, routingErr(v.Name(), ErrNoRouteFound)
	}
	return out, nil
}

func valhallaCandidate(trip valhallaTrip) (RouteCandidate, error) {
	c := RouteCandidate{
		Provider:        "valhalla",
		DistanceMeters:  trip.Summary.Length * 1000,
		DurationSeconds: trip.Summary.Time,
	}
	for _, leg := range trip.Legs {
		for _, m := range leg.Maneuvers {
			c.Steps = append(c.Steps, StepInstruction{
				Text:            strings.TrimSuffix(m.Instruction, "."),
				DistanceMeters:  m.Length * 1000,
				DurationSeconds: m.Time,
			})
		}
		// Valhalla shapes are polyline6.
		pts, err := geo.DecodePolyline(leg.Shape, 6)
		if err != nil {
			return RouteCandidate{}, fmt.Errorf("decoding shape: %w", err)
		}
		if n := len(c.Coordinates); n > 0 && len(pts) > 0 && c.Coordinates[n-1] == pts[0] {
			pts = pts[1:]
		}
		c.Coordinates = append(c.Coordinates, pts...)
	}
	c.StepCount = len(c.Steps)
	return c, nil
}
