package nav

import (
	"fmt"
	"math"
	"strings"
)

// RouteSummary is the plain-data description of a chosen route that the
// presentation layer shows next to the map.
type RouteSummary struct {
	Provider     string  `json:"provider"`
	Alternatives int     `json:"alternatives,omitempty"`
	DistanceKm   float64 `json:"distanceKm"`
	DurationMin  int     `json:"durationMin"`
	Steps        int     `json:"steps"`
	Label        string  `json:"label"`
	Color        string  `json:"color"`
}

// Summarize describes c as chosen under mode from a set of alternatives
// candidates. Only ORS asks for alternative routes, so the count is kept
// for ORS results alone.
func Summarize(c *RouteCandidate, alternatives int, mode SafetyMode) RouteSummary {
	s := RouteSummary{
		Provider:    c.Provider,
		DistanceKm:  c.DistanceMeters / 1000,
		DurationMin: int(math.Round(c.DurationSeconds / 60)),
		Steps:       c.StepCount,
		Label:       mode.Label(),
		Color:       mode.Color(),
	}
	if c.Provider == "ors" {
		s.Alternatives = alternatives
	}
	return s
}

// String renders the diagnostics line, e.g.
// "Provider: ors · Alternatives: 3 · Distance: 1.20 km · Duration: 5 min · Steps (approx): 7".
func (s RouteSummary) String() string {
	info := []string{"Provider: " + s.Provider}
	if s.Alternatives > 0 {
		info = append(info, fmt.Sprintf("Alternatives: %d", s.Alternatives))
	}
	info = append(info,
		fmt.Sprintf("Distance: %.2f km", s.DistanceKm),
		fmt.Sprintf("Duration: %d min", s.DurationMin),
		fmt.Sprintf("Steps (approx): %d", s.Steps))
	return strings.Join(info, " · ")
}

// Headline is the short "12 min · 1.0 km — Fastest" banner.
func (s RouteSummary) Headline() string {
	return fmt.Sprintf("%d min · %.1f km — %s", s.DurationMin, s.DistanceKm, s.Label)
}
