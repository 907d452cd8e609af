package nav

import "strings"

// SafetyMode picks which candidate route the selector prefers.
type SafetyMode string

const (
	// ModeFastest prefers the shortest duration.
	ModeFastest SafetyMode = "fastest"
	// ModeSafer prefers the route with the most turn-by-turn steps, a
	// stand-in for routes along busier, better-lit streets.
	ModeSafer SafetyMode = "safer"
)

// DefaultSafetyMode is used when no mode is specified.
const DefaultSafetyMode = ModeFastest

// ProviderMode selects which routing provider is used.
type ProviderMode string

const (
	ProviderAuto     ProviderMode = "auto"
	ProviderPremium  ProviderMode = "premium"
	ProviderFallback ProviderMode = "fallback"
)

// FallbackEngine names the free routing engine used as the fallback provider.
type FallbackEngine string

const (
	EngineOSRM     FallbackEngine = "osrm"
	EngineValhalla FallbackEngine = "valhalla"
)

// DistanceUnit represents the unit of measurement for distances
type DistanceUnit string

const (
	UnitKilometers DistanceUnit = "km"
	UnitMiles      DistanceUnit = "mi"
)

// DefaultUnit is the default distance unit if none is specified
const DefaultUnit = UnitKilometers

const metersPerMile = 1609.344

// minORSKeyLength is the shortest string accepted as an ORS API key.
const minORSKeyLength = 9

// IsValid checks if the safety mode is valid
func (m SafetyMode) IsValid() bool {
	switch m {
	case ModeFastest, ModeSafer:
		return true
	default:
		return false
	}
}

// ParseSafetyMode reads a mode name case-insensitively; empty or unknown
// names fall back to DefaultSafetyMode.
func ParseSafetyMode(s string) SafetyMode {
	m := SafetyMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return DefaultSafetyMode
	}
	return m
}

// ParseProviderMode reads a provider mode case-insensitively. The engine
// names "ors" and "osrm" stand for premium and fallback. Anything else is
// returned as given so validation can reject it.
func ParseProviderMode(s string) ProviderMode {
	switch m := ProviderMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "ors":
		return ProviderPremium
	case "osrm":
		return ProviderFallback
	default:
		return m
	}
}

// Label is the human-readable name of the mode.
func (m SafetyMode) Label() string {
	if m == ModeSafer {
		return "Safer route"
	}
	return "Fastest"
}

// Color is the polyline colour the presentation layer draws the route in.
func (m SafetyMode) Color() string {
	if m == ModeSafer {
		return "#36b37e"
	}
	return "#ff7a00"
}

// IsValid checks if the distance unit is valid
func (u DistanceUnit) IsValid() bool {
	switch u {
	case UnitKilometers, UnitMiles:
		return true
	default:
		return false
	}
}

// Convert converts meters into u.
func (u DistanceUnit) Convert(meters float64) float64 {
	if u == UnitMiles {
		return meters / metersPerMile
	}
	return meters / 1000
}
