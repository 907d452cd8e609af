package nav

import (
	"time"

	"github.com/nwah/lockad-server/geo"
)

// NavConfig holds navigation-specific configuration
type NavConfig struct {
	NominatimURL string `toml:"nominatim_url" yaml:"nominatim_url" validate:"required,url"`
	PSGCURL      string `toml:"psgc_url" yaml:"psgc_url" validate:"omitempty,url"`

	RoutingProvider  ProviderMode   `toml:"routing_provider" yaml:"routing_provider" validate:"oneof=auto premium fallback"`
	FallbackProvider FallbackEngine `toml:"fallback_provider" yaml:"fallback_provider" validate:"oneof=osrm valhalla"`
	ORSURL           string         `toml:"ors_url" yaml:"ors_url" validate:"required,url"`
	ORSAPIKey        string         `toml:"ors_api_key" yaml:"ors_api_key"`
	OSRMURL          string         `toml:"osrm_url" yaml:"osrm_url" validate:"required,url"`
	ValhallaURL      string         `toml:"valhalla_url" yaml:"valhalla_url" validate:"required,url"`

	OffRouteThresholdMeters float64    `toml:"off_route_threshold_meters" yaml:"off_route_threshold_meters" validate:"gt=0"`
	SafetyMode              SafetyMode `toml:"safety_mode" yaml:"safety_mode" validate:"oneof=fastest safer"`

	GeocodeCacheSize       int `toml:"geocode_cache_size" yaml:"geocode_cache_size" validate:"gte=0"`
	GeocodeCacheTTLSeconds int `toml:"geocode_cache_ttl_seconds" yaml:"geocode_cache_ttl_seconds" validate:"gte=0"`
	HTTPTimeoutSeconds     int `toml:"http_timeout_seconds" yaml:"http_timeout_seconds" validate:"gt=0"`
}

// HTTPTimeout returns the timeout for calls to external services.
func (c NavConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// StepInstruction is one turn-by-turn step of a route.
type StepInstruction struct {
	Text            string  `json:"text"`
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// RouteCandidate is one route a provider offered between two points,
// normalized from whatever shape the provider returned.
type RouteCandidate struct {
	Coordinates     []geo.Point       `json:"coordinates"`
	DistanceMeters  float64           `json:"distanceMeters"`
	DurationSeconds float64           `json:"durationSeconds"`
	StepCount       int               `json:"stepCount"`
	Steps           []StepInstruction `json:"steps"`
	Provider        string            `json:"provider"`
}

// GeocodeResult is one hit from a named-place search.
type GeocodeResult struct {
	Name       string  `json:"name"`    // Place name or street address
	Address    string  `json:"address"` // Simplified address (street, city, state)
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Importance float64 `json:"importance"` // Relevance score from 0 to 1
	Country    string  `json:"country"`    // Two-letter ISO country code
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
