package nav

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Geocoder that has no match for a query.
	ErrNotFound = errors.New("location not found")
	// ErrNoRouteFound is returned when a provider has no route between
	// two points.
	ErrNoRouteFound = errors.New("no route found")
	// ErrNoAPIKey is returned by the premium provider without a credential.
	ErrNoAPIKey = errors.New("ORS API key not configured")
	// ErrStaleSession marks a planning result that arrived after its
	// journey was stopped or replaced. It is logged, never surfaced.
	ErrStaleSession = errors.New("stale navigation session")
)

// ErrNoResults is returned when no geocoding results are found
type ErrNoResults struct {
	Query string
}

func (e *ErrNoResults) Error() string {
	return fmt.Sprintf("no results found for query: %s", e.Query)
}

func (e *ErrNoResults) Unwrap() error { return ErrNotFound }

// GeocodeError reports an origin or destination that could not be resolved.
type GeocodeError struct {
	Role  string // "origin" or "destination"
	Query string
	Err   error
}

func (e *GeocodeError) Error() string {
	return fmt.Sprintf("unable to find %s %q: %v", e.Role, e.Query, e.Err)
}

func (e *GeocodeError) Unwrap() error { return e.Err }

// RoutingError reports a failed routing provider call.
type RoutingError struct {
	Provider string
	Err      error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("%s routing error: %v", e.Provider, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }
