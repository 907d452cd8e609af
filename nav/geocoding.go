package nav

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/nwah/lockad-server/geo"
)

// Geocoder turns a free-text query into a position. Implementations
// return an error wrapping ErrNotFound when they have no match.
type Geocoder interface {
	Resolve(ctx context.Context, query string) (geo.Point, error)
}

// GeocoderChain resolves literal "lat,lng" queries directly and otherwise
// asks each service in turn, returning the first hit.
type GeocoderChain struct {
	Services []Geocoder
	Log      *slog.Logger
}

func (c *GeocoderChain) Resolve(ctx context.Context, query string) (geo.Point, error) {
	query = strings.TrimSpace(query)
	if geo.IsLatLng(query) {
		return geo.ParseLatLng(query)
	}

	for _, svc := range c.Services {
		p, err := svc.Resolve(ctx, query)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return geo.Point{}, ctx.Err()
		}
		if !errors.Is(err, ErrNotFound) && c.Log != nil {
			c.Log.Warn("geocoder lookup failed", slog.String("geocoder", fmt.Sprintf("%T", svc)),
				slog.String("query", query), slog.Any("error", err))
		}
	}
	return geo.Point{}, &ErrNoResults{Query: query}
}

// CachedGeocoder memoizes another Geocoder's hits for a limited time.
// Misses are not cached.
type CachedGeocoder struct {
	next  Geocoder
	cache *expirable.LRU[string, geo.Point]
}

func NewCachedGeocoder(next Geocoder, size int, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		next:  next,
		cache: expirable.NewLRU[string, geo.Point](size, nil, ttl),
	}
}

func (c *CachedGeocoder) Resolve(ctx context.Context, query string) (geo.Point, error) {
	key := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if p, ok := c.cache.Get(key); ok {
		return p, nil
	}
	p, err := c.next.Resolve(ctx, query)
	if err != nil {
		return geo.Point{}, err
	}
	c.cache.Add(key, p)
	return p, nil
}

// Len returns the number of cached queries.
func (c *CachedGeocoder) Len() int { return c.cache.Len() }

///////////////////////////////////////////////////////////////////////////
// Nominatim

// Nominatim geocodes against an OpenStreetMap Nominatim server.
type Nominatim struct {
	BaseURL string
	Client  *http.Client
}

type nominatimAddress struct {
	HouseNumber string `json:"house_number"`
	Road        string `json:"road"`
	Suburb      string `json:"suburb"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	County      string `json:"county"`
	State       string `json:"state"`
	PostCode    string `json:"postcode"`
	Name        string `json:"name"`
	Country     string `json:"country_code"` // Two-letter ISO country code
}

type nominatimNameDetails struct {
	Name     string `json:"name"`
	Official string `json:"official_name"`
	Alt      string `json:"alt_name"`
}

type nominatimResponse struct {
	DisplayName string               `json:"display_name"`
	NameDetails nominatimNameDetails `json:"namedetails"`
	Lat         string               `json:"lat"`
	Lon         string               `json:"lon"`
	Address     nominatimAddress     `json:"address"`
	Importance  float64              `json:"importance"`
}

func (n *Nominatim) query(ctx context.Context, query string, limit int, details bool) ([]nominatimResponse, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {strconv.Itoa(limit)},
	}
	if details {
		params.Set("addressdetails", "1")
		params.Set("namedetails", "1")
	}
	apiURL := fmt.Sprintf("%s/search?%s", strings.TrimRight(n.BaseURL, "/"), params.Encode())

	var results []nominatimResponse
	if err := getJSON(ctx, n.Client, apiURL, "nominatim", &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &ErrNoResults{Query: query}
	}
	return results, nil
}

func (n *Nominatim) Resolve(ctx context.Context, query string) (geo.Point, error) {
	results, err := n.query(ctx, query, 1, false)
	if err != nil {
		return geo.Point{}, err
	}
	return parseLatLon(results[0].Lat, results[0].Lon)
}

// Search returns up to five named matches for query, for people picking a
// destination from a list.
func (n *Nominatim) Search(ctx context.Context, query string) ([]GeocodeResult, error) {
	nominatimResults, err := n.query(ctx, query, 5, true)
	if err != nil {
		return nil, err
	}

	results := make([]GeocodeResult, len(nominatimResults))
	for i, result := range nominatimResults {
		p, err := parseLatLon(result.Lat, result.Lon)
		if err != nil {
			return nil, err
		}

		name, addr, country := formatAddress(result.Address, result.NameDetails)
		if name == "" {
			name = result.DisplayName
		}
		results[i] = GeocodeResult{
			Name:       name,
			Address:    addr,
			Lat:        p.Lat,
			Lng:        p.Lng,
			Importance: result.Importance,
			Country:    country,
		}
	}
	return results, nil
}

func parseLatLon(lat, lon string) (geo.Point, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("error parsing latitude: %w", err)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("error parsing longitude: %w", err)
	}
	return geo.Point{Lat: la, Lng: lo}, nil
}

// formatAddress picks a display name and builds a short
// "street, locality, province" address from Nominatim's components.
func formatAddress(addr nominatimAddress, nd nominatimNameDetails) (name, formatted, country string) {
	name = firstNonEmpty(nd.Official, nd.Name, nd.Alt, addr.Name)
	locality := firstNonEmpty(addr.City, addr.Town, addr.Village, addr.Suburb, addr.County)

	street := strings.TrimSpace(addr.HouseNumber + " " + addr.Road)
	if name == "" {
		name = street
	}

	var parts []string
	for _, p := range []string{street, locality, strings.TrimSpace(addr.State + " " + addr.PostCode)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return name, strings.Join(parts, ", "), strings.ToLower(addr.Country)
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}

///////////////////////////////////////////////////////////////////////////
// PSGC

// PSGC geocodes against a Philippine Standard Geographic Code lookup
// service. It answers either with a JSON array of places carrying
// latitude/longitude, or with a GeoJSON FeatureCollection.
type PSGC struct {
	URL    string
	Client *http.Client
}

// looseFloat accepts a JSON number or a numeric string.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = looseFloat(v)
	return nil
}

type psgcPlace struct {
	Latitude  looseFloat `json:"latitude"`
	Longitude looseFloat `json:"longitude"`
}

func (g *PSGC) Resolve(ctx context.Context, query string) (geo.Point, error) {
	sep := "?"
	if strings.Contains(g.URL, "?") {
		sep = "&"
	}
	apiURL := g.URL + sep + url.Values{"q": {query}}.Encode()

	var raw json.RawMessage
	if err := getJSON(ctx, g.Client, apiURL, "psgc", &raw); err != nil {
		return geo.Point{}, err
	}
	return decodePSGC(raw, query)
}

func decodePSGC(raw []byte, query string) (geo.Point, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var places []psgcPlace
		if err := json.Unmarshal(raw, &places); err != nil {
			return geo.Point{}, fmt.Errorf("error decoding psgc places: %w", err)
		}
		if len(places) > 0 && places[0].Latitude != 0 && places[0].Longitude != 0 {
			return geo.Point{Lat: float64(places[0].Latitude), Lng: float64(places[0].Longitude)}, nil
		}
		return geo.Point{}, &ErrNoResults{Query: query}
	}

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return geo.Point{}, fmt.Errorf("error decoding psgc features: %w", err)
	}
	if len(fc.Features) > 0 && fc.Features[0].Geometry != nil {
		if pt, ok := fc.Features[0].Geometry.(orb.Point); ok {
			return geo.Point{Lat: pt.Lat(), Lng: pt.Lon()}, nil
		}
		// Anything else (e.g. a barangay polygon): use its centre.
		c := fc.Features[0].Geometry.Bound().Center()
		return geo.Point{Lat: c.Lat(), Lng: c.Lon()}, nil
	}
	return geo.Point{}, &ErrNoResults{Query: query}
}
