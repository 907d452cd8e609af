package nav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nwah/lockad-server/geo"
)

type geocoderFunc func(ctx context.Context, query string) (geo.Point, error)

func (f geocoderFunc) Resolve(ctx context.Context, query string) (geo.Point, error) {
	return f(ctx, query)
}

func TestGeocoderChainLiteral(t *testing.T) {
	called := false
	chain := &GeocoderChain{Services: []Geocoder{geocoderFunc(func(context.Context, string) (geo.Point, error) {
		called = true
		return geo.Point{}, nil
	})}}

	p, err := chain.Resolve(context.Background(), " 14.5 , 121.0 ")
	if err != nil {
		t.Fatal(err)
	}
	if p != (geo.Point{Lat: 14.5, Lng: 121.0}) {
		t.Errorf("got %v", p)
	}
	if called {
		t.Error("literal coordinates should not hit a geocoding service")
	}
}

func TestGeocoderChainFallthrough(t *testing.T) {
	psgc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer psgc.Close()

	nominatim := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("q") != "Rizal Park" || r.URL.Query().Get("format") != "json" {
			t.Errorf("unexpected nominatim request %s", r.URL)
		}
		fmt.Fprint(w, `[{"lat":"14.5831","lon":"120.9794","display_name":"Rizal Park"}]`)
	}))
	defer nominatim.Close()

	chain := &GeocoderChain{Services: []Geocoder{
		&PSGC{URL: psgc.URL, Client: psgc.Client()},
		&Nominatim{BaseURL: nominatim.URL, Client: nominatim.Client()},
	}}

	p, err := chain.Resolve(context.Background(), "Rizal Park")
	if err != nil {
		t.Fatal(err)
	}
	if p != (geo.Point{Lat: 14.5831, Lng: 120.9794}) {
		t.Errorf("got %v", p)
	}
}

func TestGeocoderChainNotFound(t *testing.T) {
	nominatim := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer nominatim.Close()

	chain := &GeocoderChain{Services: []Geocoder{&Nominatim{BaseURL: nominatim.URL, Client: nominatim.Client()}}}
	_, err := chain.Resolve(context.Background(), "nowhere at all")

	var noResults *ErrNoResults
	if !errors.As(err, &noResults) || noResults.Query != "nowhere at all" {
		t.Errorf("err = %v, want ErrNoResults", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v should match ErrNotFound", err)
	}
}

func TestPSGCResponses(t *testing.T) {
	cases := []struct {
		name string
		body string
		want geo.Point
		miss bool
	}{
		{name: "array with strings", body: `[{"name":"Quiapo","latitude":"14.5990","longitude":"120.9830"}]`, want: geo.Point{Lat: 14.599, Lng: 120.983}},
		{name: "array with numbers", body: `[{"latitude":14.6,"longitude":121.1}]`, want: geo.Point{Lat: 14.6, Lng: 121.1}},
		{name: "feature collection", body: `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[121.05,14.65]}}]}`, want: geo.Point{Lat: 14.65, Lng: 121.05}},
		{name: "polygon feature uses centre", body: `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[121,14],[121.2,14],[121.2,14.2],[121,14.2],[121,14]]]}}]}`, want: geo.Point{Lat: 14.1, Lng: 121.1}},
		{name: "empty array", body: `[]`, miss: true},
		{name: "array without coordinates", body: `[{"name":"x"}]`, miss: true},
		{name: "empty collection", body: `{"type":"FeatureCollection","features":[]}`, miss: true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("q") != "quiapo" {
					t.Errorf("query = %q", r.URL.Query().Get("q"))
				}
				fmt.Fprint(w, c.body)
			}))
			defer srv.Close()

			p, err := (&PSGC{URL: srv.URL + "/api/search", Client: srv.Client()}).Resolve(context.Background(), "quiapo")
			if c.miss {
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("err = %v, want not found", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := geo.Haversine(p, c.want); diff > 1 {
				t.Errorf("got %v, want %v", p, c.want)
			}
		})
	}
}

func TestNominatimSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "5" || q.Get("addressdetails") != "1" || q.Get("namedetails") != "1" {
			t.Errorf("unexpected search params %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[
			{"lat":"14.5547","lon":"121.0244","importance":0.6,
			 "namedetails":{"name":"Greenbelt"},
			 "address":{"road":"Esperanza Street","city":"Makati","state":"Metro Manila","postcode":"1228","country_code":"PH"}},
			{"lat":"14.5500","lon":"121.0200","display_name":"Somewhere, Makati",
			 "address":{"house_number":"12","road":"Ayala Avenue","town":"Makati"}}
		]`)
	}))
	defer srv.Close()

	results, err := (&Nominatim{BaseURL: srv.URL + "/", Client: srv.Client()}).Search(context.Background(), "greenbelt")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}

	want := GeocodeResult{Name: "Greenbelt", Address: "Esperanza Street, Makati, Metro Manila 1228", Lat: 14.5547, Lng: 121.0244, Importance: 0.6, Country: "ph"}
	if results[0] != want {
		t.Errorf("result 0 = %+v, want %+v", results[0], want)
	}
	if results[1].Name != "12 Ayala Avenue" || results[1].Address != "12 Ayala Avenue, Makati" {
		t.Errorf("result 1 = %+v", results[1])
	}
}

func TestCachedGeocoder(t *testing.T) {
	var calls atomic.Int32
	next := geocoderFunc(func(_ context.Context, q string) (geo.Point, error) {
		calls.Add(1)
		if q == "missing" {
			return geo.Point{}, &ErrNoResults{Query: q}
		}
		return geo.Point{Lat: 1, Lng: 2}, nil
	})
	c := NewCachedGeocoder(next, 8, time.Minute)
	ctx := context.Background()

	for _, q := range []string{"Rizal Park", "rizal  park", "RIZAL PARK"} {
		if p, err := c.Resolve(ctx, q); err != nil || p.Lat != 1 {
			t.Fatalf("Resolve(%q) = %v, %v", q, p, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("upstream called %d times, want 1", calls.Load())
	}

	c.Resolve(ctx, "missing")
	c.Resolve(ctx, "missing")
	if calls.Load() != 3 {
		t.Errorf("misses should not be cached: %d calls", calls.Load())
	}
	if c.Len() != 1 {
		t.Errorf("cache holds %d entries", c.Len())
	}
}
