package geo

import (
	"math"
	"testing"
)

func TestParseLatLng(t *testing.T) {
	cases := []struct {
		in      string
		want    Point
		wantErr bool
	}{
		{in: "14.5,121.0", want: Point{14.5, 121.0}},
		{in: " 14.599500 , 120.984200 ", want: Point{14.5995, 120.9842}},
		{in: "-33.8688,151.2093", want: Point{-33.8688, 151.2093}},
		{in: "14.5", wantErr: true},
		{in: "abc,121", wantErr: true},
		{in: "14.5,xyz", wantErr: true},
		{in: "91,0", wantErr: true},
		{in: "0,181", wantErr: true},
	}

	for _, c := range cases {
		got, err := ParseLatLng(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseLatLng(%q) = %v, expected error", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLatLng(%q): %v", c.in, err)
			continue
		}
		if math.Abs(got.Lat-c.want.Lat) > 1e-9 || math.Abs(got.Lng-c.want.Lng) > 1e-9 {
			t.Errorf("ParseLatLng(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestIsLatLng(t *testing.T) {
	for s, want := range map[string]bool{
		"14.5,121.0":         true,
		" -1 , 2 ":           true,
		"14.5, 121.0":        true,
		"Rizal Park, Manila": false,
		"14.5":               false,
		"1e5,2":              false,
	} {
		if got := IsLatLng(s); got != want {
			t.Errorf("IsLatLng(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestPointStringRoundTrip(t *testing.T) {
	p := Point{Lat: 14.676041, Lng: 121.043700}
	back, err := ParseLatLng(p.String())
	if err != nil {
		t.Fatal(err)
	}
	if back != p {
		t.Errorf("round trip: got %v, want %v", back, p)
	}
}
