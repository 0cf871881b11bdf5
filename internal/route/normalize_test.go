package route

import (
	"errors"
	"testing"

	"github.com/QuadTriangle/navlink/internal/types"
)

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

func TestNormalize_Coordinates(t *testing.T) {
	loc, err := Normalize(types.Point{Lng: f64(116.3), Lat: f64(39.9), Keyword: str("ignored")}, 0)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	ll, ok := loc.(LngLat)
	if !ok {
		t.Fatalf("expected LngLat, got %T", loc)
	}
	if ll.Lng != 116.3 || ll.Lat != 39.9 {
		t.Errorf("got %v, want 116.3,39.9", ll)
	}
}

func TestNormalize_Keyword(t *testing.T) {
	cases := []struct {
		name   string
		point  types.Point
		city   string
		scoped bool
	}{
		{"with city", types.Point{Keyword: str("Tiananmen"), City: str("Beijing")}, "Beijing", true},
		{"no city", types.Point{Keyword: str("Tiananmen")}, "", false},
		{"empty city", types.Point{Keyword: str("Tiananmen"), City: str("")}, "", false},
		{"blank city", types.Point{Keyword: str("Tiananmen"), City: str(" ")}, " ", true},
		{"only lng", types.Point{Lng: f64(116.3), Keyword: str("Tiananmen"), City: str("Beijing")}, "Beijing", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			loc, err := Normalize(c.point, 0)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			k, ok := loc.(Keyword)
			if !ok {
				t.Fatalf("expected Keyword, got %T", loc)
			}
			if k.Keyword != "Tiananmen" {
				t.Errorf("keyword = %q", k.Keyword)
			}
			if k.City != c.city {
				t.Errorf("city = %q, want %q", k.City, c.city)
			}
			if k.Scoped() != c.scoped {
				t.Errorf("scoped = %v, want %v", k.Scoped(), c.scoped)
			}
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	cases := []types.Point{
		{},
		{Lng: f64(116.3)},
		{Lat: f64(39.9), City: str("Beijing")},
		{Keyword: str("")},
		{City: str("Beijing")},
	}
	for i, p := range cases {
		_, err := Normalize(p, 3)
		var ipe *InvalidPointError
		if !errors.As(err, &ipe) {
			t.Errorf("case %d: expected InvalidPointError, got %v", i, err)
			continue
		}
		if ipe.Index != 3 {
			t.Errorf("case %d: index = %d, want 3", i, ipe.Index)
		}
	}
}

func TestNormalizeAll_StopsAtFirstInvalid(t *testing.T) {
	points := []types.Point{
		{Lng: f64(1), Lat: f64(2)},
		{},
		{Keyword: str("x")},
		{},
	}
	_, err := NormalizeAll(points)
	var ipe *InvalidPointError
	if !errors.As(err, &ipe) {
		t.Fatalf("expected InvalidPointError, got %v", err)
	}
	if ipe.Index != 1 {
		t.Errorf("index = %d, want 1", ipe.Index)
	}
	if got := ipe.Error(); got != "point 2: need lng/lat or keyword" {
		t.Errorf("message = %q", got)
	}
}
