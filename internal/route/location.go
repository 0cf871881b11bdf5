package route

import (
	"fmt"

	"github.com/QuadTriangle/navlink/internal/types"
)

// Location is a point in the form the routing engine accepts:
// either LngLat or Keyword.
type Location interface {
	isLocation()
	String() string
}

// LngLat is a coordinate location.
type LngLat struct {
	Lng float64
	Lat float64
}

func (LngLat) isLocation() {}

func (l LngLat) String() string {
	return fmt.Sprintf("%g,%g", l.Lng, l.Lat)
}

// Keyword is a place-name location. An empty City leaves the search unscoped.
type Keyword struct {
	Keyword string
	City    string
}

func (Keyword) isLocation() {}

func (k Keyword) String() string {
	if k.City == "" {
		return k.Keyword
	}
	return k.Keyword + "(" + k.City + ")"
}

// Scoped reports whether the keyword search is restricted to a city.
func (k Keyword) Scoped() bool { return k.City != "" }

// Normalize converts a raw point into a Location. index is the point's
// position in its command and only used for error reporting.
func Normalize(p types.Point, index int) (Location, error) {
	if p.Lng != nil && p.Lat != nil {
		return LngLat{Lng: *p.Lng, Lat: *p.Lat}, nil
	}
	if p.Keyword != nil && *p.Keyword != "" {
		k := Keyword{Keyword: *p.Keyword}
		if p.City != nil {
			k.City = *p.City
		}
		return k, nil
	}
	return nil, &InvalidPointError{Index: index, Point: p}
}

// NormalizeAll normalizes every point, aborting on the first invalid one.
func NormalizeAll(points []types.Point) ([]Location, error) {
	locs := make([]Location, 0, len(points))
	for i, p := range points {
		loc, err := Normalize(p, i)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}
