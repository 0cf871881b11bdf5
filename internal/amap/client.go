// Package amap talks to the AMap web service and acts as the routing engine.
package amap

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/QuadTriangle/navlink/internal/route"
	"github.com/QuadTriangle/navlink/internal/types"
)

const DefaultEndpoint = "https://restapi.amap.com"

// APIError is a failure reported inside an otherwise successful HTTP response.
type APIError struct {
	Info     string
	InfoCode string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amap: %s (infocode %s)", e.Info, e.InfoCode)
}

// Path is one planned route.
type Path struct {
	Distance int
	Duration int
	Polyline []route.LngLat
}

// Client is a minimal AMap REST client.
type Client struct {
	endpoint string
	key      string
	http     *http.Client
}

func NewClient(endpoint, key string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
		// No timeout: a hung search is bounded only by the caller's context.
		http: &http.Client{},
	}
}

// flexInt accepts both "123" (v3 API) and 123 (v4 API).
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || s == "[]" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	*f = flexInt(n)
	return nil
}

type v3Status struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	InfoCode string `json:"infocode"`
}

func (s v3Status) err() error {
	if s.Status == "1" {
		return nil
	}
	return &APIError{Info: s.Info, InfoCode: s.InfoCode}
}

type pathJSON struct {
	Distance flexInt `json:"distance"`
	Duration flexInt `json:"duration"`
	Steps    []struct {
		Polyline string `json:"polyline"`
	} `json:"steps"`
}

func (p pathJSON) toPath() (Path, error) {
	out := Path{Distance: int(p.Distance), Duration: int(p.Duration)}
	for _, st := range p.Steps {
		pts, err := parsePolyline(st.Polyline)
		if err != nil {
			return Path{}, err
		}
		out.Polyline = append(out.Polyline, pts...)
	}
	return out, nil
}

// Geocode resolves a keyword to coordinates, optionally scoped to a city.
func (c *Client) Geocode(ctx context.Context, keyword, city string) (route.LngLat, error) {
	q := url.Values{}
	q.Set("address", keyword)
	if city != "" {
		q.Set("city", city)
	}
	var res struct {
		v3Status
		Geocodes []struct {
			Location string `json:"location"`
		} `json:"geocodes"`
	}
	if err := c.get(ctx, "/v3/geocode/geo", q, &res); err != nil {
		return route.LngLat{}, err
	}
	if err := res.err(); err != nil {
		return route.LngLat{}, err
	}
	if len(res.Geocodes) == 0 {
		return route.LngLat{}, fmt.Errorf("amap: no geocode result for %q", keyword)
	}
	return parseLngLat(res.Geocodes[0].Location)
}

// Direction plans a route from origin to dest. Waypoints and policy are only
// used for driving.
func (c *Client) Direction(ctx context.Context, navType types.NavType, origin, dest route.LngLat, waypoints []route.LngLat, policy int) (Path, error) {
	q := url.Values{}
	q.Set("origin", origin.String())
	q.Set("destination", dest.String())

	switch navType {
	case types.NavDriving:
		q.Set("strategy", strconv.Itoa(policy))
		if len(waypoints) > 0 {
			parts := make([]string, len(waypoints))
			for i, w := range waypoints {
				parts[i] = w.String()
			}
			q.Set("waypoints", strings.Join(parts, ";"))
		}
		return c.v3Direction(ctx, "/v3/direction/driving", q)
	case types.NavWalking:
		return c.v3Direction(ctx, "/v3/direction/walking", q)
	case types.NavRiding:
		var res struct {
			ErrCode int    `json:"errcode"`
			ErrMsg  string `json:"errmsg"`
			Data    struct {
				Paths []pathJSON `json:"paths"`
			} `json:"data"`
		}
		if err := c.get(ctx, "/v4/direction/bicycling", q, &res); err != nil {
			return Path{}, err
		}
		if res.ErrCode != 0 {
			return Path{}, &APIError{Info: res.ErrMsg, InfoCode: strconv.Itoa(res.ErrCode)}
		}
		if len(res.Data.Paths) == 0 {
			return Path{}, fmt.Errorf("amap: no riding path")
		}
		return res.Data.Paths[0].toPath()
	}
	return Path{}, fmt.Errorf("%w: %q", route.ErrUnsupportedNavType, navType)
}

func (c *Client) v3Direction(ctx context.Context, path string, q url.Values) (Path, error) {
	var res struct {
		v3Status
		Route struct {
			Paths []pathJSON `json:"paths"`
		} `json:"route"`
	}
	if err := c.get(ctx, path, q, &res); err != nil {
		return Path{}, err
	}
	if err := res.err(); err != nil {
		return Path{}, err
	}
	if len(res.Route.Paths) == 0 {
		return Path{}, fmt.Errorf("amap: no path returned by %s", path)
	}
	return res.Route.Paths[0].toPath()
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	q.Set("key", c.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("amap: server returned status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("amap: decode %s: %w", path, err)
	}
	return nil
}

func parseLngLat(s string) (route.LngLat, error) {
	lng, lat, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return route.LngLat{}, fmt.Errorf("amap: invalid location %q", s)
	}
	x, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return route.LngLat{}, fmt.Errorf("amap: invalid location %q", s)
	}
	y, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return route.LngLat{}, fmt.Errorf("amap: invalid location %q", s)
	}
	return route.LngLat{Lng: x, Lat: y}, nil
}

func parsePolyline(s string) ([]route.LngLat, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ";")
	out := make([]route.LngLat, 0, len(parts))
	for _, p := range parts {
		ll, err := parseLngLat(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ll)
	}
	return out, nil
}
