// Package geo resolves street addresses to coordinates for the request
// form's location field.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const mapboxBaseURL = "https://api.mapbox.com"

// MinQueryLength is the shortest address worth sending to the geocoder.
const MinQueryLength = 5

// ErrNoToken is returned when the client has no access token.
var ErrNoToken = errors.New("geocode: mapbox token is missing")

// Coords is a WGS84 point.
type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MapboxClient talks to the Mapbox forward geocoding API.
type MapboxClient struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

// NewMapboxClient constructs a new Mapbox client.
func NewMapboxClient(httpClient *http.Client, token string) *MapboxClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &MapboxClient{httpClient: httpClient, token: token, baseURL: mapboxBaseURL}
}

// Geocode returns the center of the best match for address. Queries shorter
// than MinQueryLength and queries with no match yield nil without error.
func (c *MapboxClient) Geocode(ctx context.Context, address string) (*Coords, error) {
	address = strings.TrimSpace(address)
	if utf8.RuneCountInString(address) < MinQueryLength {
		return nil, nil
	}
	if c.token == "" {
		return nil, ErrNoToken
	}

	ctx, cancel := context.WithTimeout(ctx, 7*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("access_token", c.token)
	params.Set("limit", "1")
	endpoint := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json?%s", c.baseURL, url.PathEscape(address), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("geocode: http %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var payload struct {
		Features []struct {
			Center []float64 `json:"center"`
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("geocode: decode: %w", err)
	}
	if len(payload.Features) == 0 || len(payload.Features[0].Center) < 2 {
		return nil, nil
	}
	center := payload.Features[0].Center
	return &Coords{Lng: center[0], Lat: center[1]}, nil
}
