package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestHTTPClient(t *testing.T, server *httptest.Server) *http.Client {
	t.Helper()

	parsedURL, err := url.Parse(server.URL)
	require.NoError(t, err)
	proxyClient := server.Client()

	return &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			clone := req.Clone(req.Context())
			clone.URL.Scheme = parsedURL.Scheme
			clone.URL.Host = parsedURL.Host
			clone.Host = parsedURL.Host
			clone.RequestURI = ""
			return proxyClient.Do(clone)
		}),
	}
}

func TestMapboxGeocode(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		status  int
		body    string
		want    *Coords
		wantErr string
		calls   int32
	}{
		{
			name:   "first feature center",
			query:  "12 Elm Street",
			status: http.StatusOK,
			body:   `{"features":[{"center":[-122.42,37.77]},{"center":[1,2]}]}`,
			want:   &Coords{Lat: 37.77, Lng: -122.42},
			calls:  1,
		},
		{
			name:   "no match",
			query:  "nowhere at all",
			status: http.StatusOK,
			body:   `{"features":[]}`,
			calls:  1,
		},
		{
			name:  "short query",
			query: "Elm ",
			calls: 0,
		},
		{
			name:    "http error",
			query:   "12 Elm Street",
			status:  http.StatusUnauthorized,
			body:    `{"message":"Not Authorized - Invalid Token"}`,
			wantErr: "401",
			calls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				require.Equal(t, "tok", r.URL.Query().Get("access_token"))
				require.Equal(t, "1", r.URL.Query().Get("limit"))
				require.True(t, strings.HasPrefix(r.URL.Path, "/geocoding/v5/mapbox.places/"))
				require.True(t, strings.HasSuffix(r.URL.Path, ".json"))
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			c := NewMapboxClient(newTestHTTPClient(t, server), "tok")
			got, err := c.Geocode(context.Background(), tt.query)
			if tt.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.want, got)
			}
			require.Equal(t, tt.calls, atomic.LoadInt32(&calls))
		})
	}
}

func TestMapboxMissingToken(t *testing.T) {
	_, err := NewMapboxClient(nil, "").Geocode(context.Background(), "12 Elm Street")
	require.ErrorIs(t, err, ErrNoToken)
}

func TestDebouncerCancelsPreviousLookup(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan string, 2)
	lookup := func(ctx context.Context, q string) (*Coords, error) {
		started <- q
		if q == "first query" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &Coords{Lat: 1, Lng: 2}, nil
	}
	d := NewDebouncer(lookup, time.Millisecond)

	first := make(chan error, 1)
	go func() {
		_, err := d.Lookup(context.Background(), "first query")
		first <- err
	}()
	require.Equal(t, "first query", <-started)

	got, err := d.Lookup(context.Background(), "second query")
	require.NoError(t, err)
	require.Equal(t, &Coords{Lat: 1, Lng: 2}, got)
	require.Equal(t, "second query", <-started)
	require.True(t, errors.Is(<-first, ErrSuperseded))
}

func TestDebouncerSkipsLookupDuringDelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int32
	lookup := func(ctx context.Context, q string) (*Coords, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}
	d := NewDebouncer(lookup, time.Hour)

	first := make(chan error, 1)
	go func() {
		_, err := d.Lookup(context.Background(), "first query")
		first <- err
	}()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.cancel != nil
	}, time.Second, time.Millisecond)

	d.Cancel()
	require.ErrorIs(t, <-first, ErrSuperseded)
	require.Zero(t, atomic.LoadInt32(&calls))
}
