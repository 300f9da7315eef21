package realtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPollerFetchOnceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buildVehicleFeed(t))
	}))
	defer srv.Close()

	p := NewPoller(nil, srv.URL, nil)
	data, err := p.FetchOnce(5 * time.Second)
	if err != nil {
		t.Fatalf("FetchOnce: %v", err)
	}
	positions, err := DecodeVehiclePositions(data)
	if err != nil {
		t.Fatalf("DecodeVehiclePositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(positions))
	}
}

func TestPollerFetchOnceRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPoller(nil, srv.URL, nil)
	_, err := p.FetchOnce(200 * time.Millisecond)
	if err == nil {
		t.Fatal("expected FetchOnce to fail after the feed keeps returning 503")
	}
}
