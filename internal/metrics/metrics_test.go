package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://API.themoviedb.org/3/find", "api.themoviedb.org"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if harvesterUnitsTotal == nil || harvesterItemsTotal == nil || harvesterRecordsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(harvesterRecordsTotal)
	ObserveRecord()
	if got := testutil.ToFloat64(harvesterRecordsTotal); got != before+1 {
		t.Errorf("expected records counter %f, got %f", before+1, got)
	}
}

func TestObserveHelpersDoNotPanic(t *testing.T) {
	ObserveUnit("done")
	ObserveItems("valid", 3)
	ObserveItems("invalid", 0)
	ObserveEnrichment("absent")
	ObserveAPIRequest("find", 503, 10*time.Millisecond)
	ObserveSinkError("csv")
	IncActiveWorkers()
	DecActiveWorkers()
	ObserveRateLimitDelay("api.themoviedb.org", 20*time.Millisecond)

	if got := testutil.ToFloat64(harvesterItemsTotal.WithLabelValues("valid")); got < 3 {
		t.Errorf("expected at least 3 valid items, got %f", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveUnit("done")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "harvester_units_total") {
		t.Error("expected harvester_units_total in exposition")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://www.imdb.com/title/tt0133093/", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
