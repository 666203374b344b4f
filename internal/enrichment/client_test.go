package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseASN(t *testing.T) {
	tests := []struct {
		in   string
		want *int
	}{
		{"AS15169 Google LLC", intPtr(15169)},
		{"", nil},
		{"   ", nil},
		{"garbage", nil},
	}
	for _, tt := range tests {
		got := parseASN(tt.in)
		if (got == nil) != (tt.want == nil) {
			t.Errorf("parseASN(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		if got != nil && *got != *tt.want {
			t.Errorf("parseASN(%q) = %d, want %d", tt.in, *got, *tt.want)
		}
	}
}

func intPtr(n int) *int { return &n }

func TestLookupSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Rl", "14")
		w.Header().Set("X-Ttl", "60")
		w.Write([]byte(`{"status":"success","continentCode":"eu","countryCode":"de","as":"AS15169 Google LLC","reverse":"Host.Example.COM","proxy":false,"hosting":true}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	record, rate, err := c.Lookup(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !record.Actionable() {
		t.Fatalf("expected actionable record, got %+v", record)
	}
	if record.Continent != "EU" || record.Country != "DE" {
		t.Errorf("got continent=%q country=%q", record.Continent, record.Country)
	}
	if record.ASN == nil || *record.ASN != 15169 {
		t.Errorf("got ASN=%v, want 15169", record.ASN)
	}
	if record.RDNSHostname != "host.example.com" {
		t.Errorf("got rdns=%q, want lowercased", record.RDNSHostname)
	}
	if !record.IsHosting {
		t.Error("expected IsHosting true")
	}
	if rate.Exhausted {
		t.Error("remaining=14 should not report exhausted")
	}
}

func TestLookupRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Rl", "0")
		w.Header().Set("X-Ttl", "60")
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, rate, err := c.Lookup(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !rate.Exhausted {
		t.Fatal("expected exhausted rate limit")
	}
	if rate.ResetAt.IsZero() {
		t.Fatal("expected non-zero ResetAt")
	}
}

func TestLookupUpstreamFailPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	record, _, err := c.Lookup(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !record.Successful() {
		t.Fatal("a 200 response must still classify as successful")
	}
	if record.Actionable() {
		t.Fatal("status=fail payload must not be actionable")
	}
}

func TestLookupNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	record, _, err := c.Lookup(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if record.Successful() {
		t.Fatal("non-200 must not classify as successful")
	}
}
