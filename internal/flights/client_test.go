package flights

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"wayfarer/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger("test", logging.ERROR, io.Discard)
}

func newFlightServer(t *testing.T, tokenCalls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/security/oauth2/token":
			atomic.AddInt32(tokenCalls, 1)
			if err := r.ParseForm(); err != nil {
				t.Errorf("Failed to parse token form: %v", err)
			}
			if r.Form.Get("grant_type") != "client_credentials" {
				t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok-123",
				"expires_in":   1799,
			})

		case "/v2/shopping/flight-offers":
			if auth := r.Header.Get("Authorization"); auth != "Bearer tok-123" {
				t.Errorf("Authorization = %q", auth)
			}
			q := r.URL.Query()
			if q.Get("originLocationCode") != "LIS" || q.Get("destinationLocationCode") != "FCO" {
				t.Errorf("Query = %v", q)
			}
			io.WriteString(w, `{
				"data": [{
					"id": "1",
					"itineraries": [{
						"segments": [{
							"carrierCode": "TP",
							"number": "842",
							"departure": {"iataCode": "LIS", "at": "2026-09-10T08:30:00"},
							"arrival": {"iataCode": "FCO", "at": "2026-09-10T12:20:00"}
						}]
					}],
					"price": {"total": "118.40", "currency": "EUR"}
				}]
			}`)

		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSearchOffers(t *testing.T) {
	var tokenCalls int32
	server := newFlightServer(t, &tokenCalls)
	defer server.Close()

	client := NewClient(server.URL, "client-id", "client-secret", testLogger())
	offers, err := client.SearchOffers(context.Background(), Query{
		Origin:      "LIS",
		Destination: "FCO",
		Departure:   "2026-09-10",
	})
	if err != nil {
		t.Fatalf("SearchOffers failed: %v", err)
	}

	if len(offers) != 1 {
		t.Fatalf("Offer count = %d, want 1", len(offers))
	}
	offer := offers[0]
	if offer.Price != "118.40" || offer.Currency != "EUR" {
		t.Errorf("Price = %s %s", offer.Price, offer.Currency)
	}
	if len(offer.Segments) != 1 {
		t.Fatalf("Segment count = %d, want 1", len(offer.Segments))
	}
	seg := offer.Segments[0]
	if seg.CarrierCode != "TP" || seg.From != "LIS" || seg.To != "FCO" {
		t.Errorf("Segment = %+v", seg)
	}
}

func TestTokenIsCached(t *testing.T) {
	var tokenCalls int32
	server := newFlightServer(t, &tokenCalls)
	defer server.Close()

	client := NewClient(server.URL, "client-id", "client-secret", testLogger())
	q := Query{Origin: "LIS", Destination: "FCO", Departure: "2026-09-10"}

	for i := 0; i < 3; i++ {
		if _, err := client.SearchOffers(context.Background(), q); err != nil {
			t.Fatalf("Search %d failed: %v", i+1, err)
		}
	}

	if n := atomic.LoadInt32(&tokenCalls); n != 1 {
		t.Errorf("Token requests = %d, want 1 (cached)", n)
	}
}

func TestSearchOffersUnconfigured(t *testing.T) {
	client := NewClient("http://unused", "", "", testLogger())
	if client.Configured() {
		t.Error("Client without credentials reports configured")
	}
	_, err := client.SearchOffers(context.Background(), Query{Origin: "LIS", Destination: "FCO", Departure: "2026-09-10"})
	if err == nil {
		t.Error("Expected error without credentials")
	}
}
