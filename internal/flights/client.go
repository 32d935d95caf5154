// Package flights queries the flight-offers API with client-credentials
// auth and a cached access token.
package flights

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"wayfarer/internal/logging"
)

// Query is a one-way or round-trip flight search.
type Query struct {
	Origin      string
	Destination string
	Departure   string // YYYY-MM-DD
	Return      string // YYYY-MM-DD, empty for one way
	Adults      int
	MaxResults  int
}

// Segment is one flight leg.
type Segment struct {
	CarrierCode string `json:"carrier"`
	Number      string `json:"number"`
	From        string `json:"from"`
	To          string `json:"to"`
	DepartsAt   string `json:"departs_at"`
	ArrivesAt   string `json:"arrives_at"`
}

// Offer is a priced itinerary.
type Offer struct {
	ID       string    `json:"id"`
	Price    string    `json:"price"`
	Currency string    `json:"currency"`
	Segments []Segment `json:"segments"`
}

// Client talks to the flight-offers API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	logger       *logging.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(baseURL, clientID, clientSecret string, logger *logging.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: 15 * time.Second},
		logger:       logger,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a cached access token, refreshing it when it is within a
// minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("flights: failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("flights: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("flights: token request returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("flights: failed to decode token response: %w", err)
	}

	c.accessToken = parsed.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	c.logger.Debug("refreshed flight API access token")
	return c.accessToken, nil
}

type offersResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Itineraries []struct {
			Segments []struct {
				CarrierCode string `json:"carrierCode"`
				Number      string `json:"number"`
				Departure   struct {
					IataCode string `json:"iataCode"`
					At       string `json:"at"`
				} `json:"departure"`
				Arrival struct {
					IataCode string `json:"iataCode"`
					At       string `json:"at"`
				} `json:"arrival"`
			} `json:"segments"`
		} `json:"itineraries"`
		Price struct {
			Total    string `json:"total"`
			Currency string `json:"currency"`
		} `json:"price"`
	} `json:"data"`
}

// SearchOffers runs a flight-offers search and returns normalized offers.
func (c *Client) SearchOffers(ctx context.Context, q Query) ([]Offer, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("flights: client credentials not configured")
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("originLocationCode", q.Origin)
	params.Set("destinationLocationCode", q.Destination)
	params.Set("departureDate", q.Departure)
	if q.Return != "" {
		params.Set("returnDate", q.Return)
	}
	adults := q.Adults
	if adults < 1 {
		adults = 1
	}
	params.Set("adults", strconv.Itoa(adults))
	max := q.MaxResults
	if max < 1 {
		max = 10
	}
	params.Set("max", strconv.Itoa(max))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v2/shopping/flight-offers?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("flights: failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flights: search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("flights: search returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed offersResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("flights: failed to decode search response: %w", err)
	}

	offers := make([]Offer, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		offer := Offer{
			ID:       d.ID,
			Price:    d.Price.Total,
			Currency: d.Price.Currency,
		}
		for _, it := range d.Itineraries {
			for _, s := range it.Segments {
				offer.Segments = append(offer.Segments, Segment{
					CarrierCode: s.CarrierCode,
					Number:      s.Number,
					From:        s.Departure.IataCode,
					To:          s.Arrival.IataCode,
					DepartsAt:   s.Departure.At,
					ArrivesAt:   s.Arrival.At,
				})
			}
		}
		offers = append(offers, offer)
	}

	c.logger.WithFields(map[string]interface{}{
		"origin":      q.Origin,
		"destination": q.Destination,
		"offers":      len(offers),
		"latency_ms":  time.Since(start).Milliseconds(),
	}).Info("flight search complete")
	return offers, nil
}
