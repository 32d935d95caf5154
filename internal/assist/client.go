// Package assist is the HTTP client for the travel-inference backend: the
// chat-stream endpoint and the file-upload endpoint.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wayfarer/internal/logging"
	"wayfarer/internal/model"
)

// ChatRequest is the body of the chat-stream call.
type ChatRequest struct {
	UserID      string          `json:"user_id"`
	ChatID      string          `json:"chat_id"`
	Message     string          `json:"message"`
	SessionID   string          `json:"session_id"`
	Attachments []AttachmentRef `json:"attachments"`
}

// AttachmentRef describes an already-uploaded attachment.
type AttachmentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Client talks to the inference backend.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logging.Logger
}

// NewClient creates a client. connectTimeout bounds dialing and response
// headers; the response body itself stays open for the duration of the
// stream and is bounded by the consumer's idle timeout instead.
func NewClient(baseURL, apiKey string, connectTimeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: connectTimeout,
			},
		},
		logger: logger,
	}
}

// AttachmentRefs converts model attachments into their wire form.
func AttachmentRefs(attachments []model.Attachment) []AttachmentRef {
	refs := make([]AttachmentRef, 0, len(attachments))
	for _, a := range attachments {
		refs = append(refs, AttachmentRef{
			ID:   a.ID,
			Name: a.Name,
			Type: string(a.Kind),
			Size: a.Size,
			URL:  a.URL,
		})
	}
	return refs
}

// OpenStream sends the chat request and returns the raw streaming body.
// The caller owns the body and must close it.
func (c *Client) OpenStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	logger := c.logger.WithFields(map[string]interface{}{
		"chat_id":   req.ChatID,
		"operation": "stream",
	})
	logger.Debug("starting chat stream request")

	start := time.Now()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("assist: failed to marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("assist: failed to create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("stream request failed")
		return nil, fmt.Errorf("assist: stream request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		logger.WithFields(map[string]interface{}{
			"status":     resp.StatusCode,
			"error":      string(bodyBytes),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("stream returned non-OK status")
		return nil, fmt.Errorf("assist: stream returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	logger.WithContext("latency_ms", time.Since(start).Milliseconds()).Debug("stream opened")
	return resp.Body, nil
}
