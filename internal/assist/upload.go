package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"

	"wayfarer/internal/model"
)

// UploadFile is one file to send to the backend.
type UploadFile struct {
	Name string
	Size int64
	Body io.Reader
}

type uploadedFile struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type uploadResponse struct {
	UploadedFiles []uploadedFile `json:"uploaded_files"`
}

// Upload sends files to the backend as a single multipart request and
// returns one attachment per uploaded file. Sizes come from the request
// side since the backend reports only type, url and filename.
func (c *Client) Upload(ctx context.Context, files []UploadFile) ([]model.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	logger := c.logger.WithContext("operation", "upload")

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		for _, f := range files {
			part, err := mw.CreateFormFile("files", f.Name)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, f.Body); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/upload", pr)
	if err != nil {
		return nil, fmt.Errorf("assist: failed to create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("assist: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.WithFields(map[string]interface{}{
			"status": resp.StatusCode,
			"error":  string(bodyBytes),
		}).Error("upload returned non-OK status")
		return nil, fmt.Errorf("assist: upload returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("assist: failed to decode upload response: %w", err)
	}

	sizeByName := make(map[string]int64, len(files))
	for _, f := range files {
		sizeByName[f.Name] = f.Size
	}

	attachments := make([]model.Attachment, 0, len(parsed.UploadedFiles))
	for _, uf := range parsed.UploadedFiles {
		attachments = append(attachments, model.Attachment{
			ID:   uuid.New().String(),
			Name: uf.Filename,
			Kind: model.KindFromUploadType(uf.Type),
			Size: sizeByName[uf.Filename],
			URL:  uf.URL,
		})
	}

	logger.WithFields(map[string]interface{}{
		"files":      len(attachments),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Info("upload complete")
	return attachments, nil
}
