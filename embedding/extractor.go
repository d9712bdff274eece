// Package embedding talks to the external feature-extractor service. The
// contract is capability-shaped: any service mapping an image to a
// fixed-length real vector works; the deployed one wraps a pretrained
// VGG16 with average pooling.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Client communicates with the embedding extractor service.
type Client struct {
	serviceURL string
	client     *http.Client
}

// Response is the wire format of the extractor service.
type Response struct {
	Embedding []float64 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

func NewClient(serviceURL string) *Client {
	if serviceURL == "" {
		serviceURL = "http://localhost:5002"
	}
	return &Client{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Available reports whether the extractor service answers its health check.
// Checked before offering the deep-feature method and again at call time.
func (c *Client) Available() bool {
	req, err := http.NewRequest(http.MethodGet, c.serviceURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EmbedFile extracts the embedding vector for an image on disk.
func (c *Client) EmbedFile(ctx context.Context, imagePath string) ([]float64, error) {
	data, err := os.ReadFile(filepath.Clean(imagePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return c.EmbedBytes(ctx, data, filepath.Base(imagePath))
}

// EmbedBytes extracts the embedding vector for in-memory image bytes.
func (c *Client) EmbedBytes(ctx context.Context, imageData []byte, filename string) ([]float64, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/embed", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var embResp Response
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding")
	}
	return embResp.Embedding, nil
}
