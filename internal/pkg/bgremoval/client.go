package bgremoval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/visionboardai/visionboard/internal/pkg/env"
)

// Client talks to the external background-removal service. Input is the raw
// photo, output is a transparent-background cutout (PNG bytes).
type Client struct {
	APIURL string
	APIKey string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a background-removal client from environment
// configuration.
func NewClientFromEnv() *Client {
	return &Client{
		APIURL: strings.TrimSpace(env.GetEnv("BG_REMOVAL_API_URL", "")),
		APIKey: strings.TrimSpace(env.GetEnv("BG_REMOVAL_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RemoveBackground sends the image and returns the cutout bytes.
func (c *Client) RemoveBackground(ctx context.Context, filename string, image []byte) ([]byte, error) {
	if strings.TrimSpace(c.APIURL) == "" {
		return nil, errors.New("BG_REMOVAL_API_URL is not configured")
	}
	if len(image) == 0 {
		return nil, errors.New("image data is required")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image_file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("background removal failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	cutout, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if len(cutout) == 0 {
		return nil, errors.New("background removal returned empty body")
	}
	return cutout, nil
}
