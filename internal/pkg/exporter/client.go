package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/visionboardai/visionboard/internal/pkg/env"
)

// BoardLayout is the render payload the PDF service consumes: the board name
// plus every goal with its image and canvas placement.
type BoardLayout struct {
	BoardName string       `json:"board_name"`
	Goals     []GoalLayout `json:"goals"`
}

// GoalLayout is a single tile on the rendered board.
type GoalLayout struct {
	Title    string  `json:"title"`
	Phrase   string  `json:"phrase,omitempty"`
	ImageURL string  `json:"image_url"`
	PosX     float64 `json:"pos_x"`
	PosY     float64 `json:"pos_y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// Client talks to the external PDF rendering service.
type Client struct {
	APIURL string
	APIKey string

	HTTPClient *http.Client
}

// NewClientFromEnv builds an exporter client from environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		APIURL: strings.TrimSpace(env.GetEnv("PDF_EXPORT_API_URL", "")),
		APIKey: strings.TrimSpace(env.GetEnv("PDF_EXPORT_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// RenderPDF sends the board layout and returns the rendered PDF bytes.
func (c *Client) RenderPDF(ctx context.Context, layout *BoardLayout) ([]byte, error) {
	if strings.TrimSpace(c.APIURL) == "" {
		return nil, errors.New("PDF_EXPORT_API_URL is not configured")
	}
	if layout == nil || len(layout.Goals) == 0 {
		return nil, errors.New("board has no goals to export")
	}

	raw, err := json.Marshal(layout)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")
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
		return nil, fmt.Errorf("pdf rendering failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	pdf, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, errors.New("pdf rendering returned empty body")
	}
	return pdf, nil
}
