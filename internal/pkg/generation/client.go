package generation

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

// Client talks to the external image- and phrase-generation service. Prompt
// construction happens vendor-side; we only hand over the goal title and the
// person cutout reference.
type Client struct {
	ImageURL  string
	PhraseURL string
	APIKey    string

	HTTPClient *http.Client
}

// ImageResult is the vendor response for one composited goal image.
type ImageResult struct {
	ImageURL string `json:"image_url"`
}

// PhraseResult is the vendor response for a motivational phrase.
type PhraseResult struct {
	Phrase string `json:"phrase"`
}

// Assets bundles the joined results of one generation round. Phrase is
// best-effort: PhraseErr is set instead of failing the whole round.
type Assets struct {
	ImageURL  string
	Phrase    string
	PhraseErr error
}

// NewClientFromEnv builds a generation client from environment configuration.
func NewClientFromEnv() *Client {
	base := strings.TrimRight(env.GetEnv("GENERATION_API_URL", ""), "/")
	return &Client{
		ImageURL:  strings.TrimSpace(env.GetEnv("GENERATION_IMAGE_URL", base+"/v1/images")),
		PhraseURL: strings.TrimSpace(env.GetEnv("GENERATION_PHRASE_URL", base+"/v1/phrases")),
		APIKey:    strings.TrimSpace(env.GetEnv("GENERATION_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// GenerateImage requests one composited image for a goal.
func (c *Client) GenerateImage(ctx context.Context, goalTitle, cutoutURL string) (*ImageResult, error) {
	if strings.TrimSpace(c.ImageURL) == "" {
		return nil, errors.New("GENERATION_IMAGE_URL is not configured")
	}
	if strings.TrimSpace(goalTitle) == "" {
		return nil, errors.New("goal title is required")
	}

	payload := map[string]string{
		"goal":       goalTitle,
		"cutout_url": cutoutURL,
	}
	body, err := c.postJSON(ctx, c.ImageURL, payload, 2<<20)
	if err != nil {
		return nil, err
	}

	var out ImageResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ImageURL) == "" {
		return nil, errors.New("generation service returned empty image_url")
	}
	return &out, nil
}

// GeneratePhrase requests a short motivational phrase for a goal.
func (c *Client) GeneratePhrase(ctx context.Context, goalTitle string) (*PhraseResult, error) {
	if strings.TrimSpace(c.PhraseURL) == "" {
		return nil, errors.New("GENERATION_PHRASE_URL is not configured")
	}
	if strings.TrimSpace(goalTitle) == "" {
		return nil, errors.New("goal title is required")
	}

	body, err := c.postJSON(ctx, c.PhraseURL, map[string]string{"goal": goalTitle}, 1<<20)
	if err != nil {
		return nil, err
	}

	var out PhraseResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateAssets issues the image and phrase calls concurrently and joins
// them. The image result decides success; a phrase failure is reported in
// Assets.PhraseErr and never blocks completion.
func (c *Client) GenerateAssets(ctx context.Context, goalTitle, cutoutURL string) (*Assets, error) {
	type phraseOut struct {
		res *PhraseResult
		err error
	}
	phraseCh := make(chan phraseOut, 1)
	go func() {
		res, err := c.GeneratePhrase(ctx, goalTitle)
		phraseCh <- phraseOut{res: res, err: err}
	}()

	img, imgErr := c.GenerateImage(ctx, goalTitle, cutoutURL)
	phrase := <-phraseCh

	if imgErr != nil {
		return nil, imgErr
	}

	assets := &Assets{ImageURL: img.ImageURL}
	if phrase.err != nil {
		assets.PhraseErr = phrase.err
	} else {
		assets.Phrase = phrase.res.Phrase
	}
	return assets, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload interface{}, maxBody int64) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generation request failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}
