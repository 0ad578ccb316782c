// Package imagegen turns prompts into fetchable image URLs.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrMissingKey means no API key is configured.
	ErrMissingKey = errors.New("image generation key not configured")
	// ErrRejected marks an explicit refusal by the service.
	ErrRejected = errors.New("image service rejected request")
)

// NoTextClause is appended to every prompt.
const NoTextClause = " No text, no words, no letters, no writing, no captions in the image."

var urlRe = regexp.MustCompile(`"url"\s*:\s*"(https?://[^"]+)"`)

// Generator produces one image URL for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, aspectRatio string) (string, error)
}

// ArkConfig configures the Seedream client.
type ArkConfig struct {
	Endpoint  string
	Model     string
	APIKey    string
	Size      string
	Attempts  int
	RetryWait time.Duration
	Timeout   time.Duration
	ProxyBase string
}

// ArkClient calls the OpenAI-compatible images/generations endpoint.
type ArkClient struct {
	logger zerolog.Logger
	cfg    ArkConfig
	client *http.Client
}

// NewArkClient creates a client
func NewArkClient(logger zerolog.Logger, cfg ArkConfig) *ArkClient {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Size == "" {
		cfg.Size = "2K"
	}
	return &ArkClient{
		logger: logger.With().Str("component", "imagegen").Logger(),
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type arkRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
	Watermark      bool   `json:"watermark"`
}

type arkResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// Configured reports whether an API key is set
func (c *ArkClient) Configured() bool {
	return c.cfg.APIKey != ""
}

// Generate implements Generator. Every ratio maps to the same size class;
// the service picks the pixel dimensions.
func (c *ArkClient) Generate(ctx context.Context, prompt, aspectRatio string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrMissingKey
	}

	body, err := json.Marshal(arkRequest{
		Model:          c.cfg.Model,
		Prompt:         strings.TrimSpace(prompt) + NoTextClause,
		Size:           c.cfg.Size,
		ResponseFormat: "url",
		Watermark:      true,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		u, err := c.once(ctx, body)
		if err == nil {
			c.logger.Debug().Int("attempt", attempt).Str("ratio", aspectRatio).Msg("image generated")
			return u, nil
		}
		lastErr = err

		c.logger.Warn().Int("attempt", attempt).Err(err).Msg("image generation attempt failed")

		if errors.Is(err, ErrRejected) || ctx.Err() != nil {
			break
		}
		if attempt < c.cfg.Attempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.cfg.RetryWait):
			}
		}
	}
	return "", fmt.Errorf("image generation failed: %w", lastErr)
}

func (c *ArkClient) once(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	return parseResponse(resp.StatusCode, raw)
}

func parseResponse(status int, raw []byte) (string, error) {
	var data arkResponse
	jsonErr := json.Unmarshal(raw, &data)

	if status < 200 || status >= 300 {
		msg := snippet(raw, 300)
		if jsonErr == nil && data.Error != nil && data.Error.Message != "" {
			msg = data.Error.Message
		}
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
			return "", fmt.Errorf("%w: HTTP %d: %s", ErrRejected, status, msg)
		}
		return "", fmt.Errorf("HTTP %d: %s", status, msg)
	}

	if jsonErr != nil {
		// a truncated body may still carry a complete URL
		if m := urlRe.FindSubmatch(raw); m != nil && len(m[1]) >= 80 {
			return string(m[1]), nil
		}
		return "", fmt.Errorf("response is not JSON: %s", snippet(raw, 200))
	}

	if len(data.Data) > 0 && data.Data[0].URL != "" {
		return data.Data[0].URL, nil
	}

	msg := data.Message
	if data.Error != nil && data.Error.Message != "" {
		msg = data.Error.Message
	}
	if msg != "" {
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return "", fmt.Errorf("response carried no image url")
}

func (c *ArkClient) endpoint() string {
	if c.cfg.ProxyBase == "" {
		return c.cfg.Endpoint
	}
	return strings.TrimRight(c.cfg.ProxyBase, "/") + "/api/proxy?url=" + url.QueryEscape(c.cfg.Endpoint)
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
