package prompts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DoubaoChat is an Ark chat-completions Completer.
type DoubaoChat struct {
	Endpoint  string
	Model     string
	APIKey    string
	ProxyBase string
	Client    *http.Client
}

// NewDoubaoChat creates a completer with the given per-request timeout
func NewDoubaoChat(endpoint, model, apiKey, proxyBase string, timeout time.Duration) *DoubaoChat {
	if timeout <= 0 {
		timeout = 40 * time.Second
	}
	return &DoubaoChat{
		Endpoint:  endpoint,
		Model:     model,
		APIKey:    apiKey,
		ProxyBase: proxyBase,
		Client:    &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements Completer
func (d *DoubaoChat) Complete(ctx context.Context, system, user string) (string, error) {
	if d.APIKey == "" {
		return "", fmt.Errorf("chat key not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model: d.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   400,
	})
	if err != nil {
		return "", err
	}

	endpoint := d.Endpoint
	if d.ProxyBase != "" {
		endpoint = strings.TrimRight(d.ProxyBase, "/") + "/api/proxy?url=" + url.QueryEscape(d.Endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("chat status %d", resp.StatusCode)
	}

	var data chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(data.Choices) == 0 || strings.TrimSpace(data.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty chat content")
	}
	return strings.TrimSpace(data.Choices[0].Message.Content), nil
}
