// Package imagefetch downloads generated images through an ordered list of
// transport strategies and decodes them.
package imagefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxBody caps a single download.
const maxBody = 64 << 20

// Strategy is one way of reaching a URL.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, target string) ([]byte, error)
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

// Direct fetches the URL as-is.
type Direct struct {
	Client *http.Client
}

// Name implements Strategy
func (d Direct) Name() string { return "direct" }

// Fetch implements Strategy
func (d Direct) Fetch(ctx context.Context, target string) ([]byte, error) {
	return get(ctx, d.Client, target)
}

// Proxy fetches through a same-origin /api/proxy endpoint.
type Proxy struct {
	Base   string
	Client *http.Client
}

// Name implements Strategy
func (p Proxy) Name() string { return "proxy" }

// URL returns the proxied form of target
func (p Proxy) URL(target string) string {
	return strings.TrimRight(p.Base, "/") + "/api/proxy?url=" + url.QueryEscape(target)
}

// Fetch implements Strategy
func (p Proxy) Fetch(ctx context.Context, target string) ([]byte, error) {
	return get(ctx, p.Client, p.URL(target))
}

func get(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, URL: target}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", target)
	}
	return data, nil
}

type funcStrategy struct {
	name string
	fn   func(ctx context.Context, target string) ([]byte, error)
}

func (s funcStrategy) Name() string { return s.name }

func (s funcStrategy) Fetch(ctx context.Context, target string) ([]byte, error) {
	return s.fn(ctx, target)
}

// StrategyFunc adapts a function to a named Strategy
func StrategyFunc(name string, fn func(ctx context.Context, target string) ([]byte, error)) Strategy {
	return funcStrategy{name: name, fn: fn}
}
