// Package proxy forwards browser-origin requests to the speech and image
// services so they can be reached from the same origin.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Path is where the handler is mounted
const Path = "/api/proxy"

const maxRequestBody = 16 << 20

var (
	forwardHeaders = []string{
		"Authorization",
		"Content-Type",
		"Connection",
		"X-Api-Resource-Id",
		"X-Api-App-Id",
		"X-Api-Access-Key",
		"X-Api-Key",
	}
	stripHeaders = map[string]bool{
		"Content-Encoding":  true,
		"Transfer-Encoding": true,
		"Content-Length":    true,
	}
	signedImageHost = regexp.MustCompile(`(?i)volces\.com|tos-cn-beijing`)
)

// Options tunes the upstream requests.
type Options struct {
	Timeout  time.Duration
	Attempts int
	// Backoff is multiplied by the attempt number between attempts.
	Backoff time.Duration
	Client  *http.Client
}

// Handler is the same-origin proxy endpoint.
type Handler struct {
	logger zerolog.Logger
	opts   Options
	client *http.Client
}

// New creates a proxy handler
func New(logger zerolog.Logger, opts Options) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Handler{
		logger: logger.With().Str("component", "proxy").Logger(),
		opts:   opts,
		client: client,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		if r.Method == http.MethodGet {
			plain(w, http.StatusOK, "proxy ok")
			return
		}
		plain(w, http.StatusBadRequest, "Missing url")
		return
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		plain(w, http.StatusBadRequest, "Invalid url")
		return
	}

	method := http.MethodGet
	var body []byte
	if r.Method == http.MethodPost {
		method = http.MethodPost
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			plain(w, http.StatusBadRequest, "Proxy: could not read request body")
			return
		}
	}

	header := make(http.Header)
	for _, k := range forwardHeaders {
		if v := r.Header.Get(k); v != "" {
			header.Set(k, v)
		}
	}
	if method == http.MethodGet && signedImageHost.MatchString(target) {
		header.Set("Accept", "image/*,*/*")
		header.Set("User-Agent", "Mozilla/5.0 (compatible; ImageProxy/1.0)")
	}

	resp, data, err := h.forward(r.Context(), method, target, header, body)
	if err != nil {
		h.logger.Error().Err(err).Str("method", method).Str("target", short(target)).Msg("All attempts failed")
		plain(w, http.StatusBadGateway, "Proxy error: "+err.Error())
		return
	}

	for k, vs := range resp.Header {
		if stripHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(data)

	h.logger.Debug().
		Str("method", method).
		Str("target", short(target)).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Msg("Proxied")
}

// forward retries transport failures; any HTTP response, whatever its
// status, ends the loop. The body is read in full before returning.
func (h *Handler) forward(ctx context.Context, method, target string, header http.Header, body []byte) (*http.Response, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= h.opts.Attempts; attempt++ {
		resp, data, err := h.once(ctx, method, target, header, body)
		if err == nil {
			return resp, data, nil
		}
		lastErr = err
		h.logger.Warn().Err(err).Int("attempt", attempt).Str("target", short(target)).Msg("Proxy attempt failed")

		if ctx.Err() != nil {
			break
		}
		if attempt < h.opts.Attempts {
			select {
			case <-time.After(time.Duration(attempt) * h.opts.Backoff):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("fetch failed")
	}
	return nil, nil, lastErr
}

func (h *Handler) once(ctx context.Context, method, target string, header http.Header, body []byte) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, nil, err
	}
	req.Header = header.Clone()

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("request timeout (%s)", h.opts.Timeout)
		}
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read upstream body: %w", err)
	}
	return resp, data, nil
}

// HealthCheck asks the proxy at base for its "proxy ok" answer.
func HealthCheck(ctx context.Context, client *http.Client, base string) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+Path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(data)) != "proxy ok" {
		return fmt.Errorf("unexpected proxy response: %d %q", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

func plain(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, msg)
}

func short(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
