package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	codeOK      = 20000000
	codeFailure = 55000000
)

var (
	base64Re = regexp.MustCompile(`^[A-Za-z0-9+/]*=*$`)
	htmlRe   = regexp.MustCompile(`(?i)<\s*!?DOCTYPE|<\s*html`)
)

// DoubaoConfig configures the v3 unidirectional TTS client.
type DoubaoConfig struct {
	Endpoint     string
	ResourceID   string
	AppID        string
	AccessKey    string
	EmotionScale int
	Timeout      time.Duration
	// ProxyBase routes requests through <ProxyBase>/api/proxy when set.
	ProxyBase string
}

// DoubaoClient talks to the Volcengine streaming TTS endpoint and asks for
// raw PCM so no decoder is needed.
type DoubaoClient struct {
	logger zerolog.Logger
	cfg    DoubaoConfig
	client *http.Client
}

// NewDoubaoClient creates a client; a missing access key is reported on
// first use.
func NewDoubaoClient(logger zerolog.Logger, cfg DoubaoConfig) *DoubaoClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = "seed-tts-2.0"
	}
	return &DoubaoClient{
		logger: logger.With().Str("component", "tts").Logger(),
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type ttsBody struct {
	User      ttsUser   `json:"user"`
	ReqParams ttsParams `json:"req_params"`
}

type ttsUser struct {
	UID string `json:"uid"`
}

type ttsParams struct {
	Text        string         `json:"text"`
	Speaker     string         `json:"speaker"`
	Additions   string         `json:"additions"`
	AudioParams map[string]any `json:"audio_params"`
}

type ttsLine struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

var additions = mustJSON(map[string]any{
	"disable_markdown_filter":          true,
	"enable_language_detector":         true,
	"enable_latex_tn":                  true,
	"disable_default_bit_rate":         true,
	"max_length_to_filter_parenthesis": 0,
	"cache_config":                     map[string]any{"text_type": 1, "use_cache": true},
})

// ClampEmotionScale keeps the scale in [1, 5]; zero means the default 4.
func ClampEmotionScale(v int) int {
	if v == 0 {
		return 4
	}
	return max(1, min(5, v))
}

// Synthesize implements Gateway
func (c *DoubaoClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if c.cfg.AccessKey == "" {
		return nil, fmt.Errorf("%w: missing TTS access key", ErrRejected)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("empty sentence")
	}
	voice := req.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	audioParams := map[string]any{
		"format":      "pcm",
		"sample_rate": 24000,
	}
	if req.Emotion != "" {
		scale := req.EmotionScale
		if scale == 0 {
			scale = c.cfg.EmotionScale
		}
		audioParams["emotion"] = req.Emotion
		audioParams["emotion_scale"] = ClampEmotionScale(scale)
	}

	body, err := json.Marshal(ttsBody{
		User: ttsUser{UID: "storyreel"},
		ReqParams: ttsParams{
			Text:        req.Text,
			Speaker:     voice,
			Additions:   additions,
			AudioParams: audioParams,
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Resource-Id", c.cfg.ResourceID)
	if c.cfg.AppID != "" {
		httpReq.Header.Set("X-Api-App-Id", c.cfg.AppID)
		httpReq.Header.Set("X-Api-Access-Key", c.cfg.AccessKey)
	} else {
		httpReq.Header.Set("X-Api-Key", c.cfg.AccessKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tts response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if len(msg) > 500 {
			msg = msg[:500]
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("tts request failed: status %d: %s", resp.StatusCode, msg)
	}

	pcm, err := ParseStream(raw)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("chars", len([]rune(req.Text))).
		Int("bytes", len(pcm)).
		Dur("took", time.Since(start)).
		Msg("sentence synthesized")

	return pcm, nil
}

func (c *DoubaoClient) endpoint() string {
	if c.cfg.ProxyBase == "" {
		return c.cfg.Endpoint
	}
	return strings.TrimRight(c.cfg.ProxyBase, "/") + "/api/proxy?url=" + url.QueryEscape(c.cfg.Endpoint)
}

// ParseStream decodes the NDJSON body: success-code lines are skipped, a
// failure code is a rejection, and base64 audio chunks are concatenated.
// A single JSON document with the audio in data is accepted too.
func ParseStream(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty tts response")
	}
	if trimmed[0] == '<' || htmlRe.Match(trimmed[:min(len(trimmed), 256)]) {
		return nil, fmt.Errorf("tts response is an HTML page, check the proxy")
	}

	var b64 strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var l ttsLine
		if err := json.Unmarshal(line, &l); err != nil {
			continue
		}
		if l.Code == codeFailure && l.Message != "" {
			return nil, fmt.Errorf("%w: %s (code %d)", ErrRejected, l.Message, l.Code)
		}
		if l.Code == codeOK && l.Data == "" {
			continue
		}
		if l.Data != "" && base64Re.MatchString(l.Data) {
			b64.WriteString(l.Data)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tts response: %w", err)
	}

	if b64.Len() == 0 {
		return nil, fmt.Errorf("tts response carried no audio")
	}

	pcm, err := decodeChunks(b64.String())
	if err != nil {
		return nil, err
	}
	return pcm[:len(pcm)&^1], nil
}

// decodeChunks decodes concatenated base64 chunks. Chunks may carry their own
// padding, so a plain decode of the joined string can fail.
func decodeChunks(s string) ([]byte, error) {
	if pcm, err := base64.StdEncoding.DecodeString(s); err == nil {
		return pcm, nil
	}

	var out []byte
	for len(s) > 0 {
		end := strings.Index(s, "=")
		if end < 0 {
			end = len(s)
		} else {
			for end < len(s) && s[end] == '=' {
				end++
			}
		}
		chunk, err := base64.StdEncoding.DecodeString(s[:end])
		if err != nil {
			return nil, fmt.Errorf("failed to decode tts audio: %w", err)
		}
		out = append(out, chunk...)
		s = s[end:]
	}
	return out, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
