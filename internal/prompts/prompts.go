// Package prompts writes image-generation prompts (and a title) for a
// narration, through a chat model when one is configured and from local
// keyword tables otherwise.
package prompts

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kikiluvv/storyreel/internal/config"
	"github.com/kikiluvv/storyreel/internal/text"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// minReplyLen is the shortest model reply accepted as a prompt.
const minReplyLen = 20

// Request describes one prompt set.
type Request struct {
	Input string
	Style string
	View  string
	Count int
}

// Generator produces Count prompts and a title.
type Generator interface {
	Prompts(ctx context.Context, req Request) ([]string, string, error)
}

// Completer is a single-turn chat model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ChatGenerator asks a Completer for each prompt concurrently and falls
// back to the local template per prompt.
type ChatGenerator struct {
	logger    zerolog.Logger
	completer Completer
}

// NewChatGenerator wraps a completer
func NewChatGenerator(logger zerolog.Logger, c Completer) *ChatGenerator {
	return &ChatGenerator{
		logger:    logger.With().Str("component", "prompts").Logger(),
		completer: c,
	}
}

// Prompts implements Generator. Model failures never fail the call.
func (g *ChatGenerator) Prompts(ctx context.Context, req Request) ([]string, string, error) {
	if err := validate(req); err != nil {
		return nil, "", err
	}

	out := make([]string, req.Count)
	var title string

	eg, ectx := errgroup.WithContext(ctx)
	for i := range out {
		v := Variations[i%len(Variations)]
		eg.Go(func() error {
			reply, err := g.completer.Complete(ectx,
				systemPrompt(req.Input, req.Style, req.View, v.Instruction),
				"Generate cinematic prompt.")
			reply = strings.TrimSpace(reply)
			if err != nil || utf8.RuneCountInString(reply) <= minReplyLen {
				g.logger.Warn().Int("index", i).Err(err).Msg("prompt generation failed, using fallback")
				reply = Fallback(req.Input, req.Style, req.View, v.Suffix)
			}
			out[i] = reply
			return nil
		})
	}
	eg.Go(func() error {
		reply, err := g.completer.Complete(ectx, titlePrompt(req.Input), "Title:")
		if err == nil {
			title = cleanTitle(reply)
		}
		return nil
	})
	eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if title == "" {
		title = text.FallbackTitle(req.Input)
	}
	return out, title, nil
}

// FromConfig picks the provider named in cfg. The returned close func
// releases provider clients and is never nil.
func FromConfig(ctx context.Context, logger zerolog.Logger, cfg config.PromptConfig, proxyBase string) (Generator, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Provider {
	case "", "doubao":
		if cfg.APIKey == "" {
			logger.Warn().Msg("no chat key configured, prompts will use local templates")
			return Local{}, noop, nil
		}
		chat := NewDoubaoChat(cfg.Endpoint, cfg.Model, cfg.APIKey, proxyBase, cfg.Timeout)
		return NewChatGenerator(logger, chat), noop, nil
	case "gemini":
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, noop, err
		}
		return NewChatGenerator(logger, g), g.Close, nil
	case "local":
		return Local{}, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown prompt provider %q", cfg.Provider)
}

// Local builds every prompt from the keyword tables.
type Local struct{}

// Prompts implements Generator
func (Local) Prompts(ctx context.Context, req Request) ([]string, string, error) {
	if err := validate(req); err != nil {
		return nil, "", err
	}
	out := make([]string, req.Count)
	for i := range out {
		out[i] = Fallback(req.Input, req.Style, req.View, Variations[i%len(Variations)].Suffix)
	}
	return out, text.FallbackTitle(req.Input), nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.Input) == "" {
		return fmt.Errorf("prompt input is empty")
	}
	if req.Count <= 0 {
		return fmt.Errorf("prompt count must be positive, got %d", req.Count)
	}
	return nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, " \"'“”《》「」*#")
	if utf8.RuneCountInString(s) > 24 {
		s = string([]rune(s)[:24])
	}
	return s
}
