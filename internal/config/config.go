package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Profiles select the frame-rate and bitrate tables. "web" mirrors the
// constrained browser host, "desktop" the native one.
const (
	ProfileDesktop = "desktop"
	ProfileWeb     = "web"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	OutputDir string `yaml:"output_dir"`
	TempDir   string `yaml:"temp_dir"`
	Profile   string `yaml:"profile"`

	Render  RenderConfig `yaml:"render"`
	Speech  SpeechConfig `yaml:"speech"`
	Images  ImageConfig  `yaml:"images"`
	Prompts PromptConfig `yaml:"prompts"`
	Music   MusicConfig  `yaml:"music"`
	Proxy   ProxyConfig  `yaml:"proxy"`
	Batch   BatchConfig  `yaml:"batch"`
	FFmpeg  FFmpegConfig `yaml:"ffmpeg"`
	Server  ServerConfig `yaml:"server"`
}

type RenderConfig struct {
	AspectRatio  string  `yaml:"aspect_ratio"`
	Speed        float64 `yaml:"speed"`
	IntroPadding float64 `yaml:"intro_padding"`
	OutroPadding float64 `yaml:"outro_padding"`
	SentenceGap  float64 `yaml:"sentence_gap"`
	SubtitleLead float64 `yaml:"subtitle_lead"`
	CaptureLead  float64 `yaml:"capture_lead"`

	FPS        int `yaml:"fps"`
	LowSpecFPS int `yaml:"low_spec_fps"`

	// Image counts at which low-spec mode switches on by itself.
	LowSpecImagesWeb     int  `yaml:"low_spec_images_web"`
	LowSpecImagesDesktop int  `yaml:"low_spec_images_desktop"`
	LowSpec              bool `yaml:"low_spec"`

	MaxSourceSize        int `yaml:"max_source_size"`
	MaxPreSize           int `yaml:"max_pre_size"`
	LowSpecMaxSourceSize int `yaml:"low_spec_max_source_size"`
	LowSpecMaxPreSize    int `yaml:"low_spec_max_pre_size"`

	// Pre-render workers: 0 picks from the CPU count, 1 forces the synchronous path.
	Workers  int    `yaml:"workers"`
	FontPath string `yaml:"font_path"`
}

type SpeechConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	ResourceID   string        `yaml:"resource_id"`
	AppID        string        `yaml:"app_id,omitempty"`
	AccessKey    string        `yaml:"access_key,omitempty"`
	Voice        string        `yaml:"voice"`
	Emotion      string        `yaml:"emotion"`
	EmotionScale int           `yaml:"emotion_scale"`
	Concurrency  int           `yaml:"concurrency"`
	CacheSize    int           `yaml:"cache_size"`
	Timeout      time.Duration `yaml:"timeout"`
	ViaProxy     bool          `yaml:"via_proxy"`
}

type ImageConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key,omitempty"`
	Size          string        `yaml:"size"`
	Count         int           `yaml:"count"`
	Attempts      int           `yaml:"attempts"`
	RetryWait     time.Duration `yaml:"retry_wait"`
	Timeout       time.Duration `yaml:"timeout"`
	FetchAttempts int           `yaml:"fetch_attempts"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	FetchBackoff  time.Duration `yaml:"fetch_backoff"`
}

type PromptConfig struct {
	Provider     string        `yaml:"provider"`
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key,omitempty"`
	GeminiModel  string        `yaml:"gemini_model"`
	GeminiAPIKey string        `yaml:"gemini_api_key,omitempty"`
	Style        string        `yaml:"style"`
	ViewDistance string        `yaml:"view_distance"`
	Timeout      time.Duration `yaml:"timeout"`
}

type MusicConfig struct {
	Dir    string `yaml:"dir"`
	Track  string `yaml:"track"`
	Volume int    `yaml:"volume"`
}

type ProxyConfig struct {
	// PublicURL is where clients reach /api/proxy; used by the proxy transport strategy.
	PublicURL string        `yaml:"public_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Attempts  int           `yaml:"attempts"`
}

type BatchConfig struct {
	Prefetch int `yaml:"prefetch"`
}

type FFmpegConfig struct {
	Threads      int    `yaml:"threads"`
	Preset       string `yaml:"preset"`
	CRF          int    `yaml:"crf"`
	AudioBitrate string `yaml:"audio_bitrate"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	LogFile string `yaml:"log_file"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// LoadEnv reads .env style files into the process environment.
// Missing files are ignored; existing variables win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides secrets from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DOUBAO_API_KEY"); v != "" {
		c.Images.APIKey = v
		c.Prompts.APIKey = v
	}
	if v := os.Getenv("DOUBAO_TTS_ACCESS_KEY"); v != "" {
		c.Speech.AccessKey = v
	}
	if v := os.Getenv("DOUBAO_TTS_APP_ID"); v != "" {
		c.Speech.AppID = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Prompts.GeminiAPIKey = v
	}
	if v := os.Getenv("STORYREEL_PROXY_URL"); v != "" {
		c.Proxy.PublicURL = v
	}
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// LowSpecThreshold is the image count that switches low-spec on for the
// configured profile.
func (c *Config) LowSpecThreshold() int {
	if c.Profile == ProfileWeb {
		return c.Render.LowSpecImagesWeb
	}
	return c.Render.LowSpecImagesDesktop
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		OutputDir: "./output",
		TempDir:   os.TempDir(),
		Profile:   ProfileDesktop,
		Render: RenderConfig{
			AspectRatio:          "16:9",
			Speed:                1.0,
			IntroPadding:         1.5,
			OutroPadding:         1.5,
			SentenceGap:          0.35,
			SubtitleLead:         0.12,
			CaptureLead:          0.1,
			FPS:                  30,
			LowSpecFPS:           24,
			LowSpecImagesWeb:     6,
			LowSpecImagesDesktop: 8,
			MaxSourceSize:        1280,
			MaxPreSize:           2560,
			LowSpecMaxSourceSize: 800,
			LowSpecMaxPreSize:    1600,
		},
		Speech: SpeechConfig{
			Endpoint:     "https://openspeech.bytedance.com/api/v3/tts/unidirectional",
			ResourceID:   "seed-tts-2.0",
			Voice:        "zh_female_vv_uranus_bigtts",
			EmotionScale: 4,
			Concurrency:  3,
			CacheSize:    64,
			Timeout:      60 * time.Second,
		},
		Images: ImageConfig{
			Endpoint:      "https://ark.cn-beijing.volces.com/api/v3/images/generations",
			Model:         "doubao-seedream-4-5-251128",
			Size:          "2K",
			Count:         4,
			Attempts:      3,
			RetryWait:     3 * time.Second,
			Timeout:       120 * time.Second,
			FetchAttempts: 2,
			FetchTimeout:  60 * time.Second,
			FetchBackoff:  500 * time.Millisecond,
		},
		Prompts: PromptConfig{
			Provider:     "doubao",
			Endpoint:     "https://ark.cn-beijing.volces.com/api/v3/chat/completions",
			Model:        "doubao-seed-1-8-251228",
			GeminiModel:  "gemini-2.5-flash",
			Style:        "Photorealistic",
			ViewDistance: "Default",
			Timeout:      40 * time.Second,
		},
		Music: MusicConfig{
			Dir:    "./bgm",
			Track:  "mixkit-classical-10-717",
			Volume: 60,
		},
		Proxy: ProxyConfig{
			PublicURL: "http://localhost:3000",
			Timeout:   120 * time.Second,
			Attempts:  3,
		},
		Batch: BatchConfig{
			Prefetch: 2,
		},
		FFmpeg: FFmpegConfig{
			Threads:      0,
			Preset:       "medium",
			CRF:          23,
			AudioBitrate: "128k",
		},
		Server: ServerConfig{
			Addr: ":3000",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./storyreel.yaml",
		"./storyreel.yml",
		filepath.Join(os.Getenv("HOME"), ".storyreel", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
