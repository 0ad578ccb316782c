package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Render.FPS != 30 {
		t.Errorf("expected fps 30, got %d", cfg.Render.FPS)
	}
	if cfg.Render.SentenceGap != 0.35 {
		t.Errorf("expected gap 0.35, got %f", cfg.Render.SentenceGap)
	}
	if cfg.Batch.Prefetch != 2 {
		t.Errorf("expected prefetch 2, got %d", cfg.Batch.Prefetch)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyreel.yaml")

	cfg := Default()
	cfg.Render.AspectRatio = "9:16"
	cfg.Speech.Timeout = 45 * time.Second
	cfg.Music.Volume = 30
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Render.AspectRatio != "9:16" {
		t.Errorf("aspect ratio: got %q", loaded.Render.AspectRatio)
	}
	if loaded.Speech.Timeout != 45*time.Second {
		t.Errorf("timeout: got %v", loaded.Speech.Timeout)
	}
	if loaded.Music.Volume != 30 {
		t.Errorf("volume: got %d", loaded.Music.Volume)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("render:\n  fps: 24\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Render.FPS != 24 {
		t.Errorf("fps: got %d", cfg.Render.FPS)
	}
	if cfg.Render.MaxPreSize != 2560 {
		t.Errorf("max pre size should keep default, got %d", cfg.Render.MaxPreSize)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DOUBAO_API_KEY", "ark-key")
	t.Setenv("DOUBAO_TTS_ACCESS_KEY", "tts-key")
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Images.APIKey != "ark-key" || cfg.Prompts.APIKey != "ark-key" {
		t.Errorf("doubao key not applied: %q %q", cfg.Images.APIKey, cfg.Prompts.APIKey)
	}
	if cfg.Speech.AccessKey != "tts-key" {
		t.Errorf("tts key not applied: %q", cfg.Speech.AccessKey)
	}
	if cfg.Prompts.GeminiAPIKey != "gem-key" {
		t.Errorf("gemini key not applied: %q", cfg.Prompts.GeminiAPIKey)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("STORYREEL_TEST_VALUE=hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("STORYREEL_TEST_VALUE") })

	if err := LoadEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("STORYREEL_TEST_VALUE"); got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestLowSpecThreshold(t *testing.T) {
	cfg := Default()
	if got := cfg.LowSpecThreshold(); got != 8 {
		t.Errorf("desktop threshold: got %d", got)
	}
	cfg.Profile = ProfileWeb
	if got := cfg.LowSpecThreshold(); got != 6 {
		t.Errorf("web threshold: got %d", got)
	}
}

func TestContextRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.OutputDir = "/tmp/x"
	ctx := WithConfig(context.Background(), cfg)
	if FromContext(ctx).OutputDir != "/tmp/x" {
		t.Error("config not stored in context")
	}
	if FromContext(context.Background()) == nil {
		t.Error("expected defaults without stored config")
	}
}
