package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeGateway returns the text bytes as "PCM" after a random delay.
type fakeGateway struct {
	calls   atomic.Int32
	failOn  string
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeGateway) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
	if req.Text == f.failOn {
		return nil, fmt.Errorf("%w: quota", ErrRejected)
	}
	return []byte(req.Text), nil
}

func TestSynthesizeAllPreservesOrder(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	for _, conc := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("concurrency_%d", conc), func(t *testing.T) {
			gw := &fakeGateway{}
			out, err := SynthesizeAll(context.Background(), gw, texts, "v", "", conc)
			if err != nil {
				t.Fatalf("SynthesizeAll: %v", err)
			}
			for i, pcm := range out {
				if string(pcm) != texts[i] {
					t.Errorf("slot %d: got %q want %q", i, pcm, texts[i])
				}
			}
			if int(gw.peak.Load()) > conc {
				t.Errorf("concurrency limit exceeded: peak %d", gw.peak.Load())
			}
		})
	}
}

func TestSynthesizeAllFailsWhole(t *testing.T) {
	gw := &fakeGateway{failOn: "c"}
	out, err := SynthesizeAll(context.Background(), gw, []string{"a", "b", "c", "d"}, "v", "", 2)
	if err == nil {
		t.Fatal("expected failure")
	}
	if out != nil {
		t.Error("no partial narration should be returned")
	}
	if !errors.Is(err, ErrRejected) {
		t.Errorf("rejection should be preserved: %v", err)
	}
}

func TestCacheDropsOldest(t *testing.T) {
	c := NewCache(2)
	r1 := Request{Text: "one", Voice: "v"}
	r2 := Request{Text: "two", Voice: "v"}
	r3 := Request{Text: "three", Voice: "v"}

	c.Put(r1, []byte{1})
	c.Put(r2, []byte{2})
	c.Put(r3, []byte{3})

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get(r1); ok {
		t.Error("oldest entry should be evicted")
	}
	if pcm, ok := c.Get(r3); !ok || pcm[0] != 3 {
		t.Error("newest entry missing")
	}

	// voice and emotion are part of the key
	if _, ok := c.Get(Request{Text: "two", Voice: "other"}); ok {
		t.Error("different voice must miss")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Error("clear did not empty the cache")
	}
}

func TestCachedGateway(t *testing.T) {
	inner := &fakeGateway{}
	gw := WithCache(inner, NewCache(8))

	for i := 0; i < 3; i++ {
		if _, err := gw.Synthesize(context.Background(), Request{Text: "same"}); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Errorf("expected one upstream call, got %d", inner.calls.Load())
	}

	gw.Cache().Clear()
	gw.Synthesize(context.Background(), Request{Text: "same"})
	if inner.calls.Load() != 2 {
		t.Error("cleared cache should call through")
	}
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(0)
	c.Put(Request{Text: "x"}, []byte{1})
	if c.Len() != 0 {
		t.Error("zero limit should not store")
	}
}

func ndjson(lines ...any) string {
	var sb strings.Builder
	for _, l := range lines {
		b, _ := json.Marshal(l)
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func TestParseStream(t *testing.T) {
	chunk1 := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0, 3})
	chunk2 := base64.StdEncoding.EncodeToString([]byte{0, 4, 0})

	body := ndjson(
		map[string]any{"code": 0, "data": chunk1},
		map[string]any{"code": 0, "data": chunk2},
		map[string]any{"code": 20000000, "message": "ok"},
	)

	pcm, err := ParseStream([]byte(body))
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}
	want := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	if string(pcm) != string(want) {
		t.Errorf("got %v want %v", pcm, want)
	}
}

func TestParseStreamErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		rejected bool
	}{
		{"rejection", ndjson(map[string]any{"code": 55000000, "message": "quota exceeded"}), true},
		{"html", "<!DOCTYPE html><html><body>gateway</body></html>", false},
		{"empty", "", false},
		{"no audio", ndjson(map[string]any{"code": 20000000}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStream([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrRejected) != tt.rejected {
				t.Errorf("rejected=%v, err=%v", tt.rejected, err)
			}
		})
	}
}

func TestDoubaoClientRequest(t *testing.T) {
	pcm := []byte{10, 0, 20, 0}
	var mu sync.Mutex
	var gotHeaders http.Header
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotHeaders = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		io.WriteString(w, ndjson(
			map[string]any{"code": 0, "data": base64.StdEncoding.EncodeToString(pcm)},
			map[string]any{"code": 20000000},
		))
	}))
	defer srv.Close()

	c := NewDoubaoClient(zerolog.Nop(), DoubaoConfig{
		Endpoint:  srv.URL,
		AppID:     "app",
		AccessKey: "secret",
	})

	out, err := c.Synthesize(context.Background(), Request{Text: "你好。", Voice: "v1", Emotion: "happy", EmotionScale: 9})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(out) != string(pcm) {
		t.Errorf("pcm: got %v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotHeaders.Get("X-Api-App-Id") != "app" || gotHeaders.Get("X-Api-Access-Key") != "secret" {
		t.Errorf("auth headers missing: %v", gotHeaders)
	}
	if gotHeaders.Get("X-Api-Resource-Id") != "seed-tts-2.0" {
		t.Errorf("resource id: %q", gotHeaders.Get("X-Api-Resource-Id"))
	}

	params := gotBody["req_params"].(map[string]any)
	audio := params["audio_params"].(map[string]any)
	if audio["format"] != "pcm" || audio["sample_rate"].(float64) != 24000 {
		t.Errorf("audio params: %v", audio)
	}
	if audio["emotion_scale"].(float64) != 5 {
		t.Errorf("emotion scale should clamp to 5, got %v", audio["emotion_scale"])
	}
	if params["speaker"] != "v1" {
		t.Errorf("speaker: %v", params["speaker"])
	}
}

func TestDoubaoClientAPIKeyAndProxy(t *testing.T) {
	var gotPath, gotTarget, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTarget = r.URL.Query().Get("url")
		gotKey = r.Header.Get("X-Api-Key")
		io.WriteString(w, ndjson(map[string]any{"code": 0, "data": base64.StdEncoding.EncodeToString([]byte{1, 2})}))
	}))
	defer srv.Close()

	c := NewDoubaoClient(zerolog.Nop(), DoubaoConfig{
		Endpoint:  "https://openspeech.example/tts",
		AccessKey: "k",
		ProxyBase: srv.URL,
	})
	if _, err := c.Synthesize(context.Background(), Request{Text: "hi"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/api/proxy" || gotTarget != "https://openspeech.example/tts" {
		t.Errorf("not proxied: %s %s", gotPath, gotTarget)
	}
	if gotKey != "k" {
		t.Errorf("x-api-key: %q", gotKey)
	}
}

func TestDoubaoClientRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"bad key"}`)
	}))
	defer srv.Close()

	c := NewDoubaoClient(zerolog.Nop(), DoubaoConfig{Endpoint: srv.URL, AccessKey: "k"})
	_, err := c.Synthesize(context.Background(), Request{Text: "hi"})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("401 should be a rejection: %v", err)
	}

	missing := NewDoubaoClient(zerolog.Nop(), DoubaoConfig{Endpoint: srv.URL})
	if _, err := missing.Synthesize(context.Background(), Request{Text: "hi"}); !errors.Is(err, ErrRejected) {
		t.Errorf("missing key should be a rejection: %v", err)
	}
}

func TestClampEmotionScale(t *testing.T) {
	cases := map[int]int{0: 4, -3: 1, 1: 1, 3: 3, 5: 5, 12: 5}
	for in, want := range cases {
		if got := ClampEmotionScale(in); got != want {
			t.Errorf("ClampEmotionScale(%d) = %d, want %d", in, got, want)
		}
	}
}
