package imagefetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type stubStrategy struct {
	name  string
	fails int
	calls atomic.Int32
	data  []byte
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Fetch(ctx context.Context, target string) ([]byte, error) {
	n := s.calls.Add(1)
	if int(n) <= s.fails {
		return nil, errors.New("boom")
	}
	return s.data, nil
}

func TestFetchFallsThroughStrategies(t *testing.T) {
	direct := &stubStrategy{name: "direct", fails: 100}
	proxy := &stubStrategy{name: "proxy", data: []byte("ok")}

	f := New(zerolog.Nop(), Options{Attempts: 2, Backoff: time.Millisecond}, direct, proxy)
	res := f.Fetch(context.Background(), "https://example.com/a.png")

	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Strategy != "proxy" {
		t.Errorf("strategy: got %s", res.Strategy)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts: got %d, want 3", res.Attempts)
	}
	if direct.calls.Load() != 2 {
		t.Errorf("direct should be tried twice, got %d", direct.calls.Load())
	}
}

func TestFetchWaitsBetweenAttemptsByDefault(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []time.Time
	)
	flaky := StrategyFunc("direct", func(ctx context.Context, _ string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, time.Now())
		if len(calls) == 1 {
			return nil, errors.New("connection reset")
		}
		return []byte("ok"), nil
	})

	f := New(zerolog.Nop(), Options{Budget: 5 * time.Second, Attempts: 2}, flaky)
	if res := f.Fetch(context.Background(), "x"); !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if len(calls) != 2 {
		t.Fatalf("calls: got %d", len(calls))
	}
	if gap := calls[1].Sub(calls[0]); gap < DefaultBackoff {
		t.Errorf("retried after %v, want at least %v", gap, DefaultBackoff)
	}
}

func TestFetchExhausted(t *testing.T) {
	f := New(zerolog.Nop(), Options{Attempts: 1},
		&stubStrategy{name: "direct", fails: 100},
		&stubStrategy{name: "proxy", fails: 100},
	)
	res := f.Fetch(context.Background(), "x")
	if res.OK() {
		t.Fatal("expected exhaustion")
	}
	if !strings.HasPrefix(res.Err.Error(), "proxy:") {
		t.Errorf("expected last error from proxy, got %v", res.Err)
	}
}

func TestFetchSharesBudget(t *testing.T) {
	slow := StrategyFunc("slow", func(ctx context.Context, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	never := &stubStrategy{name: "never", data: []byte("x")}

	f := New(zerolog.Nop(), Options{Budget: 50 * time.Millisecond, Attempts: 1}, slow, never)
	start := time.Now()
	res := f.Fetch(context.Background(), "x")

	if res.OK() {
		t.Fatal("budget should be spent by the first strategy")
	}
	if never.calls.Load() != 0 {
		t.Error("later strategies must not run after the budget is gone")
	}
	if time.Since(start) > time.Second {
		t.Error("budget not enforced")
	}
}

func TestDirectAndProxyOverHTTP(t *testing.T) {
	img := pngBytes(t, 4, 4)
	var proxied atomic.Int32

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blocked.png" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(img)
	}))
	defer upstream.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		if r.URL.Path != "/api/proxy" || r.URL.Query().Get("url") == "" {
			t.Errorf("unexpected proxy request %s", r.URL)
		}
		w.Write(img)
	}))
	defer proxy.Close()

	f := New(zerolog.Nop(), Options{Attempts: 1},
		Direct{Client: upstream.Client()},
		Proxy{Base: proxy.URL},
	)

	ok := f.Fetch(context.Background(), upstream.URL+"/fine.png")
	if !ok.OK() || ok.Strategy != "direct" {
		t.Errorf("direct fetch: %+v", ok)
	}

	fallback := f.Fetch(context.Background(), upstream.URL+"/blocked.png")
	if !fallback.OK() || fallback.Strategy != "proxy" {
		t.Errorf("proxy fallback: %+v", fallback)
	}
	if proxied.Load() != 1 {
		t.Errorf("expected one proxied request, got %d", proxied.Load())
	}
}

func TestFetchAllDropsInvalidAndKeepsOrder(t *testing.T) {
	good := pngBytes(t, 8, 6)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/corrupt":
			w.Write([]byte("not an image"))
		case "/slow":
			time.Sleep(30 * time.Millisecond)
			w.Write(good)
		default:
			w.Write(good)
		}
	}))
	defer srv.Close()

	f := New(zerolog.Nop(), Options{Attempts: 1, Concurrency: 4}, Direct{Client: srv.Client()})
	urls := []string{srv.URL + "/slow", srv.URL + "/a", srv.URL + "/corrupt", srv.URL + "/b"}

	assets, failures, err := f.FetchAll(context.Background(), urls)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 usable images, got %d", len(assets))
	}
	for i, want := range []int{0, 1, 3} {
		if assets[i].Index != want {
			t.Errorf("asset %d has index %d, want %d", i, assets[i].Index, want)
		}
	}
	if len(failures) != 1 || failures[0].Index != 2 {
		t.Errorf("unexpected failures %+v", failures)
	}
	if assets[0].Format != "png" || assets[0].Image.Bounds().Dx() != 8 {
		t.Errorf("decoded asset wrong: %s %v", assets[0].Format, assets[0].Image.Bounds())
	}
}

func TestFetchAllNothingUsable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("garbage"))
	}))
	defer srv.Close()

	f := New(zerolog.Nop(), Options{Attempts: 1}, Direct{Client: srv.Client()})
	_, failures, err := f.FetchAll(context.Background(), []string{srv.URL + "/1", srv.URL + "/2"})
	if !errors.Is(err, ErrNoUsableAssets) {
		t.Fatalf("expected ErrNoUsableAssets, got %v", err)
	}
	if len(failures) != 2 {
		t.Errorf("expected both failures reported, got %d", len(failures))
	}
}

func TestProxyURL(t *testing.T) {
	p := Proxy{Base: "http://localhost:3000/"}
	got := p.URL("https://a.b/c?d=e&f=g")
	want := "http://localhost:3000/api/proxy?url=https%3A%2F%2Fa.b%2Fc%3Fd%3De%26f%3Dg"
	if got != want {
		t.Errorf("got %s", got)
	}
}
