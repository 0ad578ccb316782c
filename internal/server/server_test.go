package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kikiluvv/storyreel/internal/batch"
	"github.com/kikiluvv/storyreel/internal/capture"
	"github.com/kikiluvv/storyreel/internal/pipeline"
	"github.com/kikiluvv/storyreel/internal/proxy"
	"github.com/rs/zerolog"
)

type fakeRunner struct {
	block   bool
	started chan struct{}
}

func (f *fakeRunner) Prepare(ctx context.Context, req pipeline.Request, onStatus pipeline.StatusFunc) (*pipeline.Assets, error) {
	onStatus(pipeline.Status{Stage: pipeline.StageGeneratingPrompts})
	return &pipeline.Assets{Request: req, Title: strings.ToUpper(req.Text)}, nil
}

func (f *fakeRunner) Record(ctx context.Context, a *pipeline.Assets, onStatus pipeline.StatusFunc) (*pipeline.Result, error) {
	if f.block {
		if f.started != nil {
			close(f.started)
			f.started = nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &pipeline.Result{
		Container: &capture.Container{Data: []byte("webm:" + a.Request.Text), MIME: capture.VP8.MIME()},
		Title:     a.Title,
		Duration:  3,
	}, nil
}

func newTestServer(t *testing.T, r batch.Runner, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(zerolog.New(io.Discard), r, opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func createJob(t *testing.T, base string, req JobRequest) JobView {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(base+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create job: %d", resp.StatusCode)
	}
	var v JobView
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func getJob(t *testing.T, base, id string) JobView {
	t.Helper()
	resp, err := http.Get(base + "/api/jobs/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var v JobView
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func waitFinished(t *testing.T, base, id string) JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v := getJob(t, base, id); v.Finished {
			return v
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return JobView{}
}

func TestJobLifecycle(t *testing.T) {
	_, ts := newTestServer(t, &fakeRunner{}, Options{})

	v := createJob(t, ts.URL, JobRequest{Text: "first story\n---\nsecond story"})
	if len(v.Items) != 2 || v.Items[1].Text != "second story" {
		t.Fatalf("items %+v", v.Items)
	}

	v = waitFinished(t, ts.URL, v.ID)
	for _, it := range v.Items {
		if it.Status != batch.StatusDone || it.Title != strings.ToUpper(it.Text) {
			t.Errorf("item %+v", it)
		}
	}

	resp, err := http.Get(ts.URL + "/api/jobs/" + v.ID + "/items/1/video")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(data) != "webm:second story" {
		t.Errorf("video %d %q", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/webm; codecs=vp8,opus" {
		t.Errorf("content type %q", ct)
	}

	resp, err = http.Get(ts.URL + "/api/jobs")
	if err != nil {
		t.Fatal(err)
	}
	var list []JobView
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0].ID != v.ID {
		t.Errorf("list %+v", list)
	}
}

func TestCreateJobRejectsEmpty(t *testing.T) {
	_, ts := newTestServer(t, &fakeRunner{}, Options{})
	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", strings.NewReader(`{"text":"  \n\n "}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestUnknownJobAndVideo(t *testing.T) {
	_, ts := newTestServer(t, &fakeRunner{}, Options{})
	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/items/0/video"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: %d", path, resp.StatusCode)
		}
	}
}

func TestAbortJob(t *testing.T) {
	started := make(chan struct{})
	_, ts := newTestServer(t, &fakeRunner{block: true, started: started}, Options{})

	v := createJob(t, ts.URL, JobRequest{Texts: []string{"a", "b", "c"}})
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("recording never started")
	}

	resp, err := http.Post(ts.URL+"/api/jobs/"+v.ID+"/abort", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	v = waitFinished(t, ts.URL, v.ID)
	if !v.Aborted {
		t.Error("job should be marked aborted")
	}
	if v.Items[0].Status != batch.StatusError || v.Items[2].Status != batch.StatusPending {
		t.Errorf("items %+v", v.Items)
	}

	resp, err = http.Get(ts.URL + "/api/jobs/" + v.ID + "/items/0/video")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("aborted item must have no video: %d", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	s, ts := newTestServer(t, &fakeRunner{}, Options{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.hub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	v := createJob(t, ts.URL, JobRequest{Texts: []string{"only"}})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type != "item" || ev.Item.JobID != v.ID {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Item.Status == batch.StatusDone {
			break
		}
	}
}

func TestCatalogProxyAndMusic(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "track.mp3"), []byte("ID3"), 0644); err != nil {
		t.Fatal(err)
	}
	_, ts := newTestServer(t, &fakeRunner{}, Options{
		MusicDir: dir,
		Proxy:    proxy.New(zerolog.Nop(), proxy.Options{}),
	})

	resp, err := http.Get(ts.URL + "/api/catalog")
	if err != nil {
		t.Fatal(err)
	}
	var c Catalog
	json.NewDecoder(resp.Body).Decode(&c)
	resp.Body.Close()
	if len(c.Voices) == 0 || len(c.Music) == 0 || len(c.Ratios) != 5 || len(c.Speeds) != 13 || len(c.Styles) == 0 {
		t.Errorf("catalog %+v", c)
	}

	if err := proxy.HealthCheck(context.Background(), nil, ts.URL); err != nil {
		t.Errorf("proxy not mounted: %v", err)
	}

	resp, err = http.Get(ts.URL + "/bgm/track.mp3")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(data) != "ID3" {
		t.Errorf("bgm %q", data)
	}
}
