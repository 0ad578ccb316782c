package batch

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kikiluvv/storyreel/internal/capture"
	"github.com/kikiluvv/storyreel/internal/pipeline"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

type fakeRunner struct {
	mu        sync.Mutex
	prepared  []string
	recorded  []string
	preparing atomic.Int32
	maxPrep   atomic.Int32
	recording atomic.Int32
	maxRec    atomic.Int32

	failPrepare map[string]error
	// recordStarted receives the text of each recording as it begins.
	recordStarted chan string
	// blockRecord makes Record wait for cancellation for these texts.
	blockRecord map[string]bool
	recordDelay time.Duration
}

func bump(cur *atomic.Int32, peak *atomic.Int32) {
	n := cur.Add(1)
	for {
		p := peak.Load()
		if n <= p || peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (f *fakeRunner) Prepare(ctx context.Context, req pipeline.Request, onStatus pipeline.StatusFunc) (*pipeline.Assets, error) {
	bump(&f.preparing, &f.maxPrep)
	defer f.preparing.Add(-1)

	onStatus(pipeline.Status{Stage: pipeline.StageGeneratingPrompts})
	f.mu.Lock()
	f.prepared = append(f.prepared, req.Text)
	err := f.failPrepare[req.Text]
	f.mu.Unlock()

	select {
	case <-time.After(5 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	onStatus(pipeline.Status{Stage: pipeline.StageGeneratingImages, Title: "T-" + req.Text})
	return &pipeline.Assets{Request: req, Title: "T-" + req.Text}, nil
}

func (f *fakeRunner) Record(ctx context.Context, a *pipeline.Assets, onStatus pipeline.StatusFunc) (*pipeline.Result, error) {
	bump(&f.recording, &f.maxRec)
	defer f.recording.Add(-1)

	text := a.Request.Text
	f.mu.Lock()
	f.recorded = append(f.recorded, text)
	block := f.blockRecord[text]
	f.mu.Unlock()
	if f.recordStarted != nil {
		f.recordStarted <- text
	}

	onStatus(pipeline.Status{Stage: pipeline.StageRecording, Progress: 50})
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	select {
	case <-time.After(f.recordDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &pipeline.Result{
		Container: &capture.Container{Data: []byte(text), MIME: "video/webm"},
		Title:     a.Title,
		Duration:  4.2,
	}, nil
}

func newScheduler(r Runner, texts ...string) *Scheduler {
	return New(zerolog.New(io.Discard), r, texts, Options{Slot: semaphore.NewWeighted(1)})
}

func TestRunCompletesInOrder(t *testing.T) {
	r := &fakeRunner{recordDelay: 2 * time.Millisecond}
	s := newScheduler(r, "a", "b", "c", "d")

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, it := range s.Snapshot() {
		if it.Status != StatusDone || it.Progress != 100 || it.Title != "T-"+it.Text {
			t.Errorf("item %d: %+v", i, it)
		}
		if s.Result(i) == nil {
			t.Errorf("item %d has no result", i)
		}
	}
	if got := r.recorded; len(got) != 4 || got[0] != "a" || got[3] != "d" {
		t.Errorf("recorded %v", got)
	}
	if r.maxRec.Load() != 1 {
		t.Errorf("recordings overlapped: %d", r.maxRec.Load())
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestPrefetchWindow(t *testing.T) {
	r := &fakeRunner{recordDelay: 20 * time.Millisecond}
	s := newScheduler(r, "a", "b", "c", "d", "e", "f")
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// the recording item plus DefaultPrefetch ahead of it
	if got := r.maxPrep.Load(); got > DefaultPrefetch+1 {
		t.Errorf("%d preparations in flight", got)
	}
	if got := r.maxPrep.Load(); got < 2 {
		t.Errorf("preparation should overlap recording, peak %d", got)
	}
}

func TestPrepareFailureDoesNotStopBatch(t *testing.T) {
	r := &fakeRunner{failPrepare: map[string]error{"b": errors.New("tts down")}}
	s := newScheduler(r, "a", "b", "c")
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	items := s.Snapshot()
	if items[1].Status != StatusError || items[1].Error == "" {
		t.Errorf("item b: %+v", items[1])
	}
	if items[0].Status != StatusDone || items[2].Status != StatusDone {
		t.Errorf("other items should finish: %+v", items)
	}
	if s.Result(1) != nil {
		t.Error("failed item must have no result")
	}
}

func TestAbortMidRecording(t *testing.T) {
	r := &fakeRunner{
		recordStarted: make(chan string, 3),
		blockRecord:   map[string]bool{"two": true},
	}
	s := newScheduler(r, "one", "two", "three")

	go func() {
		for text := range r.recordStarted {
			if text == "two" {
				s.Abort()
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not stop after abort")
	}

	items := s.Snapshot()
	if items[0].Status != StatusDone || s.Result(0) == nil {
		t.Errorf("first item: %+v", items[0])
	}
	if items[1].Status != StatusError || s.Result(1) != nil {
		t.Errorf("interrupted item must be an error without output: %+v", items[1])
	}
	if items[2].Status != StatusPending || s.Result(2) != nil {
		t.Errorf("third item must stay pending: %+v", items[2])
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, text := range r.recorded {
		if text == "three" {
			t.Error("third item was recorded")
		}
	}
	if !s.Aborted() {
		t.Error("Aborted should report true")
	}
}

func TestAbortBeforeRun(t *testing.T) {
	r := &fakeRunner{}
	s := newScheduler(r, "a", "b")
	s.Abort()
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, it := range s.Snapshot() {
		if it.Status != StatusPending {
			t.Errorf("%+v", it)
		}
	}
	if len(r.prepared) != 0 {
		t.Error("nothing should start")
	}
}

func TestSharedSlotSerializesJobs(t *testing.T) {
	r := &fakeRunner{recordDelay: 10 * time.Millisecond}
	slot := semaphore.NewWeighted(1)
	a := New(zerolog.Nop(), r, []string{"a1", "a2"}, Options{Slot: slot})
	b := New(zerolog.Nop(), r, []string{"b1", "b2"}, Options{Slot: slot})

	var wg sync.WaitGroup
	for _, s := range []*Scheduler{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Run(context.Background())
		}()
	}
	wg.Wait()

	if r.maxRec.Load() != 1 {
		t.Errorf("recordings overlapped across jobs: %d", r.maxRec.Load())
	}
}

func TestSubscribe(t *testing.T) {
	r := &fakeRunner{}
	s := newScheduler(r, "a")
	updates, stop := s.Subscribe()
	defer stop()

	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	var last Item
	for {
		select {
		case it := <-updates:
			last = it
			continue
		default:
		}
		break
	}
	if last.Status != StatusDone || last.JobID != s.ID() || last.ID == "" {
		t.Errorf("last update %+v", last)
	}
}
