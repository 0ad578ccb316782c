// Package batch runs the pipeline over many texts: asset preparation is
// prefetched a few items ahead while recordings run one at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kikiluvv/storyreel/internal/pipeline"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultPrefetch is how many items are prepared ahead of the recording one.
const DefaultPrefetch = 2

// Status of one batch item
type Status string

const (
	StatusPending           Status = "pending"
	StatusGeneratingPrompts Status = "generating_prompts"
	StatusGeneratingImages  Status = "generating_images"
	StatusRecording         Status = "recording"
	StatusDone              Status = "done"
	StatusError             Status = "error"
)

// Terminal reports whether s is done or error
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// ErrAborted marks an item whose recording was cut short.
var ErrAborted = errors.New("aborted")

// recordSlot serializes recordings across every scheduler in the process.
var recordSlot = semaphore.NewWeighted(1)

// Item is the public view of one text in a batch.
type Item struct {
	JobID    string        `json:"job_id"`
	ID       string        `json:"id"`
	Index    int           `json:"index"`
	Text     string        `json:"text"`
	Title    string        `json:"title"`
	Status   Status        `json:"status"`
	Progress float64       `json:"progress"`
	Duration float64       `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	Kind     pipeline.Kind `json:"kind,omitempty"`
	Notices  []string      `json:"notices,omitempty"`
}

// Runner is the part of the pipeline the scheduler drives.
type Runner interface {
	Prepare(ctx context.Context, req pipeline.Request, onStatus pipeline.StatusFunc) (*pipeline.Assets, error)
	Record(ctx context.Context, assets *pipeline.Assets, onStatus pipeline.StatusFunc) (*pipeline.Result, error)
}

// Options configures a scheduler.
type Options struct {
	// Prefetch items are prepared ahead of the recording cursor.
	Prefetch int
	// Template supplies every request field except Text.
	Template pipeline.Request
	// Slot guards recording; nil shares the process-wide slot.
	Slot *semaphore.Weighted
}

// Scheduler owns one batch job.
type Scheduler struct {
	logger zerolog.Logger
	runner Runner
	opts   Options
	id     string

	mu      sync.RWMutex
	items   []Item
	results []*pipeline.Result
	subs    map[int]chan Item
	nextSub int
	cancel  context.CancelFunc

	started   atomic.Bool
	aborted   atomic.Bool
	done      chan struct{}
	createdAt time.Time
}

// New creates a scheduler with every text pending
func New(logger zerolog.Logger, runner Runner, texts []string, opts Options) *Scheduler {
	if opts.Prefetch <= 0 {
		opts.Prefetch = DefaultPrefetch
	}
	if opts.Slot == nil {
		opts.Slot = recordSlot
	}
	id := uuid.NewString()
	items := make([]Item, len(texts))
	for i, t := range texts {
		items[i] = Item{JobID: id, ID: uuid.NewString(), Index: i, Text: t, Status: StatusPending}
	}
	return &Scheduler{
		logger:    logger.With().Str("component", "batch").Str("job", id).Logger(),
		runner:    runner,
		opts:      opts,
		id:        id,
		items:     items,
		results:   make([]*pipeline.Result, len(texts)),
		subs:      make(map[int]chan Item),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
}

// ID returns the job id
func (s *Scheduler) ID() string {
	return s.id
}

// CreatedAt returns when the job was created
func (s *Scheduler) CreatedAt() time.Time {
	return s.createdAt
}

// Done is closed when Run returns
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns a copy of every item
func (s *Scheduler) Snapshot() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Result returns the finished video of item i, or nil
func (s *Scheduler) Result(i int) *pipeline.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.results) {
		return nil
	}
	return s.results[i]
}

// Subscribe returns a channel of item updates and a func to stop them.
// Slow subscribers miss updates; Snapshot is always current.
func (s *Scheduler) Subscribe() (<-chan Item, func()) {
	ch := make(chan Item, 64)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Abort stops starting new items and cuts the current recording short.
func (s *Scheduler) Abort() {
	if s.aborted.Swap(true) {
		return
	}
	s.logger.Info().Msg("Batch aborted")
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Aborted reports whether Abort was called
func (s *Scheduler) Aborted() bool {
	return s.aborted.Load()
}

func (s *Scheduler) update(i int, fn func(*Item)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := &s.items[i]
	if it.Status.Terminal() {
		return
	}
	fn(it)
	for _, ch := range s.subs {
		select {
		case ch <- *it:
		default:
		}
	}
}

type prepared struct {
	assets *pipeline.Assets
	err    error
}

// Run processes every item. It returns when the batch is finished or
// aborted; per-item failures are recorded on the items, not returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.started.Swap(true) {
		return fmt.Errorf("batch %s already started", s.id)
	}
	defer close(s.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.aborted.Load() {
		cancel()
	}

	n := len(s.items)
	ready := make([]chan prepared, n)
	for i := range ready {
		ready[i] = make(chan prepared, 1)
	}

	var wg sync.WaitGroup
	launched := 0
	launchThrough := func(last int) {
		for launched < n && launched <= last && !s.stopped(runCtx) {
			i := launched
			launched++
			s.update(i, func(it *Item) {
				it.Status = StatusGeneratingPrompts
				it.Progress = 2
			})
			req := s.request(i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				a, err := s.runner.Prepare(runCtx, req, s.onPrepare(runCtx, i))
				ready[i] <- prepared{assets: a, err: err}
			}()
		}
	}

	s.logger.Info().Int("items", n).Int("prefetch", s.opts.Prefetch).Msg("Batch started")

	for cur := 0; cur < n; cur++ {
		launchThrough(cur + s.opts.Prefetch - 1)
		if s.stopped(runCtx) {
			break
		}

		var p prepared
		select {
		case p = <-ready[cur]:
		case <-runCtx.Done():
			p.err = runCtx.Err()
		}
		if s.stopped(runCtx) {
			break
		}
		if p.err != nil {
			s.fail(cur, p.err)
			continue
		}
		s.update(cur, func(it *Item) { it.Title = p.assets.Title })

		launchThrough(cur + s.opts.Prefetch)
		s.record(runCtx, cur, p.assets)
	}

	cancel()
	wg.Wait()

	// anything not recorded returns to pending
	for i := range s.items {
		s.update(i, func(it *Item) {
			it.Status = StatusPending
			it.Progress = 0
		})
	}

	s.logger.Info().Bool("aborted", s.aborted.Load()).Msg("Batch finished")
	return nil
}

func (s *Scheduler) stopped(ctx context.Context) bool {
	return s.aborted.Load() || ctx.Err() != nil
}

func (s *Scheduler) request(i int) pipeline.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req := s.opts.Template
	req.Text = s.items[i].Text
	return req
}

func (s *Scheduler) onPrepare(ctx context.Context, i int) pipeline.StatusFunc {
	return func(st pipeline.Status) {
		if s.stopped(ctx) {
			return
		}
		s.update(i, func(it *Item) {
			if st.Title != "" {
				it.Title = st.Title
			}
			switch st.Stage {
			case pipeline.StageGeneratingPrompts:
				it.Status, it.Progress = StatusGeneratingPrompts, 5
			case pipeline.StageGeneratingImages, pipeline.StageSynthesizing:
				it.Status, it.Progress = StatusGeneratingImages, 15
			}
		})
	}
}

func (s *Scheduler) record(ctx context.Context, i int, assets *pipeline.Assets) {
	if err := s.opts.Slot.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.opts.Slot.Release(1)

	s.update(i, func(it *Item) {
		it.Status = StatusRecording
		it.Progress = 0
	})

	res, err := s.runner.Record(ctx, assets, func(st pipeline.Status) {
		if st.Stage != pipeline.StageRecording || st.Progress == 0 {
			return
		}
		s.update(i, func(it *Item) { it.Progress = min(st.Progress, 99) })
	})
	if err != nil {
		if s.aborted.Load() {
			err = fmt.Errorf("%w: %w", ErrAborted, err)
		}
		s.fail(i, err)
		return
	}

	s.mu.Lock()
	s.results[i] = res
	s.mu.Unlock()
	s.update(i, func(it *Item) {
		it.Status = StatusDone
		it.Progress = 100
		it.Title = res.Title
		it.Duration = res.Duration
		it.Notices = res.Notices
	})
	s.logger.Info().Int("index", i).Str("title", res.Title).Float64("duration", res.Duration).Msg("Item done")
}

func (s *Scheduler) fail(i int, err error) {
	s.logger.Warn().Err(err).Int("index", i).Msg("Item failed")
	s.update(i, func(it *Item) {
		it.Status = StatusError
		it.Progress = 0
		it.Error = err.Error()
		it.Kind = pipeline.KindOf(err)
	})
}
