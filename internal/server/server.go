// Package server exposes the proxy, the batch job API and live job events
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/kikiluvv/storyreel/internal/batch"
	"github.com/kikiluvv/storyreel/internal/music"
	"github.com/kikiluvv/storyreel/internal/pipeline"
	"github.com/kikiluvv/storyreel/internal/prompts"
	"github.com/kikiluvv/storyreel/internal/speech"
	"github.com/kikiluvv/storyreel/internal/text"
	"github.com/kikiluvv/storyreel/internal/timeline"
	"github.com/rs/zerolog"
)

const maxJobBody = 1 << 20

// Options configures a server.
type Options struct {
	Addr     string
	MusicDir string
	Prefetch int
	// Proxy is mounted at /api/proxy when set.
	Proxy http.Handler
}

// Server holds the running jobs.
type Server struct {
	logger zerolog.Logger
	opts   Options
	runner batch.Runner
	hub    *hub

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	jobs  map[string]*batch.Scheduler
	order []string
	wg    sync.WaitGroup
}

// New creates a server; runner executes the jobs
func New(logger zerolog.Logger, runner batch.Runner, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := logger.With().Str("component", "server").Logger()
	return &Server{
		logger: l,
		opts:   opts,
		runner: runner,
		hub:    newHub(l),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*batch.Scheduler),
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.opts.Proxy != nil {
		mux.Handle("/api/proxy", s.opts.Proxy)
	}
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/abort", s.handleAbortJob)
	mux.HandleFunc("GET /api/jobs/{id}/items/{n}/video", s.handleVideo)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	if s.opts.MusicDir != "" {
		mux.Handle("GET /bgm/", http.StripPrefix("/bgm/", http.FileServer(http.Dir(s.opts.MusicDir))))
	}
	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// and aborts running jobs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.closeAll()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close aborts every job and waits for them to stop
func (s *Server) Close() {
	s.mu.RLock()
	for _, j := range s.jobs {
		j.Abort()
	}
	s.mu.RUnlock()
	s.cancel()
	s.wg.Wait()
}

// Job returns a job by id
func (s *Server) Job(id string) (*batch.Scheduler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

// JobRequest is the body of POST /api/jobs. Either Texts or Text is given;
// Text is split like a batch file.
type JobRequest struct {
	Texts       []string `json:"texts"`
	Text        string   `json:"text"`
	AspectRatio string   `json:"aspect_ratio"`
	ImageCount  int      `json:"image_count"`
	Voice       string   `json:"voice"`
	Emotion     string   `json:"emotion"`
	Speed       float64  `json:"speed"`
	Music       string   `json:"music"`
	MusicVolume *int     `json:"music_volume"`
	LowSpec     bool     `json:"low_spec"`
	Style       string   `json:"style"`
	View        string   `json:"view"`
}

func (r JobRequest) template() pipeline.Request {
	vol := -1
	if r.MusicVolume != nil {
		vol = *r.MusicVolume
	}
	return pipeline.Request{
		AspectRatio: r.AspectRatio,
		ImageCount:  r.ImageCount,
		Voice:       r.Voice,
		Emotion:     r.Emotion,
		Speed:       r.Speed,
		Music:       r.Music,
		MusicVolume: vol,
		LowSpec:     r.LowSpec,
		Style:       r.Style,
		View:        r.View,
	}
}

// JobView is the JSON form of a job.
type JobView struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Aborted   bool         `json:"aborted"`
	Finished  bool         `json:"finished"`
	Items     []batch.Item `json:"items"`
}

func view(j *batch.Scheduler) JobView {
	finished := false
	select {
	case <-j.Done():
		finished = true
	default:
	}
	return JobView{
		ID:        j.ID(),
		CreatedAt: j.CreatedAt(),
		Aborted:   j.Aborted(),
		Finished:  finished,
		Items:     j.Snapshot(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	jobs := len(s.order)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   jobs,
	})
}

// Catalog lists the selectable options.
type Catalog struct {
	Voices   []speech.Option `json:"voices"`
	Emotions []speech.Option `json:"emotions"`
	Music    []music.Track   `json:"music"`
	Ratios   []string        `json:"ratios"`
	Speeds   []float64       `json:"speeds"`
	Styles   []string        `json:"styles"`
}

// NewCatalog collects the built-in catalogs
func NewCatalog() Catalog {
	return Catalog{
		Voices:   speech.Voices,
		Emotions: speech.Emotions,
		Music:    music.Catalog,
		Ratios:   timeline.Ratios,
		Speeds:   timeline.Speeds(),
		Styles:   slices.Sorted(maps.Keys(prompts.StyleKeywords)),
	}
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewCatalog())
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJobBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	texts := req.Texts
	if len(texts) == 0 && req.Text != "" {
		texts = text.SplitBatch(req.Text)
	}
	if len(texts) == 0 {
		writeError(w, http.StatusBadRequest, "no texts")
		return
	}

	job := batch.New(s.logger, s.runner, texts, batch.Options{
		Prefetch: s.opts.Prefetch,
		Template: req.template(),
	})

	s.mu.Lock()
	s.jobs[job.ID()] = job
	s.order = append(s.order, job.ID())
	s.mu.Unlock()

	updates, stop := job.Subscribe()
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		for it := range updates {
			s.hub.broadcast(Event{Type: "item", Item: it})
		}
	}()
	go func() {
		defer s.wg.Done()
		defer stop()
		job.Run(s.ctx)
	}()

	s.logger.Info().Str("job", job.ID()).Int("items", len(texts)).Msg("Job created")
	writeJSON(w, http.StatusAccepted, view(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]JobView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, view(s.jobs[id]))
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, view(job))
}

func (s *Server) handleAbortJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Abort()
	writeJSON(w, http.StatusAccepted, view(job))
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	job, ok := s.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item index")
		return
	}
	res := job.Result(n)
	if res == nil || res.Container == nil {
		writeError(w, http.StatusNotFound, "video not ready")
		return
	}
	w.Header().Set("Content-Type", res.Container.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Container.Data)))
	w.Write(res.Container.Data)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("Request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
