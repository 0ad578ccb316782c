// Package music resolves and decodes the looping background track.
package music

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kikiluvv/storyreel/internal/audio"
	"github.com/kikiluvv/storyreel/internal/ffmpeg"
	"github.com/kikiluvv/storyreel/internal/imagefetch"
	"github.com/rs/zerolog"
)

// None selects a narration-only video.
const None = "none"

// DefaultTrack is the piano narrative piece.
const DefaultTrack = "mixkit-classical-10-717"

const previewBase = "https://assets.mixkit.co/music/preview/"

// Track is a catalog entry.
type Track struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// Catalog lists the selectable tracks, None first.
var Catalog = []Track{
	{ID: None, Label: "No music"},
	track("mixkit-classical-vibes-4-684", "Classical Vibes IV"),
	track("mixkit-classical-vibes-5-688", "Classical Vibes V"),
	track("mixkit-classical-vibes-2-682", "Classical Vibes II"),
	track("mixkit-upbeat-jazz-644", "Upbeat Jazz"),
	track("mixkit-classical-7-714", "Classical Lyrical"),
	track("mixkit-classical-10-717", "Classical Piano Narrative"),
}

func track(id, label string) Track {
	return Track{ID: id, Label: label, URL: previewBase + id + ".mp3"}
}

// Lookup finds a track by id
func Lookup(id string) (Track, bool) {
	for _, t := range Catalog {
		if t.ID == id {
			return t, true
		}
	}
	return Track{}, false
}

// SuggestForStyle picks a track that suits an illustration style.
func SuggestForStyle(style string) string {
	s := strings.ToLower(style)
	switch {
	case containsAny(s, "cyberpunk", "3d", "pixel", "anime"):
		return "mixkit-upbeat-jazz-644"
	case containsAny(s, "watercolor", "minimalist", "nature"):
		return "mixkit-classical-vibes-2-682"
	case containsAny(s, "oil", "photo"):
		return "mixkit-classical-vibes-4-684"
	case containsAny(s, "chinese", "ink"):
		return "mixkit-classical-10-717"
	case containsAny(s, "modern"):
		return "mixkit-classical-vibes-5-688"
	}
	return DefaultTrack
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Notice is a user-facing message about a degraded render. Empty means
// nothing to report.
type Notice string

// NoticeUnavailable is shown when a requested track could not be used.
const NoticeUnavailable Notice = "Background music could not be loaded; the video contains narration only. Put the MP3 into the music directory to use it offline."

// Decoder turns compressed audio into narration-format PCM.
type Decoder interface {
	DecodeAudio(ctx context.Context, input string, stdin []byte, format ffmpeg.AudioFormat) ([]byte, error)
}

// Loader tries the local music directory first, then the remote preview.
type Loader struct {
	logger  zerolog.Logger
	dir     string
	fetcher *imagefetch.Fetcher
	decoder Decoder
}

// NewLoader creates a loader. fetcher and decoder may be nil, in which case
// remote tracks or decoding are unavailable and Load reports a notice.
func NewLoader(logger zerolog.Logger, dir string, fetcher *imagefetch.Fetcher, decoder Decoder) *Loader {
	return &Loader{
		logger:  logger.With().Str("component", "music").Logger(),
		dir:     dir,
		fetcher: fetcher,
		decoder: decoder,
	}
}

// LocalPath is where a track is looked up on disk
func (l *Loader) LocalPath(id string) string {
	return filepath.Join(l.dir, id+".mp3")
}

// Load returns decoded samples for id. It never fails the render: any
// problem yields nil samples and a notice.
func (l *Loader) Load(ctx context.Context, id string) ([]int16, Notice) {
	if id == "" || id == None {
		return nil, ""
	}
	t, ok := Lookup(id)
	if !ok {
		l.logger.Warn().Str("track", id).Msg("Unknown music track")
		return nil, NoticeUnavailable
	}
	if l.decoder == nil {
		l.logger.Warn().Str("track", id).Msg("No audio decoder available")
		return nil, NoticeUnavailable
	}

	format := ffmpeg.NarrationFormat()

	path := l.LocalPath(t.ID)
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		pcm, err := l.decoder.DecodeAudio(ctx, path, nil, format)
		if err == nil {
			l.logger.Info().Str("track", id).Str("source", path).Msg("Music loaded")
			return audio.Int16s(pcm), ""
		}
		l.logger.Warn().Err(err).Str("path", path).Msg("Local music could not be decoded")
	}

	if l.fetcher == nil || t.URL == "" {
		return nil, NoticeUnavailable
	}
	res := l.fetcher.Fetch(ctx, t.URL)
	if !res.OK() {
		l.logger.Warn().Err(res.Err).Str("track", id).Int("attempts", res.Attempts).Msg("Music download failed")
		return nil, NoticeUnavailable
	}
	pcm, err := l.decoder.DecodeAudio(ctx, "pipe:0", res.Data, format)
	if err != nil {
		l.logger.Warn().Err(err).Str("track", id).Msg("Music could not be decoded")
		return nil, NoticeUnavailable
	}

	l.logger.Info().Str("track", id).Str("via", res.Strategy).Msg("Music loaded")
	return audio.Int16s(pcm), ""
}
