package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MusicCeiling maps a 100% user volume to 40% of full amplitude so the
// narration stays on top.
const MusicCeiling = 0.4

// keep-alive oscillator frequency; its gain is always zero.
const keepAliveHz = 440

const blockSize = 1024

// MixInput describes one capture session's audio.
type MixInput struct {
	Voice       []byte  // s16le mono at SampleRate
	Music       []int16 // decoded music, nil for voice-only
	MusicVolume int     // 0-100
	Speed       float64 // voice playback rate
	Lead        float64 // capture lead before the timeline starts
	Intro       float64 // voice delay inside the timeline
	Total       float64 // timeline length
}

// MixedTrack is what the capture destination received.
type MixedTrack struct {
	Samples    []int16
	SampleRate int
	VoiceStart float64 // seconds from track start
	HasMusic   bool
}

// Duration returns the track length in seconds
func (m *MixedTrack) Duration() float64 {
	return float64(len(m.Samples)) / float64(m.SampleRate)
}

// Mixer builds an audio graph for one session.
type Mixer interface {
	Build(in MixInput) (*Graph, error)
}

// GraphMixer is the in-process Mixer.
type GraphMixer struct{}

// NewGraphMixer creates a mixer
func NewGraphMixer() *GraphMixer {
	return &GraphMixer{}
}

// node produces samples for the absolute frame range [at, at+len(dst)).
type node interface {
	render(dst []float64, at int)
}

type bufferSource struct {
	data  []float64
	start int     // first output sample
	rate  float64 // source samples consumed per output sample
	loop  bool
}

func (s *bufferSource) render(dst []float64, at int) {
	n := len(s.data)
	if n == 0 {
		return
	}
	for i := range dst {
		t := at + i - s.start
		if t < 0 {
			continue
		}
		pos := float64(t) * s.rate
		if s.loop {
			pos = math.Mod(pos, float64(n))
		} else if pos >= float64(n-1) {
			if pos < float64(n) {
				dst[i] += s.data[n-1]
			}
			continue
		}
		j := int(pos)
		frac := pos - float64(j)
		a := s.data[j]
		b := s.data[(j+1)%n]
		dst[i] += a + (b-a)*frac
	}
}

type oscillator struct {
	freq float64
}

func (o *oscillator) render(dst []float64, at int) {
	for i := range dst {
		dst[i] += math.Sin(2 * math.Pi * o.freq * float64(at+i) / SampleRate)
	}
}

type gainNode struct {
	gain   float64
	inputs []node
	buf    []float64
}

func (g *gainNode) render(dst []float64, at int) {
	if cap(g.buf) < len(dst) {
		g.buf = make([]float64, len(dst))
	}
	buf := g.buf[:len(dst)]
	for i := range buf {
		buf[i] = 0
	}
	for _, in := range g.inputs {
		in.render(buf, at)
	}
	for i := range dst {
		dst[i] += buf[i] * g.gain
	}
}

// Graph is a connected set of sources, gains and two destinations: the
// capture destination (voice + music) and a muted monitor fed by a silent
// gain over an always-on oscillator.
type Graph struct {
	mu      sync.Mutex
	capture *gainNode
	monitor *gainNode
	nodes   []node
	length  int
	in      MixInput
	closed  bool
}

// Build wires the graph for in
func (m *GraphMixer) Build(in MixInput) (*Graph, error) {
	if len(in.Voice) < 2 {
		return nil, fmt.Errorf("voice track is empty")
	}
	if in.Total <= 0 {
		return nil, fmt.Errorf("invalid timeline length %.3f", in.Total)
	}
	if in.Speed <= 0 {
		in.Speed = 1
	}

	voice := &bufferSource{
		data:  toFloat(Int16s(in.Voice)),
		start: int(math.Round((in.Lead + in.Intro) * SampleRate)),
		rate:  in.Speed,
	}
	mix := &gainNode{gain: 1, inputs: []node{voice}}
	nodes := []node{voice}

	if len(in.Music) > 0 {
		music := &bufferSource{
			data:  toFloat(in.Music),
			start: int(math.Round(in.Lead * SampleRate)),
			rate:  1,
			loop:  true,
		}
		musicGain := &gainNode{gain: MusicGain(in.MusicVolume), inputs: []node{music}}
		mix.inputs = append(mix.inputs, musicGain)
		nodes = append(nodes, music, musicGain)
	}

	osc := &oscillator{freq: keepAliveHz}
	silent := &gainNode{gain: 0, inputs: []node{osc}}
	nodes = append(nodes, mix, osc, silent)

	return &Graph{
		capture: mix,
		monitor: silent,
		nodes:   nodes,
		length:  int(math.Ceil((in.Lead + in.Total) * SampleRate)),
		in:      in,
	}, nil
}

// MusicGain converts a 0-100 user volume to a linear gain
func MusicGain(volume int) float64 {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	return float64(volume) / 100 * MusicCeiling
}

// Render pulls the whole session through the graph. The capture track
// always spans lead + total, voice or not, so the clock never stalls.
func (g *Graph) Render(ctx context.Context) (*MixedTrack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("audio graph is closed")
	}

	out := make([]int16, g.length)
	block := make([]float64, blockSize)
	monitor := make([]float64, blockSize)

	for at := 0; at < g.length; at += blockSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(blockSize, g.length-at)
		for i := 0; i < n; i++ {
			block[i] = 0
			monitor[i] = 0
		}
		g.capture.render(block[:n], at)
		g.monitor.render(monitor[:n], at)
		for i := 0; i < n; i++ {
			out[at+i] = clip16(block[i])
		}
	}

	return &MixedTrack{
		Samples:    out,
		SampleRate: SampleRate,
		VoiceStart: g.in.Lead + g.in.Intro,
		HasMusic:   len(g.in.Music) > 0,
	}, nil
}

// Nodes reports how many nodes are still connected
func (g *Graph) Nodes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Close disconnects every node. Safe to call more than once.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.capture.inputs = nil
	g.monitor.inputs = nil
	g.nodes = nil
	g.closed = true
	return nil
}

// Closed reports whether Close has run
func (g *Graph) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func toFloat(in []int16) []float64 {
	out := make([]float64, len(in))
	for i, s := range in {
		out[i] = float64(s)
	}
	return out
}
