package device

import (
	"fmt"
	"log"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio is the default, concrete AudioDevice backend. One-shot
// selection happens at the call site (construct it first in an ordered
// list of back-ends, per spec.md §5 "Lifetime"); this package does not
// itself choose among back-ends.
type PortAudio struct {
	mu     sync.Mutex
	inited bool
	pb     *paPlayback
	rec    *paRecord
}

// NewPortAudio returns an uninitialized PortAudio backend.
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

func (d *PortAudio) Init() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inited {
		return true
	}
	if err := portaudio.Initialize(); err != nil {
		log.Printf("[device] portaudio init: %v", err)
		return false
	}
	d.inited = true
	return true
}

func (d *PortAudio) Free() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pb != nil {
		d.pb.Stop()
	}
	if d.rec != nil {
		d.rec.Stop()
	}
	if d.inited {
		if err := portaudio.Terminate(); err != nil {
			log.Printf("[device] portaudio terminate: %v", err)
		}
		d.inited = false
	}
}

func (d *PortAudio) Name() string { return "portaudio" }

func (d *PortAudio) Playback() Playback {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pb == nil {
		d.pb = &paPlayback{}
	}
	return d.pb
}

func (d *PortAudio) Record() Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec == nil {
		d.rec = &paRecord{}
	}
	return d.rec
}

// paPlayback is the playback half, backed by a PortAudio callback stream so
// the device thread in spec.md §5 is a literal real-time audio callback,
// not a polling goroutine reading/writing a blocking stream.
type paPlayback struct {
	mu        sync.Mutex
	stream    *portaudio.Stream
	channels  int
	volumeMul []float32
	muted     bool
}

// SetVolume implements VolumeSetter. PortAudio has no native per-channel
// volume control, so this scales samples in the pull callback instead.
func (p *paPlayback) SetVolume(channels int, levels []uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	mul := make([]float32, channels)
	for i := 0; i < channels && i < len(levels); i++ {
		mul[i] = float32(levels[i]) / 65535.0
	}
	p.volumeMul = mul
	return nil
}

// SetMute implements Muter.
func (p *paPlayback) SetMute(muted bool) error {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
	return nil
}

func (p *paPlayback) Setup(channels, sampleRate, requestedMaxPeriodFrames int, pull PullFunc) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return 0, fmt.Errorf("device: default output: %w", err)
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: requestedMaxPeriodFrames,
	}

	callback := func(out []float32) {
		frames := len(out) / channels
		produced := pull(out, frames)

		p.mu.Lock()
		mul := p.volumeMul
		muted := p.muted
		p.mu.Unlock()

		if muted {
			for i := range out {
				out[i] = 0
			}
			return
		}
		if len(mul) == channels {
			for f := 0; f < produced; f++ {
				for ch := 0; ch < channels; ch++ {
					out[f*channels+ch] *= mul[ch]
				}
			}
		}
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return 0, fmt.Errorf("device: open playback stream: %w", err)
	}
	p.stream = stream
	p.channels = channels
	return requestedMaxPeriodFrames, nil
}

func (p *paPlayback) Start() error {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("device: Start called before Setup")
	}
	return stream.Start()
}

func (p *paPlayback) Stop() error {
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()
	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		return err
	}
	return stream.Close()
}

// paRecord is the record half — a thin pass-through (spec.md §1). It
// exposes VolumeSetter/Muter for parity with paPlayback, even though
// spec.md §9 Open Question 2 has the façade applying the *playback*
// retained state here.
type paRecord struct {
	mu        sync.Mutex
	stream    *portaudio.Stream
	volumeMul []float32
	muted     bool
}

func (r *paRecord) Start(channels, sampleRate int, push PushFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("device: default input: %w", err)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate: float64(sampleRate),
	}

	callback := func(in []float32) {
		r.mu.Lock()
		mul := r.volumeMul
		muted := r.muted
		r.mu.Unlock()

		if muted {
			for i := range in {
				in[i] = 0
			}
		} else if len(mul) == channels {
			for f := 0; f < len(in)/channels; f++ {
				for ch := 0; ch < channels; ch++ {
					in[f*channels+ch] *= mul[ch]
				}
			}
		}
		push(in, len(in)/channels)
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return fmt.Errorf("device: open record stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}
	r.stream = stream
	return nil
}

// SetVolume implements VolumeSetter.
func (r *paRecord) SetVolume(channels int, levels []uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mul := make([]float32, channels)
	for i := 0; i < channels && i < len(levels); i++ {
		mul[i] = float32(levels[i]) / 65535.0
	}
	r.volumeMul = mul
	return nil
}

// SetMute implements Muter.
func (r *paRecord) SetMute(muted bool) error {
	r.mu.Lock()
	r.muted = muted
	r.mu.Unlock()
	return nil
}

func (r *paRecord) Stop() error {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()
	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		return err
	}
	return stream.Close()
}
