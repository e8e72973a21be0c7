// Package resample wraps a streaming sample-rate converter, calling it in a
// loop each period until all input frames are consumed and reporting how
// many output frames were produced (spec.md §4.5). It is the one place in
// the module that talks to github.com/tphakala/go-audio-resampler; every
// other package only ever sees plain float32 slices.
package resample

import (
	"fmt"

	srclib "github.com/tphakala/go-audio-resampler"
)

// Quality selects the converter algorithm the underlying library uses.
type Quality int

const (
	// QualityLinear is the cheapest converter, adequate once the ratio is
	// within the controller's small excursion band.
	QualityLinear Quality = iota
	// QualitySincBestQuality trades CPU for the cleanest passband, used by
	// default since the ratio changes slowly and CPU is not the bottleneck.
	QualitySincBestQuality
)

// srcEngine is the narrow surface this package needs from the underlying
// streaming SRC library. Isolated behind an interface so the rest of the
// module never depends on the library's exact call shape, and so tests can
// substitute a deterministic fake.
type srcEngine interface {
	Process(ratio float64, dataIn []float32, dataOut []float32) (inputFramesUsed, outputFramesGen int, err error)
	Reset() error
}

// libEngine adapts github.com/tphakala/go-audio-resampler to srcEngine.
type libEngine struct {
	conv *srclib.Resampler
}

func newLibEngine(quality Quality, channels int) (*libEngine, error) {
	var ct srclib.ConverterType
	switch quality {
	case QualityLinear:
		ct = srclib.ConverterLinear
	default:
		ct = srclib.ConverterSincBestQuality
	}
	conv, err := srclib.New(ct, channels)
	if err != nil {
		return nil, fmt.Errorf("resample: construct converter: %w", err)
	}
	return &libEngine{conv: conv}, nil
}

func (l *libEngine) Process(ratio float64, dataIn, dataOut []float32) (int, int, error) {
	return l.conv.Process(ratio, dataIn, dataOut)
}

func (l *libEngine) Reset() error { return l.conv.Reset() }

// Resampler drives the streaming SRC engine for one playback stream,
// reallocating its scratch buffers only when the period size changes.
type Resampler struct {
	channels int
	engine   srcEngine

	periodFrames int
	framesIn     []float32
	framesOut    []float32
}

// New constructs a Resampler for the given channel count and quality.
func New(quality Quality, channels int) (*Resampler, error) {
	eng, err := newLibEngine(quality, channels)
	if err != nil {
		return nil, err
	}
	return &Resampler{channels: channels, engine: eng}, nil
}

// EnsureScratch (re)allocates the input/output scratch buffers when
// periodFrames has changed since the last call, per spec.md §4.5.
func (r *Resampler) EnsureScratch(periodFrames int) {
	if periodFrames == r.periodFrames {
		return
	}
	r.periodFrames = periodFrames
	r.framesIn = make([]float32, periodFrames*r.channels)
	outFrames := int(float64(periodFrames)*1.1 + 0.5)
	r.framesOut = make([]float32, outFrames*r.channels)
}

// Process resamples exactly frameCount frames (already copied into the
// Resampler's input scratch via InputBuffer) at the given ratio, looping
// until every input frame is consumed. It returns the total number of
// output frames generated across all internal calls, appended in order to
// dst via appendFn.
func (r *Resampler) Process(frameCount int, ratio float64, appendFn func(out []float32, frames int)) (int, error) {
	consumedFrames := 0
	totalOutFrames := 0

	for consumedFrames < frameCount {
		in := r.framesIn[consumedFrames*r.channels : frameCount*r.channels]
		used, generated, err := r.engine.Process(ratio, in, r.framesOut)
		if err != nil {
			return totalOutFrames, fmt.Errorf("resample: %w", err)
		}
		if generated > 0 {
			appendFn(r.framesOut[:generated*r.channels], generated)
			totalOutFrames += generated
		}
		if used <= 0 {
			// The engine made no progress; avoid spinning forever on a
			// misbehaving converter.
			break
		}
		consumedFrames += used
	}
	return totalOutFrames, nil
}

// InputBuffer returns the scratch slice the caller should fill with
// frameCount*channels interleaved input samples before calling Process.
func (r *Resampler) InputBuffer() []float32 { return r.framesIn }

// Reset clears the converter's internal filter history, e.g. after a slew.
func (r *Resampler) Reset() error { return r.engine.Reset() }
