// Package playback implements the stream state machine that owns both PLL
// clocks, the source-to-device ring buffer, the latency controller, and the
// resampler: the pull path driven by the device's realtime callback and the
// push path driven by the source protocol's submit calls (spec.md §4.6).
package playback

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"

	"audiobridge/internal/device"
	"audiobridge/internal/format"
	"audiobridge/internal/graph"
	"audiobridge/internal/latency"
	"audiobridge/internal/pll"
	"audiobridge/internal/resample"
	"audiobridge/internal/ringbuffer"
	"audiobridge/internal/timing"
)

// State is one of the four playback stream states.
type State int32

const (
	StateStop State = iota
	StateSetup
	StateRun
	StateDrain
)

func (s State) String() string {
	switch s {
	case StateStop:
		return "stop"
	case StateSetup:
		return "setup"
	case StateRun:
		return "run"
	case StateDrain:
		return "drain"
	default:
		return "unknown"
	}
}

// deviceData holds the fields touched only by the device callback thread.
type deviceData struct {
	pll *pll.Clock
}

// sourceData holds the fields touched only by the source (submit) thread.
type sourceData struct {
	pll          *pll.Clock
	latencyCtl   *latency.Controller
	resampler    *resample.Resampler
	periodFrames int
}

// Engine is one playback stream's state machine. The zero value is not
// usable; construct with NewEngine. An Engine is reused across
// start/stop/start cycles — Start resets everything a new stream needs.
type Engine struct {
	dev       device.Device
	graphSink *graph.Sink
	now       func() int64

	state                 atomic.Int32
	deviceMaxPeriodFrames atomic.Int32

	channels   int
	sampleRate int
	decoder    format.Decoder

	playback device.Playback
	volSet   device.VolumeSetter
	muter    device.Muter
	latency  device.Latencier

	buf      *ringbuffer.Float32
	timingCh *timing.Channel

	// lastRatio/lastActualOffset mirror the most recent LatencyController
	// output, kept for inspection (graph sink, tests) between Submit calls.
	lastRatio        float64
	lastActualOffset float64

	// deviceData and sourceData are deliberately separated by a cache line
	// pad: the device callback writes only deviceData, the source thread
	// writes only sourceData, and spec.md §5 requires the two halves never
	// share a cache line.
	deviceData deviceData
	_          cpu.CacheLinePad
	sourceData sourceData
}

// NewEngine returns a stopped Engine bound to dev, optionally reporting
// per-period latency samples to sink (sink may be nil).
func NewEngine(dev device.Device, sink *graph.Sink) *Engine {
	return &Engine{
		dev:       dev,
		graphSink: sink,
		now:       func() int64 { return time.Now().UnixNano() },
	}
}

// State returns the current stream state. Safe to call from either thread.
func (e *Engine) State() State { return State(e.state.Load()) }

// RetainedApplier is invoked once during Start, after the device accepts
// Setup and before it is started, so retained volume/mute (spec.md
// invariant 5) are in effect before any data flows.
type RetainedApplier func(vol device.VolumeSetter, mute device.Muter)

// Start transitions STOP (or any active state) to SETUP: allocates the
// ring buffer and timing channel, constructs the resampler, resets both
// PLLs, and calls the device's Setup/Start. requestedMaxPeriodFrames is a
// hint passed through to the device.
func (e *Engine) Start(channels, sampleRate int, tag format.Tag, quality resample.Quality, requestedMaxPeriodFrames int, applyRetained RetainedApplier) error {
	if e.State() != StateStop {
		e.forceStop()
	}

	dec, err := format.Lookup(tag)
	if err != nil {
		// FormatUnsupported: silent no-op, stream stays STOP.
		return nil
	}

	res, err := resample.New(quality, channels)
	if err != nil {
		log.Printf("[playback] construct resampler: %v", err)
		return fmt.Errorf("playback: resampler init: %w", err)
	}

	e.channels = channels
	e.sampleRate = sampleRate
	e.decoder = dec
	e.buf = ringbuffer.NewFloat32(sampleRate * channels)
	e.timingCh = timing.NewChannel()
	e.deviceData = deviceData{pll: pll.NewClock(sampleRate)}
	e.sourceData = sourceData{
		pll:        pll.NewClock(sampleRate),
		latencyCtl: latency.NewController(sampleRate),
		resampler:  res,
	}

	e.playback = e.dev.Playback()
	e.volSet, e.muter, e.latency = device.Probe(e.playback)

	actualMaxPeriodFrames, err := e.playback.Setup(channels, sampleRate, requestedMaxPeriodFrames, e.pullFrames)
	if err != nil {
		log.Printf("[playback] device setup: %v", err)
		return fmt.Errorf("playback: device setup: %w", err)
	}
	e.deviceMaxPeriodFrames.Store(int32(actualMaxPeriodFrames))

	if applyRetained != nil {
		applyRetained(e.volSet, e.muter)
	}

	if err := e.playback.Start(); err != nil {
		log.Printf("[playback] device start: %v", err)
		e.forceStop()
		return fmt.Errorf("playback: device start: %w", err)
	}

	e.state.Store(int32(StateSetup))
	return nil
}

// Stop requests a graceful drain: no further Submit calls are accepted, but
// the device continues pulling buffered frames until empty, at which point
// the device thread transitions the stream to STOP (spec.md §4.6).
func (e *Engine) Stop() {
	for {
		cur := e.state.Load()
		if State(cur) == StateStop {
			return
		}
		if e.state.CompareAndSwap(cur, int32(StateDrain)) {
			return
		}
	}
}

// Free immediately tears the stream down, discarding any buffered frames.
// Safe to call from any state, including STOP.
func (e *Engine) Free() {
	e.forceStop()
}

// forceStop is the immediate STOP transition shared by Free, Start-while-
// active, and setup/start failures (spec.md §4.6 "Any active → STOP").
func (e *Engine) forceStop() {
	if e.playback != nil {
		if err := e.playback.Stop(); err != nil {
			log.Printf("[playback] device stop: %v", err)
		}
	}
	e.state.Store(int32(StateStop))
}

// SetVolume applies levels to the device's optional volume capability, if
// present, and reports whether the device supports it.
func (e *Engine) SetVolume(channels int, levels []uint16) bool {
	if e.volSet == nil {
		return false
	}
	if err := e.volSet.SetVolume(channels, levels); err != nil {
		log.Printf("[playback] set volume: %v", err)
	}
	return true
}

// SetMute applies muted to the device's optional mute capability, if
// present, and reports whether the device supports it.
func (e *Engine) SetMute(muted bool) bool {
	if e.muter == nil {
		return false
	}
	if err := e.muter.SetMute(muted); err != nil {
		log.Printf("[playback] set mute: %v", err)
	}
	return true
}

// deviceLatencyFrames returns the device's self-reported latency, in
// frames, or 0 if the capability is absent.
func (e *Engine) deviceLatencyFrames() int {
	if e.latency == nil {
		return 0
	}
	return e.latency.Latency()
}

// Submit is the push path (spec.md §4.6): convert src (raw bytes in the
// format configured at Start) to interleaved float32, update the source
// PLL, drain pending device ticks, update the latency controller, resample
// at the resulting ratio, and append to the ring buffer. Ignored unless the
// stream is SETUP or RUN.
func (e *Engine) Submit(src []byte) {
	st := e.State()
	if st != StateSetup && st != StateRun {
		return
	}

	sd := &e.sourceData
	frameCount := len(src) / 2 / e.channels
	if frameCount == 0 {
		return
	}

	sd.resampler.EnsureScratch(frameCount)
	if _, err := e.decoder(sd.resampler.InputBuffer(), src[:frameCount*2*e.channels]); err != nil {
		log.Printf("[playback] decode: %v", err)
		return
	}

	sd.latencyCtl.ObserveTicks(e.timingCh.DrainAll())

	// res.CurTime/CurPosition are the source clock's prediction from before
	// this Update and are what the latency controller is fed below. Update
	// itself owns the position bookkeeping: on a slew it advances
	// nextPosition by slewFrames+frameCount in one step, and the resample
	// loop does not advance it again.
	now := e.now()
	res := sd.pll.Update(now, frameCount)
	if res.Slewed {
		n := res.SlewFrames
		if n < 0 {
			n = -n
		}
		e.buf.Append(nil, n*e.channels)
	}

	ratio := 1.0
	actualOffset := 0.0
	if !res.Initialized {
		deviceMax := int(e.deviceMaxPeriodFrames.Load())
		if r, off, ok := sd.latencyCtl.Update(res.CurTime, res.CurPosition, sd.pll.PeriodSec(), sd.pll.B(), sd.pll.C(), deviceMax); ok {
			ratio = r
			actualOffset = off
		}
	}
	e.lastRatio, e.lastActualOffset = ratio, actualOffset

	sd.periodFrames = frameCount
	_, err := sd.resampler.Process(frameCount, ratio, func(out []float32, frames int) {
		e.buf.Append(out, frames*e.channels)
	})
	if err != nil {
		// ResampleFail: log and abort the period, stream keeps running.
		log.Printf("[playback] resample: %v", err)
	}

	if e.graphSink != nil {
		ms := (actualOffset + float64(e.deviceLatencyFrames())) * 1000 / float64(e.sampleRate)
		e.graphSink.Push(ms)
	}

	if st == StateSetup {
		deviceMax := int(e.deviceMaxPeriodFrames.Load())
		if sd.pll.NextPosition() >= int64(2*frameCount+2*deviceMax) {
			e.state.CompareAndSwap(int32(StateSetup), int32(StateRun))
		}
	}
}

// pullFrames is the pull path (spec.md §4.6), invoked on the device thread.
// It updates the device PLL, posts a tick for the source thread, consumes
// buffered frames into dst, and transitions DRAIN→STOP once the buffer runs
// dry. It must not block or allocate.
func (e *Engine) pullFrames(dst []float32, frames int) int {
	st := e.State()
	if st == StateStop {
		return 0
	}

	dd := &e.deviceData
	now := e.now()
	res := dd.pll.Update(now, frames)
	if res.Slewed {
		n := res.SlewFrames
		if n < 0 {
			n = -n
		}
		e.buf.Consume(nil, n*e.channels)
	}

	e.timingCh.Push(timing.Tick{
		PeriodFrames: frames,
		NextTime:     dd.pll.NextTime(),
		NextPosition: dd.pll.NextPosition(),
	})

	consumed := e.buf.Consume(dst, len(dst))
	if consumed < len(dst) {
		format.ZeroFloat32(dst[consumed:])
	}
	producedFrames := consumed / e.channels

	if st == StateDrain && e.buf.Count() <= 0 {
		e.state.CompareAndSwap(int32(StateDrain), int32(StateStop))
	}

	return producedFrames
}
