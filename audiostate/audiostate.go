// Package audiostate is the public façade spec.md §6 exposes to the source
// protocol: init/free, capability queries, the playback operations, and a
// symmetric record pass-through. It owns the one back-end the process
// selected at Init and the one playback.Engine that backs it, and retains
// volume/mute across restarts (spec.md invariant 5).
package audiostate

import (
	"log"

	"audiobridge/internal/device"
	"audiobridge/internal/format"
	"audiobridge/internal/graph"
	"audiobridge/internal/resample"
	"audiobridge/playback"
)

// RetainedState is the small, restart-surviving preference bag spec.md §3
// calls out ("Retained volume/mute survive stream restarts; applied on next
// SETUP"). There is no disk persistence (spec.md §6: "Persisted state:
// none") — it lives only as long as the AudioState does.
type RetainedState struct {
	Volume         [8]uint16
	VolumeChannels int
	Mute           bool
}

// defaultRequestedMaxPeriodFrames is the hint passed to the device on
// Setup; the device may return a different actual value.
const defaultRequestedMaxPeriodFrames = 1024

// AudioState is the process-wide façade: one back-end, one playback
// stream, one record pass-through, and the retained preferences that
// survive both.
type AudioState struct {
	dev     device.Device
	backend string

	engine *playback.Engine
	sink   *graph.Sink

	channels   int
	sampleRate int

	playbackRetained RetainedState

	recordActive     bool
	recordChannels   int
	recordSampleRate int
	onRecordAudio    func(src []float32, frames int)
}

// New constructs an AudioState around an already-selected back-end. Back-
// end enumeration and selection (spec.md §5 "one-shot... first successful
// of an ordered list") happens at the call site, outside this package's
// scope.
func New(dev device.Device) *AudioState {
	sink := graph.RegisterGraph("playback-latency", 0, 200, defaultLatencyFormatter)
	return &AudioState{
		dev:    dev,
		engine: playback.NewEngine(dev, sink),
		sink:   sink,
	}
}

func defaultLatencyFormatter(min, max, avg, freq, last float64) string {
	return "latency(ms)"
}

// Init brings up the back-end. If it fails, every public operation below
// becomes a no-op and SupportsPlayback/SupportsRecord report false
// (spec.md §7 "NoBackend").
func (a *AudioState) Init() bool {
	if !a.dev.Init() {
		log.Printf("[audiostate] no working audio backend")
		return false
	}
	a.backend = a.dev.Name()
	return true
}

// Free releases the playback stream, the record stream, and the back-end,
// in that order (spec.md §5: "free releases back-end last, after both
// directions are stopped").
func (a *AudioState) Free() {
	a.engine.Free()
	if a.recordActive {
		a.dev.Record().Stop()
		a.recordActive = false
	}
	a.dev.Free()
}

// SupportsPlayback reports whether the selected back-end exposes a
// playback direction. NoBackend (Init returning false) degrades this to
// false implicitly, since a.backend stays empty.
func (a *AudioState) SupportsPlayback() bool {
	return a.backend != "" && a.dev.Playback() != nil
}

// SupportsRecord reports whether the selected back-end exposes a record
// direction.
func (a *AudioState) SupportsRecord() bool {
	return a.backend != "" && a.dev.Record() != nil
}

// PlaybackStart starts (or restarts) the playback stream at the given
// channel count and sample rate. format must currently be format.S16LE;
// any other value is a silent no-op (spec.md §7 "FormatUnsupported").
// Retained volume/mute are reapplied before any data flows.
func (a *AudioState) PlaybackStart(channels, sampleRate int, tag format.Tag) error {
	if a.backend == "" {
		return nil
	}
	a.channels, a.sampleRate = channels, sampleRate
	return a.engine.Start(channels, sampleRate, tag, resample.QualitySincBestQuality, defaultRequestedMaxPeriodFrames, a.applyRetainedPlayback)
}

func (a *AudioState) applyRetainedPlayback(vol device.VolumeSetter, mute device.Muter) {
	if vol != nil && a.playbackRetained.VolumeChannels > 0 {
		if err := vol.SetVolume(a.playbackRetained.VolumeChannels, a.playbackRetained.Volume[:a.playbackRetained.VolumeChannels]); err != nil {
			log.Printf("[audiostate] reapply playback volume: %v", err)
		}
	}
	if mute != nil {
		if err := mute.SetMute(a.playbackRetained.Mute); err != nil {
			log.Printf("[audiostate] reapply playback mute: %v", err)
		}
	}
}

// PlaybackStop initiates a graceful drain; the device continues pulling
// buffered frames until empty (spec.md §4.6).
func (a *AudioState) PlaybackStop() {
	a.engine.Stop()
}

// PlaybackData submits raw PCM bytes to the playback stream. len(pcm) must
// be a whole number of frames; any trailing partial frame is silently dropped.
func (a *AudioState) PlaybackData(pcm []byte) {
	a.engine.Submit(pcm)
}

// PlaybackVolume sets and retains the playback volume for up to 8
// channels. Applied immediately if a device volume capability is present;
// always retained for the next SETUP (spec.md invariant 5, scenario S6).
func (a *AudioState) PlaybackVolume(channels int, levels []uint16) {
	if channels > len(a.playbackRetained.Volume) {
		channels = len(a.playbackRetained.Volume)
	}
	if channels > len(levels) {
		channels = len(levels)
	}
	copy(a.playbackRetained.Volume[:channels], levels[:channels])
	a.playbackRetained.VolumeChannels = channels
	a.engine.SetVolume(channels, levels[:channels])
}

// PlaybackMute sets and retains the playback mute flag.
func (a *AudioState) PlaybackMute(muted bool) {
	a.playbackRetained.Mute = muted
	a.engine.SetMute(muted)
}

// RecordStart starts the record pass-through at the given channel count and
// sample rate, forwarding captured audio to onAudio. Calling with unchanged
// channels/sampleRate while already started is a no-op; calling with
// changed parameters restarts the device (spec.md §6).
//
// It applies the *playback* RetainedState's volume/mute to the record
// device, mirroring an apparent copy-paste in the original this spec
// preserves rather than silently fixes (spec.md §9 Open Question 2).
func (a *AudioState) RecordStart(channels, sampleRate int, onAudio func(src []float32, frames int)) error {
	if a.recordActive && a.recordChannels == channels && a.recordSampleRate == sampleRate {
		return nil
	}
	if a.recordActive {
		a.dev.Record().Stop()
		a.recordActive = false
	}

	a.onRecordAudio = onAudio
	rec := a.dev.Record()
	if err := rec.Start(channels, sampleRate, a.pushRecordAudio); err != nil {
		log.Printf("[audiostate] record start: %v", err)
		return err
	}

	if vol, mute, _ := device.Probe(rec); vol != nil || mute != nil {
		if vol != nil && a.playbackRetained.VolumeChannels > 0 {
			if err := vol.SetVolume(a.playbackRetained.VolumeChannels, a.playbackRetained.Volume[:a.playbackRetained.VolumeChannels]); err != nil {
				log.Printf("[audiostate] apply playback volume to record device: %v", err)
			}
		}
		if mute != nil {
			if err := mute.SetMute(a.playbackRetained.Mute); err != nil {
				log.Printf("[audiostate] apply playback mute to record device: %v", err)
			}
		}
	}

	a.recordActive = true
	a.recordChannels, a.recordSampleRate = channels, sampleRate
	return nil
}

func (a *AudioState) pushRecordAudio(src []float32, frames int) {
	if a.onRecordAudio != nil {
		a.onRecordAudio(src, frames)
	}
}

// RecordStop stops the record pass-through.
func (a *AudioState) RecordStop() {
	if !a.recordActive {
		return
	}
	if err := a.dev.Record().Stop(); err != nil {
		log.Printf("[audiostate] record stop: %v", err)
	}
	a.recordActive = false
}

// RecordVolume sets the record device's volume, when supported.
func (a *AudioState) RecordVolume(channels int, levels []uint16) {
	if vol, _, _ := device.Probe(a.dev.Record()); vol != nil {
		if err := vol.SetVolume(channels, levels); err != nil {
			log.Printf("[audiostate] record volume: %v", err)
		}
	}
}

// RecordMute sets the record device's mute flag, when supported.
func (a *AudioState) RecordMute(muted bool) {
	if _, mute, _ := device.Probe(a.dev.Record()); mute != nil {
		if err := mute.SetMute(muted); err != nil {
			log.Printf("[audiostate] record mute: %v", err)
		}
	}
}

// Graph returns the registered playback-latency graph sink.
func (a *AudioState) Graph() *graph.Sink { return a.sink }
