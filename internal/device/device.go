// Package device defines the AudioDevice capability spec.md §6 treats as an
// external collaborator: back-end enumeration and selection are out of
// this module's scope, but a stream still has to talk to *some* concrete
// device, so this package defines the narrow interface the playback engine
// depends on and one concrete PortAudio-backed implementation.
package device

// PullFunc is invoked on the device thread to fill dst with frames worth of
// interleaved float32 output. It returns the number of frames actually
// produced.
type PullFunc func(dst []float32, frames int) int

// PushFunc is invoked on the device thread with frames worth of captured
// interleaved float32 input. The core forwards it to the (out-of-scope)
// source protocol; it never touches the playback ring buffer.
type PushFunc func(src []float32, frames int)

// Playback is the playback-direction half of an AudioDevice.
type Playback interface {
	// Setup configures the device for channels/sampleRate and registers
	// pull as the pull callback. requestedMaxPeriodFrames is a hint; the
	// device may request a different period, returned as
	// actualMaxPeriodFrames (spec.md's "inoutMaxPeriodFrames").
	Setup(channels, sampleRate, requestedMaxPeriodFrames int, pull PullFunc) (actualMaxPeriodFrames int, err error)
	Start() error
	// Stop must be synchronous: no further callbacks may occur once it
	// returns (spec.md §5).
	Stop() error
}

// Record is the record-direction half of an AudioDevice — a thin
// pass-through retained for completeness (spec.md §1).
type Record interface {
	Start(channels, sampleRate int, push PushFunc) error
	Stop() error
}

// VolumeSetter is an optional Playback/Record capability.
type VolumeSetter interface {
	SetVolume(channels int, levels []uint16) error
}

// Muter is an optional Playback/Record capability.
type Muter interface {
	SetMute(muted bool) error
}

// Latencier is an optional Playback capability reporting the device's own
// output latency in frames, folded into the latency graph sample (spec.md
// §4.6 "Emit one latency sample... (actualOffset + device.latency())").
type Latencier interface {
	Latency() int
}

// Device is one audio back-end: a name, explicit init/free, and the two
// directions.
type Device interface {
	Init() bool
	Free()
	Name() string
	Playback() Playback
	Record() Record
}

// Probe returns the optional capabilities v implements, leaving each as nil
// when absent — per spec.md §9, "Missing optionals are represented as
// absence, not null checks scattered at call sites": callers type-assert
// once here instead of at every call site.
func Probe(v any) (vol VolumeSetter, mute Muter, lat Latencier) {
	vol, _ = v.(VolumeSetter)
	mute, _ = v.(Muter)
	lat, _ = v.(Latencier)
	return
}
