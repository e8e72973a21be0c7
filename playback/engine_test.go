package playback

import (
	"math"
	"testing"

	"audiobridge/internal/device"
	"audiobridge/internal/format"
	"audiobridge/internal/graph"
	"audiobridge/internal/resample"
)

// pullCallback exposes the test seam mockPlayback.Callback without
// depending on the unexported concrete type in package device.
type pullCallback interface {
	Callback(dst []float32, frames int) int
}

func newHarness(t *testing.T, channels, sampleRate int) (*Engine, *device.MockDevice, pullCallback) {
	t.Helper()
	dev := device.NewMockDevice()
	e := NewEngine(dev, nil)
	if err := e.Start(channels, sampleRate, format.S16LE, resample.QualityLinear, 1024, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cb, ok := dev.Playback().(pullCallback)
	if !ok {
		t.Fatal("mock playback does not implement pullCallback")
	}
	return e, dev, cb
}

func silentPCM16(frames, channels int) []byte {
	return make([]byte, frames*channels*2)
}

func TestStartEntersSetupState(t *testing.T) {
	e, _, _ := newHarness(t, 2, 48000)
	if e.State() != StateSetup {
		t.Fatalf("State() = %v, want Setup", e.State())
	}
}

func TestStartWhileActiveForcesImmediateStop(t *testing.T) {
	dev := device.NewMockDevice()
	e := NewEngine(dev, nil)
	if err := e.Start(2, 48000, format.S16LE, resample.QualityLinear, 1024, nil); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := e.Start(2, 48000, format.S16LE, resample.QualityLinear, 1024, nil); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if e.State() != StateSetup {
		t.Fatalf("State() after restart = %v, want Setup", e.State())
	}
}

func TestUnsupportedFormatIsSilentNoop(t *testing.T) {
	dev := device.NewMockDevice()
	e := NewEngine(dev, nil)
	if err := e.Start(2, 48000, format.Tag(999), resample.QualityLinear, 1024, nil); err != nil {
		t.Fatalf("Start() with unsupported format returned error = %v, want nil", err)
	}
	if e.State() != StateStop {
		t.Fatalf("State() = %v, want Stop", e.State())
	}
}

// TestStartupPriming pins S3: with a 480-frame source period and a 1024
// device max period, RUN must not be entered before 3008 frames have been
// submitted.
func TestStartupPriming(t *testing.T) {
	e, _, _ := newHarness(t, 2, 48000)

	const framesPerSubmit = 480
	var nowNs int64
	e.now = func() int64 { return nowNs }

	submitted := 0
	prevSubmitted := 0
	pcm := silentPCM16(framesPerSubmit, 2)
	for e.State() == StateSetup {
		prevSubmitted = submitted
		e.Submit(pcm)
		nowNs += int64(10 * 1e6)
		submitted += framesPerSubmit
		if submitted > 10000 {
			t.Fatal("never reached RUN")
		}
	}
	if submitted < 3008 {
		t.Fatalf("entered RUN after %d frames, want >= 3008", submitted)
	}
	if prevSubmitted >= 3008 {
		t.Fatalf("entered RUN one submit earlier than necessary (previous cumulative %d was already >= 3008)", prevSubmitted)
	}
}

// TestSteadyStateConvergence pins invariant 2 and scenario S1: a steady
// 480-frame/10ms source against a steady 1024-frame device converges ratio
// to within 1e-5 of unity and keeps the offset error small after 5
// simulated seconds.
func TestSteadyStateConvergence(t *testing.T) {
	const channels = 2
	const sampleRate = 48000
	const devFrames = 1024
	const srcFrames = 480

	e, _, cb := newHarness(t, channels, sampleRate)

	devPeriodNs := int64(float64(devFrames) / float64(sampleRate) * 1e9)
	srcPeriodNs := int64(float64(srcFrames) / float64(sampleRate) * 1e9)
	const endNs = int64(5 * 1e9)

	var nowNs int64
	e.now = func() int64 { return nowNs }

	devNext, srcNext := int64(0), int64(0)
	dst := make([]float32, devFrames*channels)
	pcm := silentPCM16(srcFrames, channels)

	for devNext < endNs || srcNext < endNs {
		if srcNext <= devNext {
			nowNs = srcNext
			e.Submit(pcm)
			srcNext += srcPeriodNs
		} else {
			nowNs = devNext
			cb.Callback(dst, devFrames)
			devNext += devPeriodNs
		}
	}

	if math.Abs(e.lastRatio-1.0) >= 1e-5 {
		t.Fatalf("ratio = %v, want within 1e-5 of 1.0", e.lastRatio)
	}
	if offsetErr := e.sourceData.latencyCtl.OffsetError(); math.Abs(offsetErr) >= 50 {
		t.Fatalf("offsetError = %v, want magnitude < 50 frames", offsetErr)
	}
}

// TestPeriodStepKeepsOffsetBounded pins S2: after the device period drops
// 1024 -> 256 mid-stream, the offset at the end of the run must be within
// +/-128 frames of target. It does not check whether a slew occurred.
func TestPeriodStepKeepsOffsetBounded(t *testing.T) {
	const channels = 2
	const sampleRate = 48000
	const srcFrames = 480

	e, _, cb := newHarness(t, channels, sampleRate)

	srcPeriodNs := int64(float64(srcFrames) / float64(sampleRate) * 1e9)
	devFrames := 1024
	devPeriodNs := int64(float64(devFrames) / float64(sampleRate) * 1e9)

	var nowNs int64
	e.now = func() int64 { return nowNs }

	devNext, srcNext := int64(0), int64(0)
	pcm := silentPCM16(srcFrames, channels)

	// Run steady state for 2s to let the loop settle, then step the device
	// period down for a further 2s.
	const settleNs = int64(2 * 1e9)
	const stepNs = int64(2 * 1e9)
	stepped := false

	for srcNext < settleNs+stepNs {
		if !stepped && srcNext >= settleNs {
			devFrames = 256
			devPeriodNs = int64(float64(devFrames) / float64(sampleRate) * 1e9)
			stepped = true
		}
		if srcNext <= devNext {
			nowNs = srcNext
			e.Submit(pcm)
			srcNext += srcPeriodNs
		} else {
			nowNs = devNext
			dst := make([]float32, devFrames*channels)
			cb.Callback(dst, devFrames)
			devNext += devPeriodNs
		}
	}

	if math.Abs(e.lastActualOffset-float64(deviceTargetFor(t, e))) >= 128 {
		t.Fatalf("actualOffset = %v, target = %v, want within 128 frames", e.lastActualOffset, deviceTargetFor(t, e))
	}
}

func deviceTargetFor(t *testing.T, e *Engine) float64 {
	t.Helper()
	deviceMax := int(e.deviceMaxPeriodFrames.Load())
	devPeriodFrames := e.sourceData.latencyCtl.DevPeriodFrames()
	target := 13.0 * float64(e.sampleRate) / 1000
	target += float64(deviceMax) * 1.1
	if extra := deviceMax - devPeriodFrames; extra > 0 {
		target += float64(extra)
	}
	return target
}

// TestSlewInjectsExactFrameCount pins S5: a +0.3s clock jump on the source
// thread appends exactly round(0.3*sampleRate) zeroed frames and advances
// nextPosition by slewFrames+frames.
func TestSlewInjectsExactFrameCount(t *testing.T) {
	const channels = 2
	const sampleRate = 48000
	const srcFrames = 480

	e, _, _ := newHarness(t, channels, sampleRate)
	pcm := silentPCM16(srcFrames, channels)

	var nowNs int64
	e.now = func() int64 { return nowNs }

	// Prime the PLL with a couple of steady periods first.
	e.Submit(pcm)
	nowNs += int64(float64(srcFrames) / float64(sampleRate) * 1e9)
	e.Submit(pcm)

	posBefore := e.sourceData.pll.NextPosition()
	countBefore := e.buf.Count()

	// Jump exactly 0.3s past the PLL's own predicted next event, so the
	// resulting slew is not skewed by simulation rounding.
	nowNs = e.sourceData.pll.NextTime() + int64(0.3*1e9)
	e.Submit(pcm)

	wantSlew := 14400
	posAfter := e.sourceData.pll.NextPosition()
	if got := posAfter - posBefore; got != int64(wantSlew+srcFrames) {
		t.Fatalf("nextPosition advanced by %d, want %d", got, wantSlew+srcFrames)
	}

	countAfter := e.buf.Count()
	// The slew appends wantSlew zeroed *frames* (wantSlew*channels samples);
	// the regular resample path also appends whatever the resampler
	// produced for this period, so only assert a lower bound equal to the
	// slew contribution.
	if countAfter-countBefore < wantSlew*channels {
		t.Fatalf("buffer grew by %d samples, want at least %d (the slew contribution)", countAfter-countBefore, wantSlew*channels)
	}
}

// TestDrainConsumesBufferedFramesThenStops pins invariant 6 and S4: after
// Stop(), the device thread keeps receiving real audio until the buffer is
// exhausted, then transitions to STOP.
func TestDrainConsumesBufferedFramesThenStops(t *testing.T) {
	const channels = 2
	const sampleRate = 48000

	e, _, cb := newHarness(t, channels, sampleRate)
	pcm := silentPCM16(480, channels)

	var nowNs int64
	e.now = func() int64 { return nowNs }

	for i := 0; i < 20; i++ {
		e.Submit(pcm)
		nowNs += int64(10 * 1e6)
	}

	e.Stop()
	if e.State() != StateDrain {
		t.Fatalf("State() after Stop() = %v, want Drain", e.State())
	}

	dst := make([]float32, 1024*channels)
	for i := 0; i < 1000 && e.State() == StateDrain; i++ {
		nowNs += int64(1024.0 / float64(sampleRate) * 1e9)
		cb.Callback(dst, 1024)
	}

	if e.State() != StateStop {
		t.Fatalf("State() after drain = %v, want Stop", e.State())
	}
	if e.buf.Count() != 0 {
		t.Fatalf("buf.Count() after drain = %d, want 0", e.buf.Count())
	}
}

func TestGraphSinkReceivesOneLatencySamplePerSubmit(t *testing.T) {
	sink := graph.RegisterGraph("latency", 0, 200, func(min, max, avg, freq, last float64) string { return "" })
	dev := device.NewMockDevice()
	e := NewEngine(dev, sink)
	if err := e.Start(2, 48000, format.S16LE, resample.QualityLinear, 1024, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	e.Submit(silentPCM16(480, 2))
	if sink.Count() != 1 {
		t.Fatalf("graph sink received %d samples, want 1", sink.Count())
	}
}
