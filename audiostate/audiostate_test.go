package audiostate

import (
	"testing"

	"audiobridge/internal/device"
	"audiobridge/internal/format"
)

func TestInitFailureDisablesSupport(t *testing.T) {
	dev := device.NewMockDevice()
	dev.InitFunc = func() bool { return false }
	a := New(dev)

	if a.Init() {
		t.Fatal("Init() = true, want false")
	}
	if a.SupportsPlayback() || a.SupportsRecord() {
		t.Fatal("Supports* = true after failed Init, want false (NoBackend)")
	}
}

func TestPlaybackStartUnsupportedFormatIsNoop(t *testing.T) {
	dev := device.NewMockDevice()
	a := New(dev)
	a.Init()

	if err := a.PlaybackStart(2, 48000, format.Tag(999)); err != nil {
		t.Fatalf("PlaybackStart() error = %v, want nil (silent no-op)", err)
	}
}

// TestRestartRetainsVolume pins S6: set volume then mute, stop, start
// again — the backend must receive the same volume/mute before any data.
func TestRestartRetainsVolume(t *testing.T) {
	dev := device.NewMockDevice()
	a := New(dev)
	a.Init()

	if err := a.PlaybackStart(2, 48000, format.S16LE); err != nil {
		t.Fatalf("first PlaybackStart() error = %v", err)
	}
	a.PlaybackVolume(2, []uint16{0x8000, 0x8000})
	a.PlaybackMute(true)

	a.PlaybackStop()
	volBefore := len(dev.VolumeCallsForTest())
	muteBefore := len(dev.MuteCallsForTest())
	// Immediate restart forces STOP first (spec.md "Any active -> STOP").
	if err := a.PlaybackStart(2, 48000, format.S16LE); err != nil {
		t.Fatalf("second PlaybackStart() error = %v", err)
	}

	if len(dev.VolumeCallsForTest()) <= volBefore {
		t.Fatal("device never received a volume call on restart")
	}
	last := dev.VolumeCallsForTest()[len(dev.VolumeCallsForTest())-1]
	if len(last) != 2 || last[0] != 0x8000 || last[1] != 0x8000 {
		t.Fatalf("restart volume call = %v, want [0x8000 0x8000]", last)
	}

	muteCalls := dev.MuteCallsForTest()
	if len(muteCalls) <= muteBefore || !muteCalls[len(muteCalls)-1] {
		t.Fatalf("restart mute call = %v, want a trailing true", muteCalls)
	}
}

// TestRecordStartAppliesPlaybackVolume pins Open Question 2: recordStart
// applies the *playback* retained volume/mute to the record device, an
// apparent copy-paste this implementation preserves rather than silently
// diverging from.
func TestRecordStartAppliesPlaybackVolume(t *testing.T) {
	dev := device.NewMockDevice()
	a := New(dev)
	a.Init()

	a.PlaybackVolume(2, []uint16{0x4000, 0x2000})
	a.PlaybackMute(true)

	if err := a.RecordStart(2, 48000, func(src []float32, frames int) {}); err != nil {
		t.Fatalf("RecordStart() error = %v", err)
	}

	calls := dev.VolumeCallsForTest()
	if len(calls) == 0 {
		t.Fatal("record device never received a volume call")
	}
	last := calls[len(calls)-1]
	if last[0] != 0x4000 || last[1] != 0x2000 {
		t.Fatalf("record device volume = %v, want playback's retained [0x4000 0x2000]", last)
	}

	muteCalls := dev.MuteCallsForTest()
	if len(muteCalls) == 0 || !muteCalls[len(muteCalls)-1] {
		t.Fatal("record device did not receive playback's retained mute=true")
	}
}

func TestRecordStartSameParamsIsNoop(t *testing.T) {
	dev := device.NewMockDevice()
	a := New(dev)
	a.Init()

	if err := a.RecordStart(2, 48000, nil); err != nil {
		t.Fatalf("first RecordStart() error = %v", err)
	}
	startsBefore := dev.RecordStartCallsForTest()
	if err := a.RecordStart(2, 48000, nil); err != nil {
		t.Fatalf("second RecordStart() error = %v", err)
	}
	if dev.RecordStartCallsForTest() != startsBefore {
		t.Fatalf("RecordStart() with unchanged params restarted the device")
	}
}

func TestRecordStartChangedParamsRestarts(t *testing.T) {
	dev := device.NewMockDevice()
	a := New(dev)
	a.Init()

	if err := a.RecordStart(2, 48000, nil); err != nil {
		t.Fatalf("first RecordStart() error = %v", err)
	}
	startsBefore := dev.RecordStartCallsForTest()
	if err := a.RecordStart(1, 44100, nil); err != nil {
		t.Fatalf("second RecordStart() error = %v", err)
	}
	if dev.RecordStartCallsForTest() <= startsBefore {
		t.Fatal("RecordStart() with changed params did not restart the device")
	}
}
