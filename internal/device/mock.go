package device

// MockDevice is an in-memory Device implementation for exercising the
// playback and audiostate packages without real PortAudio hardware. It is
// not test-gated so other packages' tests can import it directly, the way
// net/http/httptest exposes its doubles as ordinary package exports.
//
// Both its Playback() and Record() sides implement VolumeSetter/Muter (only
// Playback() also implements Latencier) and forward every volume/mute call
// into this struct's shared call log, so a test can inspect volume/mute
// calls regardless of which direction received them.
type MockDevice struct {
	InitFunc func() bool

	pb  *mockPlayback
	rec *mockRecord

	volumeCalls  [][]uint16
	muteCalls    []bool
	recordStarts int
	latency      int
}

// NewMockDevice returns a MockDevice with a fresh playback/record pair.
func NewMockDevice() *MockDevice {
	m := &MockDevice{}
	m.pb = &mockPlayback{dev: m}
	m.rec = &mockRecord{dev: m}
	return m
}

func (m *MockDevice) Init() bool {
	if m.InitFunc != nil {
		return m.InitFunc()
	}
	return true
}

func (m *MockDevice) Free()              {}
func (m *MockDevice) Name() string       { return "mock" }
func (m *MockDevice) Playback() Playback { return m.pb }
func (m *MockDevice) Record() Record     { return m.rec }

func (m *MockDevice) recordVolume(levels []uint16) {
	cp := make([]uint16, len(levels))
	copy(cp, levels)
	m.volumeCalls = append(m.volumeCalls, cp)
}

func (m *MockDevice) recordMute(muted bool) {
	m.muteCalls = append(m.muteCalls, muted)
}

// VolumeCallsForTest returns every SetVolume call this device (in either
// its Playback() or Record() direction) has received, oldest first.
func (m *MockDevice) VolumeCallsForTest() [][]uint16 { return m.volumeCalls }

// MuteCallsForTest returns every SetMute call this device has received,
// oldest first.
func (m *MockDevice) MuteCallsForTest() []bool { return m.muteCalls }

// RecordStartCallsForTest returns how many times Record().Start has
// actually reached the device (not counted when RecordStart's no-op path
// skips the call).
func (m *MockDevice) RecordStartCallsForTest() int { return m.recordStarts }

// mockPlayback records Setup parameters and lets a test drive the pull
// callback directly (standing in for the PortAudio realtime thread).
type mockPlayback struct {
	dev *MockDevice

	pull            PullFunc
	actualMaxPeriod int
	started         bool
	stopped         bool
}

func (p *mockPlayback) Setup(channels, sampleRate, requestedMaxPeriodFrames int, pull PullFunc) (int, error) {
	p.pull = pull
	p.actualMaxPeriod = requestedMaxPeriodFrames
	return requestedMaxPeriodFrames, nil
}

func (p *mockPlayback) Start() error { p.started = true; return nil }
func (p *mockPlayback) Stop() error  { p.stopped = true; return nil }

// Callback lets a test drive the device thread's pull call synchronously.
func (p *mockPlayback) Callback(dst []float32, frames int) int {
	if p.pull == nil {
		return 0
	}
	return p.pull(dst, frames)
}

func (p *mockPlayback) SetVolume(channels int, levels []uint16) error {
	p.dev.recordVolume(levels)
	return nil
}

func (p *mockPlayback) SetMute(muted bool) error {
	p.dev.recordMute(muted)
	return nil
}

func (p *mockPlayback) Latency() int { return p.dev.latency }

type mockRecord struct {
	dev *MockDevice

	push    PushFunc
	started bool
	stopped bool
}

func (r *mockRecord) Start(channels, sampleRate int, push PushFunc) error {
	r.push = push
	r.started = true
	r.dev.recordStarts++
	return nil
}

func (r *mockRecord) Stop() error { r.stopped = true; return nil }

func (r *mockRecord) SetVolume(channels int, levels []uint16) error {
	r.dev.recordVolume(levels)
	return nil
}

func (r *mockRecord) SetMute(muted bool) error {
	r.dev.recordMute(muted)
	return nil
}
