// Package pll implements the second-order type-II phase-locked loop that
// turns a stream of jittery callback arrivals into a smoothed prediction of
// the next callback's wall-clock time and cumulative sample position.
//
// One Clock tracks the device thread's callback cadence; a second, separate
// Clock tracks the source thread's submit cadence. Neither touches the
// other directly — the playback engine shuttles the information they need
// between threads (see package timing and package latency).
package pll

import "math"

const (
	// Bandwidth is the loop bandwidth in Hz. An order of magnitude below
	// audible modulation; converges within a few seconds.
	Bandwidth = 0.05

	// SlewThresholdSec is the |error| magnitude, in seconds, above which
	// Update performs a slew (discontinuous frame insertion/removal)
	// instead of adjusting the loop filter.
	SlewThresholdSec = 0.2
)

// Result reports what Update did, so the caller can react: slew the ring
// buffer by SlewFrames, or feed CurTime/CurPosition (the *pre-update*
// predicted event) to the latency controller.
type Result struct {
	// Initialized is true on the clock's first-ever Update call.
	Initialized bool
	// PeriodChanged is true when frames differs from the previous call
	// (spec.md's double-buffered-device transition case).
	PeriodChanged bool
	// Slewed is true when |error| crossed SlewThresholdSec.
	Slewed bool
	// SlewFrames is the signed frame count to insert (source clock) or
	// drop (device clock) when Slewed is true.
	SlewFrames int
	// CurTime/CurPosition are the clock's predicted next event *before*
	// this call's bookkeeping was applied. Meaningless when Initialized.
	CurTime     int64
	CurPosition int64
}

// Clock is one second-order type-II PLL instance. The zero value is not
// usable; construct with NewClock.
type Clock struct {
	sampleRate int

	periodFrames int
	periodSec    float64
	nextTime     int64
	nextPosition int64
	b, c         float64
}

// NewClock returns an uninitialized Clock for the given sample rate. The
// first Update call primes it.
func NewClock(sampleRate int) *Clock {
	return &Clock{sampleRate: sampleRate}
}

// NextTime returns the predicted wall-clock nanosecond of the next callback.
func (c *Clock) NextTime() int64 { return c.nextTime }

// NextPosition returns the monotonic cumulative frame count at NextTime.
func (c *Clock) NextPosition() int64 { return c.nextPosition }

// PeriodSec returns the current smoothed period duration.
func (c *Clock) PeriodSec() float64 { return c.periodSec }

// PeriodFrames returns the last observed callback frame count.
func (c *Clock) PeriodFrames() int { return c.periodFrames }

// B and C return the current loop filter coefficients, needed by the
// latency controller to filter its own offset-error signal with the same
// responsiveness as the source clock (spec.md §4.4).
func (c *Clock) B() float64 { return c.b }
func (c *Clock) C() float64 { return c.c }

func (c *Clock) recomputeCoeffs() {
	omega := 2 * math.Pi * Bandwidth * c.periodSec
	c.b = math.Sqrt2 * omega
	c.c = omega * omega
}

// Update feeds one callback event — now (wall-clock nanoseconds) and the
// frame count the callback reported — into the loop.
func (c *Clock) Update(now int64, frames int) Result {
	if c.periodFrames == 0 {
		c.periodSec = float64(frames) / float64(c.sampleRate)
		c.nextTime = now + int64(c.periodSec*1e9)
		c.periodFrames = frames
		c.nextPosition += int64(frames)
		c.recomputeCoeffs()
		return Result{Initialized: true}
	}

	if frames != c.periodFrames {
		// Double-buffered devices request the new period size one callback
		// before the previous period finishes playing: advance by the OLD
		// period, not the new one, to keep the predicted wake time honest
		// during the transition.
		curTime := c.nextTime
		curPosition := c.nextPosition
		c.nextTime += int64(c.periodSec * 1e9)
		c.periodFrames = frames
		c.periodSec = float64(frames) / float64(c.sampleRate)
		c.nextPosition += int64(frames)
		c.recomputeCoeffs()
		return Result{PeriodChanged: true, CurTime: curTime, CurPosition: curPosition}
	}

	errSec := float64(now-c.nextTime) * 1e-9
	if math.Abs(errSec) >= SlewThresholdSec {
		slewFrames := int(math.Round(errSec * float64(c.sampleRate)))
		curTime := now
		curPosition := c.nextPosition + int64(slewFrames)
		c.periodSec = float64(frames) / float64(c.sampleRate)
		c.nextTime = now + int64(c.periodSec*1e9)
		c.nextPosition = curPosition + int64(frames)
		return Result{Slewed: true, SlewFrames: slewFrames, CurTime: curTime, CurPosition: curPosition}
	}

	curTime := c.nextTime
	curPosition := c.nextPosition
	c.nextTime += int64((c.b*errSec + c.periodSec) * 1e9)
	c.periodSec += c.c * errSec
	c.nextPosition += int64(frames)
	return Result{CurTime: curTime, CurPosition: curPosition}
}
