// Package latency implements the source thread's latency tracking:
// interpolating the device's read position from its two most recent ticks,
// computing the offset error against a jitter-tolerant target, filtering
// that error with the source PLL's own loop coefficients, and running the
// PI controller that produces the SRC ratio (spec.md §4.4).
package latency

import "audiobridge/internal/timing"

const (
	// TargetJitterMs is the fixed jitter margin baked into TargetLatency.
	TargetJitterMs = 13.0

	// kp and ki are the SRC ratio PI gains. Deliberately tiny: ratio
	// excursions stay well below ±0.1%, under the threshold of pitch
	// perception.
	kp = 0.5e-6
	ki = 1.0e-16
)

// TargetLatency returns the desired buffered latency in frames. The third
// term compensates for the double-buffered-device transition: when the
// device is running below its advertised max period, extra frames are
// transiently banked in the ring buffer; without it the controller would
// chase a false offset and underrun when the device returns to max period.
func TargetLatency(sampleRate, deviceMaxPeriodFrames, devPeriodFrames int) float64 {
	target := TargetJitterMs * float64(sampleRate) / 1000
	target += float64(deviceMaxPeriodFrames) * 1.1
	if extra := deviceMaxPeriodFrames - devPeriodFrames; extra > 0 {
		target += float64(extra)
	}
	return target
}

// Controller owns the source thread's latency tracking state. The zero
// value is not usable; construct with NewController.
type Controller struct {
	sampleRate int

	tickCount                    int
	devLastTime, devLastPosition int64
	devNextTime, devNextPosition int64
	devPeriodFrames              int

	offsetError         float64
	offsetErrorIntegral float64
	ratioIntegral       float64
}

// NewController returns a Controller with unity ratio and no tick history.
func NewController(sampleRate int) *Controller {
	return &Controller{sampleRate: sampleRate}
}

// ObserveTicks folds newly drained device ticks into the two-point history
// used for interpolation. Call with every tick timing.Channel.DrainAll
// returns, in arrival order, at the top of each submit.
func (lc *Controller) ObserveTicks(ticks []timing.Tick) {
	for _, t := range ticks {
		lc.tickCount++
		lc.devLastTime, lc.devLastPosition = lc.devNextTime, lc.devNextPosition
		lc.devNextTime, lc.devNextPosition = t.NextTime, t.NextPosition
		lc.devPeriodFrames = t.PeriodFrames
	}
}

// DevPeriodFrames returns the most recently observed device period, used by
// the caller to compute TargetLatency.
func (lc *Controller) DevPeriodFrames() int { return lc.devPeriodFrames }

// hasTwoTicks reports whether at least two device ticks have ever arrived —
// fewer, and offset computation is skipped for this period (spec.md §4.3).
func (lc *Controller) hasTwoTicks() bool { return lc.tickCount >= 2 }

// interpolatedOffset computes the source-minus-device position offset at
// curTime by linearly interpolating the device's read position between its
// last two ticks (spec.md §4.4).
func (lc *Controller) interpolatedOffset(curTime, curPosition int64, targetLatency float64) (actualOffset, actualOffsetError float64, ok bool) {
	if !lc.hasTwoTicks() {
		return 0, 0, false
	}
	span := float64(lc.devNextTime - lc.devLastTime)
	if span == 0 {
		return 0, 0, false
	}
	frac := float64(curTime-lc.devLastTime) / span
	devPosition := float64(lc.devLastPosition) + float64(lc.devNextPosition-lc.devLastPosition)*frac
	actualOffset = float64(curPosition) - devPosition
	actualOffsetError = -(actualOffset - targetLatency)
	return actualOffset, actualOffsetError, true
}

// Update folds the source PLL's pre-update predicted event (curTime,
// curPosition) and its current period/loop coefficients into the
// controller, returning the new SRC ratio. ok is false when fewer than two
// device ticks have ever arrived, in which case ratio is unity and the
// caller should hold the previous ratio instead.
func (lc *Controller) Update(curTime, curPosition int64, periodSec, b, c float64, deviceMaxPeriodFrames int) (ratio, actualOffset float64, ok bool) {
	targetLatency := TargetLatency(lc.sampleRate, deviceMaxPeriodFrames, lc.devPeriodFrames)
	actualOffset, actualOffsetError, ok := lc.interpolatedOffset(curTime, curPosition, targetLatency)
	if !ok {
		return 1.0, 0, false
	}

	err := actualOffsetError - lc.offsetError
	lc.offsetError += b*err + lc.offsetErrorIntegral
	lc.offsetErrorIntegral += c * err

	lc.ratioIntegral += lc.offsetError * periodSec
	ratio = 1 + kp*lc.offsetError + ki*lc.ratioIntegral
	return ratio, actualOffset, true
}

// OffsetError returns the currently smoothed offset error, in frames.
func (lc *Controller) OffsetError() float64 { return lc.offsetError }
