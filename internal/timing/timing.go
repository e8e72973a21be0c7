// Package timing hands device-thread PLL ticks to the source thread over a
// fixed-capacity SPSC queue, matching spec.md §4.3. The device callback
// appends one Tick per invocation; the source thread drains every pending
// tick at the top of each submit, keeping the newest as Next and the prior
// as Last for interpolation (see package latency).
package timing

import "audiobridge/internal/ringbuffer"

const capacity = 16

// Tick is a snapshot of the device PLL posted after each device callback.
type Tick struct {
	PeriodFrames int
	NextTime     int64
	NextPosition int64
}

// Channel is the fixed-capacity SPSC hand-off queue: the device thread
// calls Push, the source thread calls DrainAll.
type Channel struct {
	ring *ringbuffer.Fixed[Tick]
}

// NewChannel returns an empty Channel with room for 16 pending ticks.
func NewChannel() *Channel {
	return &Channel{ring: ringbuffer.NewFixed[Tick](capacity)}
}

// Push appends a tick. Called only from the device thread.
func (ch *Channel) Push(t Tick) {
	ch.ring.Push(t)
}

// DrainAll removes and returns every pending tick, oldest first. Called
// only from the source thread.
func (ch *Channel) DrainAll() []Tick {
	return ch.ring.DrainAll()
}
