// Command bridgedemo wires a PortAudio back-end to an AudioState and feeds
// it a synthetic tone, standing in for a real source protocol client. It
// exists to exercise the bridge end to end outside of the source protocol
// this package is normally embedded in.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"time"

	"audiobridge/audiostate"
	"audiobridge/internal/device"
	"audiobridge/internal/format"
)

func main() {
	channels := flag.Int("channels", 2, "playback channel count")
	sampleRate := flag.Int("rate", 48000, "playback sample rate")
	toneHz := flag.Float64("tone", 440.0, "synthetic tone frequency, in Hz")
	periodMS := flag.Int("period-ms", 10, "source submit period, in milliseconds")
	volume := flag.Uint("volume", 0xC000, "initial volume, applied to every channel (0-65535)")
	flag.Parse()

	dev := device.NewPortAudio()
	a := audiostate.New(dev)

	if !a.Init() {
		log.Fatal("[bridgedemo] no working audio backend")
	}
	defer a.Free()

	if !a.SupportsPlayback() {
		log.Fatal("[bridgedemo] back-end has no playback direction")
	}

	if err := a.PlaybackStart(*channels, *sampleRate, format.S16LE); err != nil {
		log.Fatalf("[bridgedemo] playback start: %v", err)
	}

	levels := make([]uint16, *channels)
	for i := range levels {
		levels[i] = uint16(*volume)
	}
	a.PlaybackVolume(*channels, levels)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[bridgedemo] shutting down...")
		cancel()
	}()

	go logGraph(ctx, a, 5*time.Second)

	feedTone(ctx, a, *channels, *sampleRate, *toneHz, *periodMS)
	a.PlaybackStop()
}

// feedTone submits a continuous sine wave as signed 16-bit PCM, one period
// at a time, until ctx is cancelled.
func feedTone(ctx context.Context, a *audiostate.AudioState, channels, sampleRate int, toneHz float64, periodMS int) {
	periodFrames := sampleRate * periodMS / 1000
	buf := make([]byte, periodFrames*channels*2)

	ticker := time.NewTicker(time.Duration(periodMS) * time.Millisecond)
	defer ticker.Stop()

	var phase float64
	step := 2 * math.Pi * toneHz / float64(sampleRate)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for f := 0; f < periodFrames; f++ {
				sample := int16(math.Sin(phase) * 0.2 * 32767)
				phase += step
				if phase > 2*math.Pi {
					phase -= 2 * math.Pi
				}
				for ch := 0; ch < channels; ch++ {
					i := (f*channels + ch) * 2
					buf[i] = byte(sample)
					buf[i+1] = byte(sample >> 8)
				}
			}
			a.PlaybackData(buf)
		}
	}
}

// logGraph periodically logs the playback-latency graph's summary.
func logGraph(ctx context.Context, a *audiostate.AudioState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("[bridgedemo] %s", a.Graph().Summary())
		}
	}
}
