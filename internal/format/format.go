// Package format converts source PCM into the internal float32 samples the
// rest of the bridge operates on. The current core only speaks signed
// 16-bit little-endian interleaved input (spec.md's one supported format);
// the conversion is kept behind a pluggable Decoder so a future format is a
// new Decoder, not a new branch scattered through the playback engine
// (spec.md §9 "Polymorphic sample formats").
package format

import (
	"encoding/binary"
	"fmt"
)

// Tag identifies an input sample format.
type Tag int

const (
	// S16LE is signed 16-bit little-endian interleaved PCM — the only
	// format spec.md's scope supports.
	S16LE Tag = iota
)

// ErrUnsupported is returned by Lookup for any Tag this build has no
// converter for (spec.md §7 "FormatUnsupported": silent no-op upstream).
var ErrUnsupported = fmt.Errorf("format: unsupported tag")

// Decoder converts raw input bytes into interleaved float32 samples
// written into dst starting at index 0, returning the number of samples
// written (at most len(dst)).
type Decoder func(dst []float32, src []byte) (int, error)

var decoders = map[Tag]Decoder{
	S16LE: decodeS16LE,
}

// Lookup returns the Decoder for tag, or ErrUnsupported if none is
// registered.
func Lookup(tag Tag) (Decoder, error) {
	d, ok := decoders[tag]
	if !ok {
		return nil, ErrUnsupported
	}
	return d, nil
}

// decodeS16LE converts signed 16-bit little-endian PCM to float32 in
// [-1.0, 1.0]. len(src) must be a whole number of 2-byte samples; any
// trailing odd byte is ignored.
func decodeS16LE(dst []float32, src []byte) (int, error) {
	n := len(src) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(src[i*2 : i*2+2]))
		dst[i] = float32(v) / 32768.0
	}
	return n, nil
}

// ClampFloat32 clamps v to [-1.0, 1.0].
func ClampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

// ZeroFloat32 zeroes every element of buf.
func ZeroFloat32(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}
