package format

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestDecodeS16LERoundTrip(t *testing.T) {
	dec, err := Lookup(S16LE)
	if err != nil {
		t.Fatalf("Lookup(S16LE) error = %v", err)
	}

	src := make([]byte, 4)
	binary.LittleEndian.PutUint16(src[0:2], uint16(int16(16384))) // 0.5
	binary.LittleEndian.PutUint16(src[2:4], 0x8000)               // int16 -32768 -> -1.0

	dst := make([]float32, 2)
	n, err := dec(dst, src)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if n != 2 {
		t.Fatalf("decode returned %d samples, want 2", n)
	}
	if dst[0] != 0.5 {
		t.Fatalf("dst[0] = %v, want 0.5", dst[0])
	}
	if dst[1] != -1.0 {
		t.Fatalf("dst[1] = %v, want -1.0", dst[1])
	}
}

func TestLookupUnsupportedTag(t *testing.T) {
	_, err := Lookup(Tag(999))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Lookup() error = %v, want ErrUnsupported", err)
	}
}

func TestClampFloat32(t *testing.T) {
	cases := map[float32]float32{
		0.5:  0.5,
		1.5:  1.0,
		-1.5: -1.0,
		-0.2: -0.2,
	}
	for in, want := range cases {
		if got := ClampFloat32(in); got != want {
			t.Errorf("ClampFloat32(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroFloat32(t *testing.T) {
	buf := []float32{1, 2, 3}
	ZeroFloat32(buf)
	for i, v := range buf {
		if v != 0 {
			t.Errorf("buf[%d] = %v, want 0", i, v)
		}
	}
}
