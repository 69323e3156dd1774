package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"slices"
	"testing"
)

func TestFloatStreamReadFrame(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []float32{0.5, -0.25, 1, 0, 0.125} {
		binary.Write(&buf, binary.LittleEndian, math.Float32bits(v))
	}

	closed := 0
	stream := newFloatStream(&buf, 2, func() error { closed++; return nil })

	frame, err := stream.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !slices.Equal(frame, []float32{0.5, -0.25}) {
		t.Errorf("Unexpected frame %v", frame)
	}
	if frame, _ = stream.ReadFrame(); !slices.Equal(frame, []float32{1, 0}) {
		t.Errorf("Unexpected frame %v", frame)
	}
	if _, err := stream.ReadFrame(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF for a partial frame, got %v", err)
	}

	stream.Close()
	stream.Close()
	if closed != 1 {
		t.Errorf("Expected closer to run once, ran %d times", closed)
	}
}

func TestMicArgs(t *testing.T) {
	args, err := micArgs("linux", 16000)
	if err != nil {
		t.Fatalf("micArgs failed: %v", err)
	}
	if !slices.Contains(args, "pulse") || !slices.Contains(args, "f32le") || !slices.Contains(args, "16000") {
		t.Errorf("Unexpected args %v", args)
	}
	if _, err := micArgs("plan9", 16000); err == nil {
		t.Error("Expected error for unsupported platform")
	}
}

func TestSilentMicrophone(t *testing.T) {
	stream, err := SilentMicrophone{}.Open(context.Background(), 16000, 160)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	frame, err := stream.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if len(frame) != 160 {
		t.Errorf("Expected 160 samples, got %d", len(frame))
	}

	stream.Close()
	if _, err := stream.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after Close, got %v", err)
	}

	if _, err := (SilentMicrophone{}).Open(context.Background(), 0, 160); err == nil {
		t.Error("Expected error for invalid rate")
	}
}
