package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

// FFplayOutputs opens playback devices backed by an ffplay process
type FFplayOutputs struct {
	path   string
	logger *zap.Logger
}

var _ repositories.AudioOutputFactory = (*FFplayOutputs)(nil)

// NewFFplayOutputs creates the factory. An empty path looks up ffplay in PATH.
func NewFFplayOutputs(path string, logger *zap.Logger) *FFplayOutputs {
	if path == "" {
		path = "ffplay"
	}
	return &FFplayOutputs{path: path, logger: logger}
}

// OpenOutput implements repositories.AudioOutputFactory
func (f *FFplayOutputs) OpenOutput(_ context.Context, format entities.AudioFormat) (repositories.AudioOutput, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(f.path); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}

	layout := "mono"
	if format.Channels == 2 {
		layout = "stereo"
	}
	cmd := exec.Command(f.path,
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", layout,
		"-ar", strconv.Itoa(format.SampleRate),
		"-i", "pipe:0",
	)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}

	f.logger.Info("Audio output opened",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.Channels))

	closer := func() error {
		_ = stdin.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		return nil
	}
	return newOutput(format, stdin, closer, f.logger).start(), nil
}

// FFmpegMicrophone captures the default input device through ffmpeg
type FFmpegMicrophone struct {
	path   string
	logger *zap.Logger
}

var _ repositories.Microphone = (*FFmpegMicrophone)(nil)

// NewFFmpegMicrophone creates the microphone. An empty path looks up ffmpeg in PATH.
func NewFFmpegMicrophone(path string, logger *zap.Logger) *FFmpegMicrophone {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegMicrophone{path: path, logger: logger}
}

// Open implements repositories.Microphone
func (m *FFmpegMicrophone) Open(_ context.Context, sampleRate, frameSize int) (repositories.MicStream, error) {
	if sampleRate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("invalid capture format: rate %d, frame size %d", sampleRate, frameSize)
	}
	if _, err := exec.LookPath(m.path); err != nil {
		return nil, errors.New("ffmpeg is required for microphone capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micArgs(runtime.GOOS, sampleRate)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(m.path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}

	m.logger.Info("Microphone opened",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("sampleRate", sampleRate),
		zap.Int("frameSize", frameSize))

	closer := func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		return nil
	}
	return newFloatStream(stdout, frameSize, closer), nil
}

// micArgs asks ffmpeg for mono 32-bit float samples on stdout
func micArgs(goos string, sampleRate int) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args, "-ac", "1", "-ar", strconv.Itoa(sampleRate), "-f", "f32le", "-"), nil
}

// floatStream reads fixed-size frames of little-endian float32 samples
type floatStream struct {
	r      io.Reader
	buf    []byte
	closer func() error
	once   sync.Once
	err    error
}

func newFloatStream(r io.Reader, frameSize int, closer func() error) *floatStream {
	return &floatStream{r: r, buf: make([]byte, frameSize*4), closer: closer}
}

// ReadFrame implements repositories.MicStream
func (s *floatStream) ReadFrame() ([]float32, error) {
	if _, err := io.ReadFull(s.r, s.buf); err != nil {
		return nil, err
	}
	frame := make([]float32, len(s.buf)/4)
	for i := range frame {
		frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(s.buf[i*4:]))
	}
	return frame, nil
}

// Close implements repositories.MicStream
func (s *floatStream) Close() error {
	s.once.Do(func() {
		if s.closer != nil {
			s.err = s.closer()
		}
	})
	return s.err
}
