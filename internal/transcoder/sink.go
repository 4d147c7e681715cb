// Package transcoder runs an external transcoder process fed with raw PCM on stdin.
package transcoder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrSinkFinalized   = errors.New("transcoder: sink already finalized")
	ErrFinalizeTimeout = errors.New("transcoder: process did not exit in time, killed")
)

// Params selects the transcoder binary and the PCM format written to it.
type Params struct {
	Binary     string
	SampleRate int
	Channels   int
	Codec      string

	// Args overrides the argument list built by FFmpegArgs when set.
	Args func(p Params, outputPath string) []string

	// DiagnosticsCap bounds how many bytes of stdout/stderr are kept.
	DiagnosticsCap int
}

func DefaultParams() Params {
	return Params{
		Binary:         "ffmpeg",
		SampleRate:     48000,
		Channels:       2,
		Codec:          "libvorbis",
		DiagnosticsCap: 64 << 10,
	}
}

// FFmpegArgs reads interleaved s16le from stdin and lets ffmpeg stamp packets with
// wall-clock time, so gaps between writes turn into silence in the output.
func FFmpegArgs(p Params, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-use_wallclock_as_timestamps", "true",
		"-f", "s16le",
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-i", "pipe:0",
		"-c:a", p.Codec,
		"-flush_packets", "1",
		"-y",
		outputPath,
	}
}

// ExitReport describes how a transcoder process ended.
type ExitReport struct {
	ExitCode int
	Killed   bool
	Duration time.Duration
	Written  int64
	Stdout   string
	Stderr   string
}

// ProcessSink owns one transcoder process and its stdin pipe.
type ProcessSink struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *cappedBuffer
	stderr  *cappedBuffer
	drained sync.WaitGroup
	exited  chan struct{}
	waitErr error
	started time.Time

	// writeMu serialises writers; Finalize never takes it so a write blocked on a
	// stuck process cannot keep the process from being closed or killed.
	writeMu   sync.Mutex
	buf       []byte
	written   atomic.Int64
	finalized atomic.Bool
}

// Spawn starts the transcoder writing to outputPath. ctx only bounds the start.
func Spawn(ctx context.Context, outputPath string, params Params) (*ProcessSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("spawn transcoder: %w", err)
	}

	argsFn := params.Args
	if argsFn == nil {
		argsFn = FFmpegArgs
	}

	cmd := exec.Command(params.Binary, argsFn(params, outputPath)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe transcoder stdin: %w", err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe transcoder stdout: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe transcoder stderr: %w", err)
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start transcoder %q: %w", params.Binary, err)
	}

	s := &ProcessSink{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  newCappedBuffer(params.DiagnosticsCap),
		stderr:  newCappedBuffer(params.DiagnosticsCap),
		exited:  make(chan struct{}),
		started: time.Now(),
	}

	// Both pipes are drained for the whole process lifetime; a full pipe would stall the child.
	s.drained.Add(2)
	go s.drain(stdoutPipe, s.stdout)
	go s.drain(stderrPipe, s.stderr)

	go func() {
		s.drained.Wait()
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	return s, nil
}

func (s *ProcessSink) drain(r io.Reader, into *cappedBuffer) {
	defer s.drained.Done()
	_, _ = io.Copy(into, r)
}

// Write serialises samples as little-endian 16-bit PCM and writes them to stdin.
func (s *ProcessSink) Write(samples []int16) error {
	if s.finalized.Load() {
		return ErrSinkFinalized
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	need := len(samples) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	for i, sample := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}

	n, err := s.stdin.Write(buf)
	s.written.Add(int64(n))
	if err != nil {
		if s.finalized.Load() && errors.Is(err, os.ErrClosed) {
			return ErrSinkFinalized
		}
		return fmt.Errorf("failed to write to transcoder stdin: %w", err)
	}

	return nil
}

// Finalize closes stdin and waits for the process to exit. When ctx expires first the
// process is killed and ErrFinalizeTimeout is returned with the partial report.
func (s *ProcessSink) Finalize(ctx context.Context) (ExitReport, error) {
	if !s.finalized.CompareAndSwap(false, true) {
		return ExitReport{}, ErrSinkFinalized
	}

	closeErr := s.stdin.Close()

	var report ExitReport

	var timeoutErr error

	select {
	case <-s.exited:
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		<-s.exited
		report.Killed = true
		timeoutErr = ErrFinalizeTimeout
	}

	report.Written = s.written.Load()
	report.Duration = time.Since(s.started)
	report.Stdout = s.stdout.String()
	report.Stderr = s.stderr.String()
	report.ExitCode = s.cmd.ProcessState.ExitCode()

	if timeoutErr != nil {
		return report, timeoutErr
	}

	if s.waitErr != nil {
		return report, fmt.Errorf("transcoder exited abnormally: %w", s.waitErr)
	}

	if closeErr != nil {
		return report, fmt.Errorf("failed to close transcoder stdin: %w", closeErr)
	}

	return report, nil
}

// Pid returns the process id of the transcoder.
func (s *ProcessSink) Pid() int {
	return s.cmd.Process.Pid
}

// cappedBuffer keeps the first max bytes and silently discards the rest.
type cappedBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newCappedBuffer(max int) *cappedBuffer {
	if max <= 0 {
		max = 64 << 10
	}

	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.max - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}

	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return string(b.buf)
}
