package recording

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrEmptyCapture is returned by Capture when the microphone produced no audio.
var ErrEmptyCapture = errors.New("no audio captured")

type AudioFrame struct {
	Data      []byte
	Timestamp time.Time
}

type Config struct {
	SampleRate        int
	Channels          int
	Format            string
	BufferSize        int
	Device            string
	ChannelBufferSize int
	// Timeout caps a single recording; zero means no cap.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		Channels:          1,
		Format:            "s16",
		BufferSize:        8192,
		Device:            "",
		ChannelBufferSize: 30,
		Timeout:           5 * time.Minute,
	}
}

// commandFunc builds the capture process; tests swap it for a stand-in.
type commandFunc func(ctx context.Context, args ...string) *exec.Cmd

func pwRecord(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "pw-record", args...)
}

type Recorder struct {
	config    Config
	recording atomic.Bool

	command commandFunc
	check   func(ctx context.Context) error

	mu     sync.Mutex // guards cmd and cancel
	cmd    *exec.Cmd
	cancel context.CancelFunc

	wg sync.WaitGroup
}

func NewRecorder(config Config) *Recorder {
	return &Recorder{
		config:  config,
		command: pwRecord,
		check:   CheckPipeWireAvailable,
	}
}

func NewDefaultRecorder() *Recorder { return NewRecorder(DefaultConfig()) }

func (r *Recorder) Config() Config { return r.config }

func (r *Recorder) IsRecording() bool {
	return r.recording.Load()
}

// Start launches the capture process and streams frames until Stop, ctx
// cancellation or the configured timeout. Both channels close when capture
// ends.
func (r *Recorder) Start(ctx context.Context) (<-chan AudioFrame, <-chan error, error) {
	if !r.recording.CompareAndSwap(false, true) {
		return nil, nil, fmt.Errorf("already recording")
	}

	if err := r.validateConfig(); err != nil {
		r.recording.Store(false)
		return nil, nil, err
	}

	if err := r.check(ctx); err != nil {
		r.recording.Store(false)
		return nil, nil, fmt.Errorf("PipeWire not available: %w", err)
	}

	var recordingCtx context.Context
	var cancel context.CancelFunc
	if r.config.Timeout > 0 {
		recordingCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
	} else {
		recordingCtx, cancel = context.WithCancel(ctx)
	}

	frameCh := make(chan AudioFrame, r.config.ChannelBufferSize)
	errCh := make(chan error, 1)

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.captureLoop(recordingCtx, frameCh, errCh)

	return frameCh, errCh, nil
}

func (r *Recorder) Stop() error {
	if !r.recording.Load() {
		return nil
	}
	r.requestCancel()
	return nil
}

func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Capture records for up to d and returns the raw PCM. Cancelling ctx ends
// the recording early and returns what was captured so far.
func (r *Recorder) Capture(ctx context.Context, d time.Duration) ([]byte, error) {
	if d <= 0 {
		return nil, fmt.Errorf("invalid capture duration: %v", d)
	}
	captureCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	frames, errs, err := r.Start(captureCtx)
	if err != nil {
		return nil, err
	}

	log.Printf("Recording: capturing up to %v", d)
	var pcm bytes.Buffer
	for frame := range frames {
		pcm.Write(frame.Data)
	}
	r.Wait()

	if err := <-errs; err != nil {
		return nil, err
	}
	if pcm.Len() == 0 {
		return nil, ErrEmptyCapture
	}
	log.Printf("Recording: captured %d bytes", pcm.Len())
	return pcm.Bytes(), nil
}

func (r *Recorder) captureLoop(ctx context.Context, frameCh chan<- AudioFrame, errCh chan<- error) {
	defer func() {
		r.mu.Lock()
		if r.cmd != nil {
			_ = r.cmd.Wait()
			r.cmd = nil
		}
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
		r.mu.Unlock()

		close(frameCh)
		close(errCh)
		r.recording.Store(false)
		r.wg.Done()
	}()

	cmd := r.command(ctx, r.buildPwRecordArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.emitErr(errCh, fmt.Errorf("create stdout pipe: %w", err))
		return
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.emitErr(errCh, fmt.Errorf("create stderr pipe: %w", err))
		return
	}

	if err := cmd.Start(); err != nil {
		r.emitErr(errCh, fmt.Errorf("start capture: %w", err))
		return
	}

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("Recording stderr: %s", scanner.Text())
		}
	}()

	buffer := make([]byte, r.config.BufferSize)
	var dropped int
	lastDropLog := time.Now()

	for {
		n, readErr := stdout.Read(buffer)
		if n > 0 {
			frameData := make([]byte, n)
			copy(frameData, buffer[:n])

			select {
			case frameCh <- AudioFrame{Data: frameData, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			default:
				dropped++
				if time.Since(lastDropLog) > time.Second {
					log.Printf("Recording: dropped %d frames due to backpressure", dropped)
					lastDropLog = time.Now()
					dropped = 0
				}
			}
		}

		if readErr != nil {
			// a killed process surfaces as a read error once ctx is done
			if errors.Is(readErr, io.EOF) || ctx.Err() != nil {
				return
			}
			r.emitErr(errCh, fmt.Errorf("read audio: %w", readErr))
			return
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (r *Recorder) requestCancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Recorder) emitErr(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
	log.Printf("Recording error: %v", err)
}

func (r *Recorder) buildPwRecordArgs() []string {
	args := []string{
		"--format", r.config.Format,
		"--rate", strconv.Itoa(r.config.SampleRate),
		"--channels", strconv.Itoa(r.config.Channels),
		"-", // stdout
	}
	if r.config.Device != "" {
		args = append(args, "--target", r.config.Device)
	}
	return args
}

func CheckPipeWireAvailable(ctx context.Context) error {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return fmt.Errorf("pw-record not found: %w (install pipewire-tools)", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := exec.CommandContext(checkCtx, "pw-cli", "info").Run(); err != nil {
		return fmt.Errorf("PipeWire not running or accessible: %w", err)
	}
	return nil
}

func (r *Recorder) validateConfig() error {
	if r.config.SampleRate <= 0 {
		return fmt.Errorf("invalid SampleRate: %d", r.config.SampleRate)
	}
	if r.config.Channels <= 0 {
		return fmt.Errorf("invalid Channels: %d", r.config.Channels)
	}
	if r.config.BufferSize <= 0 {
		return fmt.Errorf("invalid BufferSize: %d", r.config.BufferSize)
	}
	if r.config.ChannelBufferSize <= 0 {
		return fmt.Errorf("invalid ChannelBufferSize: %d", r.config.ChannelBufferSize)
	}
	if r.config.Format == "" {
		return fmt.Errorf("invalid Format: empty")
	}
	if r.config.Timeout < 0 {
		return fmt.Errorf("invalid Timeout: %v", r.config.Timeout)
	}
	frameBytes := 2 * r.config.Channels
	if r.config.Format == "s16" && r.config.BufferSize%frameBytes != 0 {
		log.Printf("Recording: BufferSize %d not aligned to frame size %d; audio frames may split",
			r.config.BufferSize, frameBytes)
	}
	return nil
}
