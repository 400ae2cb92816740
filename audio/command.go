package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

const (
	// PauseModeSilence keeps writing zero samples while deactivated so the
	// consumer's clock keeps running.
	PauseModeSilence = "silence"
	// PauseModeSuspend stops writing entirely while deactivated.
	PauseModeSuspend = "suspend"
)

func init() {
	Register("command", func(opts Options) (Backend, error) {
		if opts.Command == "" {
			return nil, fmt.Errorf("command backend requires a command")
		}
		mode := opts.PauseMode
		if mode == "" {
			mode = PauseModeSilence
		}
		if mode != PauseModeSilence && mode != PauseModeSuspend {
			return nil, fmt.Errorf("invalid pause mode %q", mode)
		}
		b := &commandBackend{command: opts.Command, pauseMode: mode}
		b.cond = sync.NewCond(&b.mu)
		return b, nil
	})
}

// commandBackend pipes little-endian PCM into a subprocess run via the shell.
// Since a pipe has no clock of its own, the writer goroutine paces itself
// against wall time so the subprocess sees samples at the nominal rate.
type commandBackend struct {
	command   string
	pauseMode string
	format    Format

	mu     sync.Mutex
	cond   *sync.Cond
	active bool
	closed bool

	pull  PullFunc
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}

	StereoVolume
}

func (b *commandBackend) Name() string { return "command" }

func (b *commandBackend) Configure(f Format) error {
	if f.Bits != 16 {
		return fmt.Errorf("command backend: only 16bit samples supported, got %d", f.Bits)
	}
	b.format = f
	return nil
}

func (b *commandBackend) Start(pull PullFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd != nil {
		return fmt.Errorf("command backend: already started")
	}
	b.pull = pull

	cmd := exec.Command("/bin/sh", "-c", b.command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("command backend: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("command backend: starting %q: %w", b.command, err)
	}
	b.cmd = cmd
	b.stdin = stdin
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// writeLoop runs for the lifetime of the subprocess. Each round it either
// pulls real samples (active) or synthesizes silence (deactivated with
// pause-mode silence), then sleeps off whatever time those samples represent.
func (b *commandBackend) writeLoop() {
	defer close(b.done)

	const chunk = 4096 // samples per write
	buf := make([]int16, chunk)
	raw := make([]byte, 2*chunk)
	rate := b.format.SampleRate * b.format.Channels
	deadline := time.Now()

	for {
		b.mu.Lock()
		for !b.closed && !b.active && b.pauseMode == PauseModeSuspend {
			b.cond.Wait()
		}
		if b.closed {
			b.mu.Unlock()
			return
		}
		active := b.active
		b.mu.Unlock()

		var n int
		if active {
			n = b.pull(buf)
			if n == 0 {
				continue
			}
		} else {
			for i := range buf {
				buf[i] = 0
			}
			n = chunk
			deadline = time.Now() // do not backlog silence while paused
		}
		b.Apply(buf[:n])
		for i, s := range buf[:n] {
			binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
		}
		if _, err := b.stdin.Write(raw[:2*n]); err != nil {
			return
		}
		deadline = deadline.Add(time.Duration(n) * time.Second / time.Duration(rate))
		if d := time.Until(deadline); d > 0 {
			time.Sleep(d)
		}
	}
}

func (b *commandBackend) Activate() error {
	b.mu.Lock()
	b.active = true
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}

func (b *commandBackend) Deactivate() error {
	b.mu.Lock()
	b.active = false
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}

func (b *commandBackend) Close() error {
	b.mu.Lock()
	if b.cmd == nil {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()

	<-b.done
	b.stdin.Close()
	return b.cmd.Wait()
}
