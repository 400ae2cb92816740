package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

func init() {
	Register("portaudio", func(opts Options) (Backend, error) {
		return &portAudioBackend{device: opts.Device}, nil
	})
}

// portAudioBackend plays through a local sound device via PortAudio. The
// PortAudio engine invokes our stream callback on its own thread; we keep
// asking the pull func until the hardware buffer is full since a single pull
// may produce less than requested (or nothing, when the producer dropped a
// silent stretch).
type portAudioBackend struct {
	device string
	format Format

	mu     sync.Mutex
	pull   PullFunc
	stream *portaudio.Stream
	opened bool

	StereoVolume
}

func (b *portAudioBackend) Name() string { return "portaudio" }

func (b *portAudioBackend) Configure(f Format) error {
	if f.Bits != 16 {
		return fmt.Errorf("portaudio: only 16bit samples supported, got %d", f.Bits)
	}
	b.format = f
	return nil
}

func (b *portAudioBackend) Start(pull PullFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return fmt.Errorf("portaudio: already started")
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	b.pull = pull

	var (
		stream *portaudio.Stream
		err    error
	)
	if b.device != "" {
		dev, derr := findOutputDevice(b.device)
		if derr != nil {
			portaudio.Terminate()
			return derr
		}
		params := portaudio.HighLatencyParameters(nil, dev)
		params.Output.Channels = b.format.Channels
		params.SampleRate = float64(b.format.SampleRate)
		params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified
		stream, err = portaudio.OpenStream(params, b.fill)
	} else {
		stream, err = portaudio.OpenDefaultStream(0, b.format.Channels,
			float64(b.format.SampleRate), portaudio.FramesPerBufferUnspecified, b.fill)
	}
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	b.stream = stream
	b.opened = true
	return nil
}

func (b *portAudioBackend) fill(out []int16) {
	pull := b.pull
	n := 0
	for n < len(out) {
		n += pull(out[n:])
	}
	b.Apply(out)
}

func (b *portAudioBackend) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream == nil {
		return fmt.Errorf("portaudio: not started")
	}
	return b.stream.Start()
}

func (b *portAudioBackend) Deactivate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream == nil {
		return fmt.Errorf("portaudio: not started")
	}
	// Abort rather than Stop: Stop drains the hardware buffer and we are
	// deactivating precisely because we have nothing to feed it.
	return b.stream.Abort()
}

func (b *portAudioBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return nil
	}
	b.opened = false
	err := b.stream.Close()
	portaudio.Terminate()
	b.stream = nil
	return err
}

func findOutputDevice(name string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range devs {
		if d.Name == name && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no output device %q", name)
}
