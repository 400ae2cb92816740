package audio

import (
	"fmt"
	"sort"
	"sync"
)

/*
	Backend facade for audio output. The player core drives any backend
	through the same pull model: the backend calls the supplied PullFunc
	from its own goroutine whenever it wants samples, and plays whatever
	the callback produced. Calls to the pull func are serial.
*/

// Format describes the sample stream a backend must produce.
type Format struct {
	SampleRate int
	Channels   int
	Bits       int
}

// DefaultFormat is the only format the player currently emits, L16 stereo.
var DefaultFormat = Format{SampleRate: 44100, Channels: 2, Bits: 16}

// PullFunc fills out with interleaved host-order samples and returns how many
// were produced. Zero means the producer discarded audio this round; the
// backend should simply ask again.
type PullFunc func(out []int16) int

// Backend is an output device.
//
// Lifecycle: Configure, Start (callback installed, device opened but quiet),
// then any number of Activate/Deactivate pairs, then Close. The backend must
// not call the pull func while deactivated.
type Backend interface {
	Name() string
	Configure(f Format) error
	Start(pull PullFunc) error
	Activate() error
	Deactivate() error
	Close() error
}

// Mixer is implemented by backends that can report and adjust volume.
// Values are 0..100 per channel.
type Mixer interface {
	Volume() (left, right int)
	SetVolume(left, right int) (int, int)
}

// Options carries backend construction parameters. Unused fields are ignored
// by backends that have no use for them.
type Options struct {
	// Device selects an output device by name, empty for the system default.
	Device string
	// Command is the shell command a pipe backend feeds.
	Command string
	// PauseMode is "silence" or "suspend" for backends that keep a
	// consumer alive across deactivation.
	PauseMode string
}

// Factory builds a backend from options.
type Factory func(opts Options) (Backend, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register makes a backend constructor available under name. Backends call
// this from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New constructs the named backend.
func New(name string, opts Options) (Backend, error) {
	registryMu.Lock()
	f, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown audio api %q (have %v)", name, Names())
	}
	return f(opts)
}

// Names lists registered backends, sorted.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultName is the backend used when none is selected.
func DefaultName() string {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry["portaudio"]; ok {
		return "portaudio"
	}
	for n := range registry {
		return n
	}
	return ""
}
