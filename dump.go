// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultDumpSeconds is how much trailing audio the debug ring keeps: enough
// for the user to react to an audible artefact.
const DefaultDumpSeconds = 20

// Dump is a memory-mapped ring of the last produced samples. The audio
// callback writes each sample it emits; the start point wanders through the
// file as the ring wraps. Readers must tolerate a torn tail since there is no
// locking. Use dump2wav to turn a dump into a WAV file for inspection.
type Dump struct {
	f    *os.File
	data []byte
	size int // ring capacity in samples
	idx  int // next sample slot
}

// OpenDump truncate-creates path, pre-sizes it to seconds of stereo audio
// (two bytes per sample) and maps it read-write.
func OpenDump(path string, seconds int) (*Dump, error) {
	if seconds <= 0 {
		seconds = DefaultDumpSeconds
	}
	size := SampleRate * Channels * seconds

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("opening dump %s: %w", path, err)
	}
	if err := f.Truncate(int64(size * 2)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing dump %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size*2, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping dump %s: %w", path, err)
	}
	return &Dump{f: f, data: data, size: size}, nil
}

// write appends produced samples, wrapping at the ring end. Native
// little-endian on every platform we build for; the file format says LE.
func (d *Dump) write(samples []int16) {
	for _, s := range samples {
		binary.LittleEndian.PutUint16(d.data[2*d.idx:], uint16(s))
		d.idx++
		if d.idx == d.size {
			d.idx = 0
		}
	}
}

// Close unmaps and closes the backing file.
func (d *Dump) Close() error {
	if d.data != nil {
		unix.Munmap(d.data)
		d.data = nil
	}
	return d.f.Close()
}
