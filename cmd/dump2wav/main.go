// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package main

import (
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/pflag"
)

// dump2wav converts a playrtp --dump ring file (raw little-endian 16bit
// stereo PCM at 44.1kHz) into a WAV file for inspection in an audio editor.
// The ring's start point wanders, so the output starts wherever the dump
// happened to begin; look for the seam if you need absolute ordering.

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  dump2wav DUMP WAV\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 2 {
		pflag.Usage()
		os.Exit(1)
	}
	if err := convert(pflag.Arg(0), pflag.Arg(1)); err != nil {
		fmt.Fprintln(os.Stderr, "dump2wav:", err)
		os.Exit(1)
	}
}

func convert(in, out string) error {
	raw, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	if len(raw)%2 != 0 {
		return fmt.Errorf("%s: odd length, not a sample dump", in)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, 44100, 16, 2, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: 44100},
		Data:           make([]int, len(raw)/2),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
