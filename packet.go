// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"sync"
)

const (
	// SampleRate is the only sample rate the player speaks. RTP payload
	// type 10 (L16 stereo) is fixed at 44.1kHz per RFC3551.
	SampleRate = 44100
	// Channels is the number of interleaved channels.
	Channels = 2

	// RTPBufSize is the datagram read size. Increase for jumbo frames.
	RTPBufSize = 1500

	// maxPayloadBytes bounds the raw sample storage of a single packet.
	maxPayloadBytes = RTPBufSize - 12
)

// PacketFlags is the per-packet flag set.
type PacketFlags uint32

const (
	// FlagIdle is copied from the RTP marker bit. The server raises it when
	// it has nothing to play.
	FlagIdle PacketFlags = 1 << iota
	// FlagSilent is set when every sample word in the packet is zero.
	FlagSilent
)

// Packet is one RTP packet worth of audio.
//
// The timestamp is the RTP timestamp in host form, a modular 32bit sample
// counter. Samples stay in network byte order until the audio callback pulls
// them; converting on intake would spend receiver time we cannot afford.
type Packet struct {
	// next links packets on the intake list. Only meaningful there.
	next *Packet

	Timestamp uint32
	NSamples  uint32
	Flags     PacketFlags

	raw [maxPayloadBytes]byte
}

// Payload returns the raw network-order sample bytes.
func (p *Packet) Payload() []byte {
	return p.raw[:2*p.NSamples]
}

// SetPayload copies b (network-order 16bit sample words) into the packet and
// derives NSamples and FlagSilent from it.
func (p *Packet) SetPayload(b []byte) {
	n := copy(p.raw[:], b)
	p.NSamples = uint32(n / 2)
	if silentPayload(p.raw[:2*p.NSamples]) {
		p.Flags |= FlagSilent
	}
}

// end is the timestamp one past the last sample, modulo 2^32.
func (p *Packet) end() uint32 {
	return p.Timestamp + p.NSamples
}

// contains reports whether cursor t falls inside the packet's sample range.
func (p *Packet) contains(t uint32) bool {
	return tsLE(p.Timestamp, t) && tsLT(t, p.Timestamp+p.NSamples)
}

func silentPayload(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// tsLT orders RTP timestamps modulo 2^32. The stream wraps roughly every 13.5
// hours at 44.1kHz stereo, so a plain compare would misorder packets at the
// boundary. Interpreting the difference as signed gives the right answer as
// long as the two values are within 2^31 of each other.
func tsLT(a, b uint32) bool {
	return int32(a-b) < 0
}

func tsLE(a, b uint32) bool {
	return int32(a-b) <= 0
}

// packetPool recycles Packet records so the receiver does not hit the
// allocator on every datagram. A packet is about 1.5KB so the free list is
// capped rather than unbounded.
type packetPool struct {
	mu    sync.Mutex
	free  *Packet
	nfree int
}

// poolMaxFree caps the free list. Beyond this releases just drop the packet
// for the GC to take.
const poolMaxFree = 1024

// reserve returns a zeroed packet, reusing a freed one when available.
func (pl *packetPool) reserve() *Packet {
	pl.mu.Lock()
	p := pl.free
	if p != nil {
		pl.free = p.next
		pl.nfree--
	}
	pl.mu.Unlock()
	if p == nil {
		return &Packet{}
	}
	p.next = nil
	p.Timestamp = 0
	p.NSamples = 0
	p.Flags = 0
	return p
}

// release returns a packet to the pool.
func (pl *packetPool) release(p *Packet) {
	pl.mu.Lock()
	if pl.nfree < poolMaxFree {
		p.next = pl.free
		pl.free = p
		pl.nfree++
	}
	pl.mu.Unlock()
}
