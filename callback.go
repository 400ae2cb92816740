// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import "encoding/binary"

// Callback produces samples for the audio backend. It copies from the packet
// containing the cursor when there is one, fills silence up to the next known
// packet otherwise, and advances the cursor by whatever it produced.
//
// The return value can legitimately be zero: if the buffer is over target and
// the audio just produced was silent, the segment is discarded instead of
// played. The sender's clock and ours drift; when the sender runs fast our
// buffer grows until the kernel starts dropping packets, which is audible.
// Shortening a silence is not. The opposite drift direction simply underruns
// into BUFFERING.
//
// This runs on the backend's thread. It must not block on anything but the
// playout lock and does no I/O.
func (p *Player) Callback(out []int16) int {
	p.mu.Lock()

	pkt := p.nextPacketLocked()
	next := p.nextTimestamp.Load()
	var samples uint32
	var silent bool

	if pkt != nil && pkt.contains(next) {
		offset := next - pkt.Timestamp
		samples = pkt.end() - next
		if samples > uint32(len(out)) {
			samples = uint32(len(out))
		}
		raw := pkt.raw[2*offset:]
		for i := uint32(0); i < samples; i++ {
			out[i] = int16(binary.BigEndian.Uint16(raw[2*i:]))
		}
		silent = pkt.Flags&FlagSilent != 0
	} else {
		// No packet holds the cursor: infill zeros up to the next known
		// packet, or fill the whole buffer when the heap is empty. The
		// min against len(out) also covers modular-difference overflow.
		samples = uint32(len(out))
		if pkt != nil {
			if gap := pkt.Timestamp - next; gap < samples {
				samples = gap
			}
		}
		for i := uint32(0); i < samples; i++ {
			out[i] = 0
		}
		silent = true
		metricInfillSamples.Add(float64(samples))
	}

	if p.conf.Dump != nil {
		p.conf.Dump.write(out[:samples])
	}
	p.nextTimestamp.Store(next + samples)

	if p.nsamples > p.conf.MinBuffer && silent {
		p.log.Info().
			Uint32("samples", samples).
			Uint32("buffered", p.nsamples).
			Uint32("minbuffer", p.conf.MinBuffer).
			Msg("dropping silent samples")
		metricSilentDroppedSamples.Add(float64(samples))
		samples = 0
	}

	// Junk whatever the advance just exhausted.
	p.nextPacketLocked()
	p.mu.Unlock()
	return int(samples)
}

// nextPacketLocked drops heap-root packets whose whole range is behind the
// cursor and returns the new root, which may still be in the future, or nil.
// Caller holds mu.
func (p *Player) nextPacketLocked() *Packet {
	for p.packets.Len() > 0 {
		pkt := p.packets.first()
		if tsLE(pkt.end(), p.nextTimestamp.Load()) {
			p.dropFirstLocked()
			continue
		}
		return pkt
	}
	return nil
}
