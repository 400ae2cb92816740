// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"errors"
	"fmt"
	"net"

	"github.com/pion/rtp"
)

// rtpHeaderSize is the fixed RTP header length without CSRC or extensions.
const rtpHeaderSize = 12

// receiveLoop reads datagrams until the socket closes or a fatal condition
// shows up. It is crucial that the gap between successive reads stays small.
// Each datagram is read into one reused buffer; the header is decoded from
// that buffer and the payload is copied out of it into a pooled packet that
// is reused across dropped datagrams. The payload is not read straight into
// the packet, so every accepted datagram costs one payload copy.
//
// A non-nil return is fatal to the player.
func (p *Player) receiveLoop() error {
	buf := make([]byte, RTPBufSize)
	var pkt *Packet
	var hdr rtp.Header

	for {
		if pkt == nil {
			pkt = p.pool.reserve()
		}
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || p.isClosed() {
				return nil
			}
			return fmt.Errorf("reading RTP socket: %w", err)
		}
		metricPacketsReceived.Inc()

		if n <= rtpHeaderSize {
			p.log.Info().Int("bytes", n).Msg("ignored a short packet")
			metricPacketsShort.Inc()
			continue
		}
		hn, err := hdr.Unmarshal(buf[:n])
		if err != nil {
			p.log.Info().Err(err).Msg("ignored an unparseable packet")
			metricPacketsShort.Inc()
			continue
		}
		if hdr.Extension {
			continue
		}
		ts := hdr.Timestamp

		// Unlocked read of the playout cursor. A stale value can only
		// make us keep a packet we should have dropped; the playout
		// side junks those before they play.
		if p.activeHint.Load() && tsLT(ts, p.nextTimestamp.Load()) {
			p.log.Info().
				Uint32("timestamp", ts).
				Uint32("cursor", p.nextTimestamp.Load()).
				Msg("dropping old packet")
			metricPacketsLate.Inc()
			continue
		}
		if hdr.PayloadType != PayloadTypeL16 {
			return fmt.Errorf("%w: %d", ErrUnsupportedPayload, hdr.PayloadType)
		}

		pkt.Flags = 0
		if hdr.Marker {
			pkt.Flags |= FlagIdle
		}
		pkt.Timestamp = ts
		pkt.SetPayload(buf[hn:n])
		if pkt.NSamples == 0 {
			continue
		}
		if p.conf.Trace != nil {
			p.conf.Trace.Packet(hdr.SequenceNumber, ts, pkt.NSamples)
		}

		// Backpressure: stall the reader, never the audio callback.
		// Heavy reordering during a stall guarantees dropouts, which we
		// accept for now.
		if p.nsamplesHint.Load() >= p.conf.MaxBuffer {
			p.mu.Lock()
			for p.nsamples >= p.conf.MaxBuffer && !p.isClosed() {
				p.cond.Wait()
			}
			p.mu.Unlock()
		}
		if p.isClosed() {
			return nil
		}

		p.intakeMu.Lock()
		if p.intakeTail == nil {
			p.intakeHead = pkt
		} else {
			p.intakeTail.next = pkt
		}
		p.intakeTail = pkt
		p.nIntake++
		p.intakeCond.Signal()
		p.intakeMu.Unlock()
		pkt = nil
	}
}
