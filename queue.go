// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

// queueLoop moves packets from the intake list to the heap. It exists so the
// receiver never waits on the playout lock: heap insertion can stall behind
// the audio callback, and during that stall the receiver must keep reading.
// The intake lock is held only for the pointer splice.
func (p *Player) queueLoop() {
	for {
		p.intakeMu.Lock()
		for p.intakeHead == nil && !p.isClosed() {
			p.intakeCond.Wait()
		}
		if p.isClosed() {
			p.intakeMu.Unlock()
			return
		}
		pkt := p.intakeHead
		p.intakeHead = pkt.next
		if p.intakeHead == nil {
			p.intakeTail = nil
		}
		p.nIntake--
		p.intakeMu.Unlock()

		pkt.next = nil
		p.enqueue(pkt)
	}
}

// enqueue inserts a packet into the ordered heap and wakes the state machine
// and any backpressured reader.
func (p *Player) enqueue(pkt *Packet) {
	p.mu.Lock()
	p.packets.insert(pkt)
	p.nsamples += pkt.NSamples
	p.nsamplesHint.Store(p.nsamples)
	metricBufferedSamples.Set(float64(p.nsamples))
	p.cond.Broadcast()
	p.mu.Unlock()
}
