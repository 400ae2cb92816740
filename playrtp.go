// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emiago/playrtp/audio"
)

// PayloadTypeL16 is RTP payload type 10: L16 stereo at 44.1kHz, RFC3551.
const PayloadTypeL16 = 10

// ErrUnsupportedPayload is returned when the stream carries a payload type
// other than L16. It is fatal: a player that silently eats a stream it cannot
// decode is worse than one that stops.
var ErrUnsupportedPayload = errors.New("unsupported RTP payload type")

// DefaultMinBuffer is about 0.4s of stereo audio in samples.
const DefaultMinBuffer = 2 * SampleRate * 4 / 10

// Config carries player tuning. Zero values select defaults.
type Config struct {
	// MinBuffer is the low water mark in samples. Playback starts once this
	// many samples are buffered and pauses when occupancy drops below it
	// with nothing currently due.
	MinBuffer uint32
	// MaxBuffer is the high water mark in samples. The receiver stalls
	// rather than buffer beyond it. Defaults to 2*MinBuffer.
	MaxBuffer uint32
	// Monitor enables a once-a-minute buffer occupancy report.
	Monitor bool
	// Dump, when set, records every produced sample into a ring.
	Dump *Dump
	// Trace, when set, receives one line per accepted packet.
	Trace *TraceLog
}

// Player consumes an RTP stream of L16 samples from a datagram socket and
// feeds an audio backend through a pull callback.
//
// Three goroutines cooperate around two locks. The receiver parses datagrams
// and appends to the intake list under the intake lock; the queue goroutine
// moves packets from the intake list into the ordered heap under the playout
// lock; the backend's callback drains the heap under the playout lock. The
// split exists so the receiver never contends with the audio callback: its
// only lock is a pointer append.
type Player struct {
	conf    Config
	log     zerolog.Logger
	conn    net.PacketConn
	backend audio.Backend

	pool packetPool

	// Intake list. Receiver appends, queue goroutine drains.
	intakeMu   sync.Mutex
	intakeCond *sync.Cond
	intakeHead *Packet
	intakeTail *Packet
	nIntake    int

	// Playout state. Heap, counters and cursor live under mu.
	mu      sync.Mutex
	cond    *sync.Cond
	packets packetHeap
	// nsamples is the exact sum of NSamples over the heap, authoritative
	// under mu. nsamplesHint mirrors it for lock-free reads.
	nsamples     uint32
	nsamplesHint atomic.Uint32
	// nextTimestamp is the playout cursor. Written under mu, read raw by
	// the receiver; stale reads there are tolerated.
	nextTimestamp atomic.Uint32
	// active is true while playing, false while buffering. activeHint
	// mirrors it for the receiver's unlocked late-packet check.
	active     bool
	activeHint atomic.Bool

	closed atomic.Bool
	runErr error
}

// New builds a player reading from conn and playing through backend.
func New(conn net.PacketConn, backend audio.Backend, conf Config) *Player {
	if conf.MinBuffer == 0 {
		conf.MinBuffer = DefaultMinBuffer
	}
	if conf.MaxBuffer == 0 {
		conf.MaxBuffer = 2 * conf.MinBuffer
	}
	p := &Player{
		conf:    conf,
		log:     log.With().Str("caller", "playrtp").Logger(),
		conn:    conn,
		backend: backend,
	}
	p.intakeCond = sync.NewCond(&p.intakeMu)
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetLogger replaces the player logger. Call before Run.
func (p *Player) SetLogger(log zerolog.Logger) {
	p.log = log
}

// Buffered returns the current buffered sample count. The value is a racy
// hint and may lag the authoritative counter by a packet or two.
func (p *Player) Buffered() uint32 {
	return p.nsamplesHint.Load()
}

// Run starts the receiver and queue goroutines and drives the
// buffering/playing state machine until the context is cancelled or a fatal
// error occurs. The backend is configured, started and closed here.
func (p *Player) Run(ctx context.Context) error {
	if err := p.backend.Configure(audio.DefaultFormat); err != nil {
		return fmt.Errorf("backend configure: %w", err)
	}
	if err := p.backend.Start(p.Callback); err != nil {
		return fmt.Errorf("backend start: %w", err)
	}
	defer p.backend.Close()

	go func() {
		p.fail(p.receiveLoop())
	}()
	go p.queueLoop()

	stop := context.AfterFunc(ctx, func() { p.fail(ctx.Err()) })
	defer stop()

	p.stateLoop()

	p.mu.Lock()
	err := p.runErr
	p.mu.Unlock()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close terminates the player. Safe to call from any goroutine.
func (p *Player) Close() error {
	p.fail(nil)
	return nil
}

// fail records err (first one wins), marks the player closed and wakes every
// waiter so the loops can observe the flag.
func (p *Player) fail(err error) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	p.runErr = err
	p.cond.Broadcast()
	p.mu.Unlock()
	p.intakeMu.Lock()
	p.intakeCond.Broadcast()
	p.intakeMu.Unlock()
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Player) isClosed() bool {
	return p.closed.Load()
}

// stateLoop is the BUFFERING<->PLAYING state machine, run on the caller's
// goroutine. While PLAYING it waits on the playout condition and keeps going
// as long as either the buffer holds at least MinBuffer samples or the heap
// root is due right now; when both fail it deactivates the backend and goes
// back to buffering.
func (p *Player) stateLoop() {
	var lastlog time.Time

	p.mu.Lock()
	for !p.isClosed() {
		if !p.fillBufferLocked() {
			break
		}
		p.log.Info().Msg("Playing")
		p.mu.Unlock()
		if err := p.backend.Activate(); err != nil {
			p.fail(fmt.Errorf("backend activate: %w", err))
			p.mu.Lock()
			break
		}
		p.mu.Lock()
		for !p.isClosed() {
			root := p.packets.first()
			if p.nsamples < p.conf.MinBuffer &&
				!(p.nsamples > 0 && root != nil && root.contains(p.nextTimestamp.Load())) {
				break
			}
			if p.conf.Monitor {
				if now := time.Now(); now.Sub(lastlog) >= time.Minute {
					p.monitorReport()
					lastlog = now
				}
			}
			p.cond.Wait()
		}
		p.mu.Unlock()
		p.backend.Deactivate()
		p.mu.Lock()
		p.active = false
		p.activeHint.Store(false)
	}
	p.mu.Unlock()
}

// fillBufferLocked discards whatever the heap holds, waits for MinBuffer
// samples and points the cursor at the earliest packet. Returns false when
// the player closed while waiting. Caller holds mu.
func (p *Player) fillBufferLocked() bool {
	for p.nsamples > 0 {
		p.dropFirstLocked()
	}
	p.log.Info().Msg("Buffering")
	for p.nsamples < p.conf.MinBuffer {
		if p.isClosed() {
			return false
		}
		p.cond.Wait()
	}
	p.nextTimestamp.Store(p.packets.first().Timestamp)
	p.active = true
	p.activeHint.Store(true)
	return true
}

// dropFirstLocked removes the heap root, returns it to the pool and wakes
// anyone waiting on occupancy (the receiver's backpressure gate in
// particular). Caller holds mu.
func (p *Player) dropFirstLocked() {
	if p.packets.Len() == 0 {
		return
	}
	pkt := p.packets.removeFirst()
	p.nsamples -= pkt.NSamples
	p.nsamplesHint.Store(p.nsamples)
	metricBufferedSamples.Set(float64(p.nsamples))
	p.pool.release(pkt)
	p.cond.Broadcast()
}

// monitorReport logs how far off the target occupancy we are. Caller holds
// mu.
func (p *Player) monitorReport() {
	offset := int64(p.nsamples) - int64(p.conf.MinBuffer)
	secs := float64(offset) / float64(SampleRate*Channels)
	p.log.Info().
		Int64("samples", offset).
		Str("seconds", fmt.Sprintf("%+.2f", secs)).
		Int64("bytes", offset*2).
		Msg("buffer offset from target")
}
