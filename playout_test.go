// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/emiago/playrtp/audio"
)

// fakeBackend records lifecycle transitions and hands the pull callback to
// the test.
type fakeBackend struct {
	mu     sync.Mutex
	pull   audio.PullFunc
	events chan string
	audio.StereoVolume
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan string, 16)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Configure(f audio.Format) error { return nil }

func (b *fakeBackend) Start(pull audio.PullFunc) error {
	b.mu.Lock()
	b.pull = pull
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) Activate() error { b.events <- "activate"; return nil }

func (b *fakeBackend) Deactivate() error { b.events <- "deactivate"; return nil }

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) waitEvent(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-b.events:
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func newTestPlayer(min, max uint32) *Player {
	return New(nil, nil, Config{MinBuffer: min, MaxBuffer: max})
}

// startPlaying moves the player straight into PLAYING at the given cursor,
// bypassing the state machine.
func startPlaying(p *Player, cursor uint32) {
	p.mu.Lock()
	p.active = true
	p.activeHint.Store(true)
	p.nextTimestamp.Store(cursor)
	p.mu.Unlock()
}

// fillWith runs fillBufferLocked and feeds it pkts. fillBufferLocked
// discards whatever the heap already holds, so the packets are enqueued only
// once it waits for the water mark (enqueue needs mu, which the wait
// releases). Returns what fillBufferLocked returned, with every packet in
// the heap.
func fillWith(p *Player, pkts ...*Packet) bool {
	done := make(chan struct{})
	p.mu.Lock()
	go func() {
		defer close(done)
		for _, pkt := range pkts {
			p.enqueue(pkt)
		}
	}()
	ok := p.fillBufferLocked()
	p.mu.Unlock()
	<-done
	return ok
}

type logWriter func([]byte)

func (f logWriter) Write(b []byte) (int, error) { f(b); return len(b), nil }

// bufferingSignal fires each time fillBufferLocked logs "Buffering". The
// heap has been emptied by then and mu is held until the wait, so packets
// enqueued after the signal are kept.
func bufferingSignal(p *Player) <-chan struct{} {
	ch := make(chan struct{}, 4)
	p.SetLogger(zerolog.New(logWriter(func(b []byte) {
		if bytes.Contains(b, []byte(`"Buffering"`)) {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})))
	return ch
}

func waitBuffering(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the state machine to buffer")
	}
}

// drain pulls until the heap is empty, concatenating everything produced.
func drain(p *Player, chunk int) []int16 {
	var out []int16
	buf := make([]int16, chunk)
	for p.Buffered() > 0 {
		n := p.Callback(buf)
		out = append(out, buf[:n]...)
	}
	return out
}

func requireHeapInvariant(t *testing.T, p *Player) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var sum uint32
	for _, pkt := range p.packets {
		sum += pkt.NSamples
	}
	require.Equal(t, sum, p.nsamples, "nsamples must equal heap contents")
}

func TestPlayoutOrderedStream(t *testing.T) {
	p := newTestPlayer(7056, 1<<30)
	var pkts []*Packet
	for _, ts := range []uint32{0, 1764, 3528, 5292} {
		pkts = append(pkts, mkpkt(ts, 1764, 0))
	}

	require.True(t, fillWith(p, pkts...))
	requireHeapInvariant(t, p)
	require.Equal(t, uint32(0), p.nextTimestamp.Load())

	out := drain(p, 2000)
	require.Len(t, out, 7056)
	for _, s := range out {
		require.Zero(t, s)
	}
	require.Equal(t, uint32(7056), p.nextTimestamp.Load())
	requireHeapInvariant(t, p)
}

func TestPlayoutReorderedStream(t *testing.T) {
	p := newTestPlayer(7056, 1<<30)
	var pkts []*Packet
	for _, ts := range []uint32{3528, 0, 5292, 1764} {
		pkts = append(pkts, mkpkt(ts, 1764, uint16(ts/1764+1)))
	}

	require.True(t, fillWith(p, pkts...))
	require.Equal(t, uint32(0), p.nextTimestamp.Load())

	out := drain(p, 2000)
	require.Len(t, out, 7056)
	// Each sample must come from the packet covering its position.
	for i, s := range out {
		want := int16(i/1764 + 1)
		require.Equal(t, want, s, "sample %d", i)
	}
	require.Equal(t, uint32(7056), p.nextTimestamp.Load())
}

func TestPlayoutGapInfill(t *testing.T) {
	p := newTestPlayer(3528, 1<<30)
	require.True(t, fillWith(p,
		mkpkt(0, 1764, 5),
		mkpkt(1764, 1764, 5),
		mkpkt(5292, 1764, 5)))

	buf := make([]int16, 4000)
	require.Equal(t, 1764, p.Callback(buf))
	require.Equal(t, 1764, p.Callback(buf))
	require.Equal(t, uint32(3528), p.nextTimestamp.Load())

	// Missing packet at 3528: infill zeros only up to the next known
	// packet, not the full request.
	n := p.Callback(buf)
	require.Equal(t, 1764, n)
	for _, s := range buf[:n] {
		require.Zero(t, s)
	}
	require.Equal(t, uint32(5292), p.nextTimestamp.Load())

	n = p.Callback(buf)
	require.Equal(t, 1764, n)
	for _, s := range buf[:n] {
		require.Equal(t, int16(5), s)
	}
}

func TestPlayoutLatePacketNeverPlays(t *testing.T) {
	p := newTestPlayer(100, 1<<30)
	startPlaying(p, 10000)

	// Simulates a late packet slipping past the receiver's unlocked check.
	p.enqueue(mkpkt(5000, 1000, 9))

	buf := make([]int16, 512)
	n := p.Callback(buf)
	require.Equal(t, 512, n)
	for _, s := range buf[:n] {
		require.Zero(t, s, "stale packet content leaked into output")
	}
	require.Zero(t, p.Buffered(), "stale packet must be junked")
	requireHeapInvariant(t, p)
}

func TestPlayoutAcrossWrap(t *testing.T) {
	// MinBuffer above the packet size so the pre-roll silence is not
	// discarded as drift.
	p := newTestPlayer(2000, 1<<30)
	startPlaying(p, 0xFFFFFE00)
	p.enqueue(mkpkt(0x00000200, 1764, 3))

	buf := make([]int16, 5000)
	// Pre-roll up to the packet: exactly the modular gap.
	n := p.Callback(buf)
	require.Equal(t, 0x400, n)
	require.Equal(t, uint32(0x200), p.nextTimestamp.Load())

	n = p.Callback(buf)
	require.Equal(t, 1764, n)
	for _, s := range buf[:n] {
		require.Equal(t, int16(3), s)
	}
	require.Equal(t, uint32(0x200+1764), p.nextTimestamp.Load())
}

func TestPlayoutCursorMonotone(t *testing.T) {
	p := newTestPlayer(3528, 1<<30)
	require.True(t, fillWith(p,
		mkpkt(0xFFFFFC00, 1764, 1),
		mkpkt(0xFFFFFC00+1764, 1764, 1)))

	buf := make([]int16, 600)
	prev := p.nextTimestamp.Load()
	for p.Buffered() > 0 {
		p.Callback(buf)
		cur := p.nextTimestamp.Load()
		require.True(t, tsLE(prev, cur), "cursor went backwards: %#x -> %#x", prev, cur)
		prev = cur
	}
}

func TestDriftDropsOnlySilence(t *testing.T) {
	p := newTestPlayer(1000, 1<<30)
	// Five packets over target; the third carries audible samples.
	for i := 0; i < 5; i++ {
		val := uint16(0)
		if i == 2 {
			val = 11
		}
		p.enqueue(mkpkt(uint32(i*600), 600, val))
	}
	startPlaying(p, 0)

	buf := make([]int16, 600)
	var audible, dropped int
	for p.Buffered() > 0 {
		n := p.Callback(buf)
		if n == 0 {
			dropped++
			continue
		}
		for _, s := range buf[:n] {
			if s != 0 {
				audible++
			}
		}
	}
	require.Equal(t, 600, audible, "audible packet must survive drift drop")
	require.GreaterOrEqual(t, dropped, 1, "over-target silence must be discarded")
}

func TestStateMachineHysteresis(t *testing.T) {
	const min = 1200
	p := newTestPlayer(min, 1<<30)
	backend := newFakeBackend()
	p.backend = backend
	require.NoError(t, backend.Start(p.Callback))
	buffering := bufferingSignal(p)

	done := make(chan struct{})
	go func() {
		p.stateLoop()
		close(done)
	}()

	// Below the water mark: still buffering.
	waitBuffering(t, buffering)
	p.enqueue(mkpkt(0, 600, 1))
	select {
	case ev := <-backend.events:
		t.Fatalf("unexpected %s below water mark", ev)
	case <-time.After(50 * time.Millisecond):
	}

	// Crossing it starts playback.
	p.enqueue(mkpkt(600, 600, 1))
	backend.waitEvent(t, "activate")

	// Draining below min while the root is due keeps playing; only an
	// empty-and-late buffer pauses.
	buf := make([]int16, 600)
	require.Equal(t, 600, backend.pull(buf))
	require.Equal(t, 600, backend.pull(buf))
	backend.waitEvent(t, "deactivate")

	// Fresh audio re-enters PLAYING.
	waitBuffering(t, buffering)
	p.enqueue(mkpkt(1200, 600, 1))
	p.enqueue(mkpkt(1800, 600, 1))
	backend.waitEvent(t, "activate")

	p.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("state machine did not stop")
	}
}

func TestReorderedInjectionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 12).Draw(t, "count")
		size := rapid.IntRange(2, 400).Draw(t, "size")
		base := rapid.Uint32().Draw(t, "base")
		seed := rapid.Int64().Draw(t, "seed")

		total := uint32(count * size)
		pkts := make([]*Packet, count)
		for i := range pkts {
			pkts[i] = mkpkt(base+uint32(i*size), size, uint16(i+1))
		}
		rand.New(rand.NewSource(seed)).Shuffle(count, func(i, j int) {
			pkts[i], pkts[j] = pkts[j], pkts[i]
		})

		p := newTestPlayer(total, 1<<30)
		if !fillWith(p, pkts...) {
			t.Fatal("fill buffer failed")
		}

		out := drain(p, 777)
		if len(out) != int(total) {
			t.Fatalf("drained %d samples, want %d", len(out), total)
		}
		for i, s := range out {
			want := int16(i/size + 1)
			if s != want {
				t.Fatalf("sample %d: got %d want %d", i, s, want)
			}
		}
	})
}
