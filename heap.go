// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import "container/heap"

// packetHeap is a binary min-heap of packets keyed by RTP timestamp under
// modular comparison. The root is always the earliest packet. With packets
// mostly arriving in order, pushes are close to constant work since the
// newest packet sifts no further than the last level.
type packetHeap []*Packet

func (h packetHeap) Len() int            { return len(h) }
func (h packetHeap) Less(i, j int) bool  { return tsLT(h[i].Timestamp, h[j].Timestamp) }
func (h packetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x interface{}) { *h = append(*h, x.(*Packet)) }

func (h *packetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return p
}

// first returns the earliest packet without removing it, or nil.
func (h packetHeap) first() *Packet {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

func (h *packetHeap) insert(p *Packet) {
	heap.Push(h, p)
}

// removeFirst pops the earliest packet. Caller must know the heap is
// non-empty.
func (h *packetHeap) removeFirst() *Packet {
	return heap.Pop(h).(*Packet)
}
