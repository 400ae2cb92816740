// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHeapOrdersByTimestamp(t *testing.T) {
	var h packetHeap
	for _, ts := range []uint32{3528, 0, 5292, 1764} {
		h.insert(mkpkt(ts, 1764, 0))
	}

	var got []uint32
	for h.Len() > 0 {
		got = append(got, h.removeFirst().Timestamp)
	}
	require.Equal(t, []uint32{0, 1764, 3528, 5292}, got)
}

func TestHeapOrdersAcrossWrap(t *testing.T) {
	var h packetHeap
	for _, ts := range []uint32{0x00000200, 0xFFFFFE00, 0x00000A00, 0xFFFFF600} {
		h.insert(mkpkt(ts, 1024, 0))
	}

	var got []uint32
	for h.Len() > 0 {
		got = append(got, h.removeFirst().Timestamp)
	}
	require.Equal(t, []uint32{0xFFFFF600, 0xFFFFFE00, 0x00000200, 0x00000A00}, got)
}

func TestHeapPermutationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Uint32().Draw(t, "base")
		count := rapid.IntRange(1, 64).Draw(t, "count")
		seed := rapid.Int64().Draw(t, "seed")

		want := make([]uint32, count)
		ts := base
		for i := range want {
			want[i] = ts
			ts += uint32(rapid.IntRange(1, 4000).Draw(t, "step"))
		}

		shuffled := append([]uint32(nil), want...)
		rand.New(rand.NewSource(seed)).Shuffle(count, func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		var h packetHeap
		for _, v := range shuffled {
			h.insert(mkpkt(v, 4, 0))
		}
		for i := 0; h.Len() > 0; i++ {
			if got := h.removeFirst().Timestamp; got != want[i] {
				t.Fatalf("pop %d: got %#x want %#x", i, got, want[i])
			}
		}
	})
}
