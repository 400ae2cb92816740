// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"fmt"
	"io"
	"sync"
)

// TraceLog writes one line per accepted packet: sequence number, timestamp,
// length and end timestamp, all straight off the wire. Useful when chasing
// reordering or gap bugs; it costs a formatted write per packet, so leave it
// off in normal operation.
type TraceLog struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTraceLog(w io.Writer) *TraceLog {
	return &TraceLog{w: w}
}

// Packet records one accepted packet.
func (t *TraceLog) Packet(seq uint16, timestamp, nsamples uint32) {
	t.mu.Lock()
	fmt.Fprintf(t.w, "sequence %d timestamp %x length %x end %x\n",
		seq, timestamp, nsamples, timestamp+nsamples)
	t.mu.Unlock()
}
