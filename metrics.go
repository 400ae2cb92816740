// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hot-path counters. Served over HTTP by cmd/playrtp when --stats-addr is
// given; always updated since the increments are cheap next to a datagram
// read.
var (
	metricPacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playrtp_packets_received_total",
		Help: "Datagrams read from the RTP socket.",
	})
	metricPacketsShort = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playrtp_packets_short_total",
		Help: "Datagrams discarded as too short or unparseable.",
	})
	metricPacketsLate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playrtp_packets_late_total",
		Help: "Packets dropped by the receiver as already in the past.",
	})
	metricInfillSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playrtp_infill_samples_total",
		Help: "Silence samples synthesized over gaps and pre-roll.",
	})
	metricSilentDroppedSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playrtp_silent_dropped_samples_total",
		Help: "Silent samples discarded to drain buffer overrun.",
	})
	metricBufferedSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playrtp_buffered_samples",
		Help: "Samples currently held in the ordered heap.",
	})
)
