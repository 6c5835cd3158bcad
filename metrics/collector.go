// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes nfq handle counters as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/nfq"
)

// StatsSource is anything that can snapshot queue counters; *nfq.Handle
// satisfies it.
type StatsSource interface {
	Stats() nfq.Stats
}

// Collector implements prometheus.Collector over a StatsSource.
type Collector struct {
	src StatsSource

	packets       *prometheus.Desc
	verdicts      *prometheus.Desc
	parseErrors   *prometheus.Desc
	verdictErrors *prometheus.Desc
}

// NewCollector builds a collector for src. Register it with a
// prometheus.Registerer to expose the counters.
func NewCollector(src StatsSource) *Collector {
	return &Collector{
		src: src,
		packets: prometheus.NewDesc(
			"nfq_packets_received_total",
			"Packet events delivered to handlers.",
			nil, nil,
		),
		verdicts: prometheus.NewDesc(
			"nfq_verdicts_total",
			"Verdicts issued, by kind.",
			[]string{"verdict"}, nil,
		),
		parseErrors: prometheus.NewDesc(
			"nfq_parse_errors_total",
			"Packet events that failed to decode.",
			nil, nil,
		),
		verdictErrors: prometheus.NewDesc(
			"nfq_verdict_errors_total",
			"Verdicts that could not be written back to the kernel.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packets
	ch <- c.verdicts
	ch <- c.parseErrors
	ch <- c.verdictErrors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(s.PacketsReceived))
	ch <- prometheus.MustNewConstMetric(c.verdicts, prometheus.CounterValue, float64(s.PacketsAccepted), "accept")
	ch <- prometheus.MustNewConstMetric(c.verdicts, prometheus.CounterValue, float64(s.PacketsDropped), "drop")
	ch <- prometheus.MustNewConstMetric(c.verdicts, prometheus.CounterValue, float64(s.PacketsRequeued), "requeue")
	ch <- prometheus.MustNewConstMetric(c.verdicts, prometheus.CounterValue, float64(s.OtherVerdicts), "other")
	ch <- prometheus.MustNewConstMetric(c.parseErrors, prometheus.CounterValue, float64(s.ParseErrors))
	ch <- prometheus.MustNewConstMetric(c.verdictErrors, prometheus.CounterValue, float64(s.VerdictErrors))
}
