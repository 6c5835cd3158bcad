// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command nfq-dump binds a netfilter queue, prints every diverted packet
// and accepts it. With -install-rule it also installs (and removes on exit)
// an nftables rule steering inbound traffic into the queue, so
//
//	nfq-dump -queue 0 -install-rule -decode
//
// is a self-contained packet viewer for whatever the kernel is receiving.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/nfq"
	"grimm.is/nfq/logging"
	"grimm.is/nfq/metrics"
)

func main() {
	queueNum := flag.Uint("queue", 0, "Queue number to bind")
	familyName := flag.String("family", "inet", "Protocol family: inet, inet6 or bridge")
	copyLen := flag.Uint("copy-len", 0xffff, "Bytes of each packet to copy to user space")
	maxLen := flag.Uint("max-len", 1024, "Packets the kernel may hold before dropping new ones")
	failOpen := flag.Bool("fail-open", false, "Accept packets instead of dropping them when the queue is full")
	installRule := flag.Bool("install-rule", false, "Install an nftables rule steering input traffic into the queue")
	decode := flag.Bool("decode", false, "Decode packets with gopacket instead of printing a one-line summary")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9633)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	flag.Parse()

	level, ok := logging.ParseLevel(*logLevel)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown log level %q\n", *logLevel)
		os.Exit(2)
	}
	logger := logging.New(logging.Config{Level: level, Prefix: "nfq-dump"})
	logging.SetDefault(logger)

	var family nfq.ProtocolFamily
	switch *familyName {
	case "inet":
		family = nfq.FamilyIPv4
	case "inet6":
		family = nfq.FamilyIPv6
	case "bridge":
		family = nfq.FamilyBridge
	default:
		fmt.Fprintf(os.Stderr, "unknown family %q\n", *familyName)
		os.Exit(2)
	}

	if *installRule {
		cleanup, err := installQueueRule(family, uint16(*queueNum), *failOpen)
		if err != nil {
			logger.Error("failed to install nftables rule", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cleanup(); err != nil {
				logger.Warn("failed to remove nftables rule", "error", err)
			}
		}()
	} else {
		logger.Info("no rule installed, divert traffic yourself",
			"example", fmt.Sprintf("nft add rule inet filter input queue num %d", *queueNum))
	}

	h, err := nfq.Open(&nfq.Config{Logger: logger})
	if err != nil {
		logger.Error("failed to open netfilter channel", "error", err)
		os.Exit(1)
	}
	defer h.Close()

	if err := h.Bind(family); err != nil {
		logger.Error("failed to bind protocol family", "family", family.String(), "error", err)
		os.Exit(1)
	}

	q, err := h.CreateQueue(uint16(*queueNum), nfq.HandlerFunc(func(qh nfq.QueueHandle, m *nfq.Message, err error) nfq.Brake {
		if err != nil {
			logger.Warn("corrupted packet event", "error", err)
			return nfq.Continue
		}
		printPacket(m, family, *decode)
		if verr := qh.Accept(m.Header().PacketID); verr != nil {
			logger.Warn("accept failed", "packet", m.Header().PacketID, "error", verr)
		}
		return nfq.Continue
	}))
	if err != nil {
		logger.Error("failed to create queue", "queue", *queueNum, "error", err)
		os.Exit(1)
	}

	if err := q.SetCopyMode(nfq.CopyModePacket(uint32(*copyLen))); err != nil {
		logger.Error("failed to set copy mode", "error", err)
		os.Exit(1)
	}
	if err := q.SetMaxLen(uint32(*maxLen)); err != nil {
		logger.Error("failed to set max length", "error", err)
		os.Exit(1)
	}
	if *failOpen {
		if err := q.SetFlags(nfq.FlagFailOpen); err != nil {
			logger.Warn("fail-open not supported by this kernel", "error", err)
		}
	}

	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(metrics.NewCollector(h))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", *metricsAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		h.Close()
	}()

	logger.Info("waiting for packets", "queue", *queueNum, "family", family.String())
	if err := h.Start(); err != nil {
		logger.Error("receive loop failed", "error", err)
		os.Exit(1)
	}

	s := h.Stats()
	logger.Info("done",
		"packets", s.PacketsReceived,
		"accepted", s.PacketsAccepted,
		"parse_errors", s.ParseErrors,
		"verdict_errors", s.VerdictErrors)
}

func printPacket(m *nfq.Message, family nfq.ProtocolFamily, decode bool) {
	if decode {
		first := layers.LayerTypeIPv4
		if family == nfq.FamilyIPv6 {
			first = layers.LayerTypeIPv6
		}
		pkt := gopacket.NewPacket(m.Payload(), first, gopacket.Default)
		fmt.Printf("packet %d on queue %d:\n%s", m.Header().PacketID, m.Queue(), pkt.Dump())
		return
	}
	if p := m.Payload(); family == nfq.FamilyIPv4 && len(p) >= nfq.IPHeaderLen {
		if h, err := nfq.DecodeIPHeader(p[:nfq.IPHeaderLen]); err == nil {
			fmt.Printf("packet %d: %s %s -> %s (%d bytes)\n",
				m.Header().PacketID, h.Protocol(), h.SourceIP(), h.DestIP(), h.TotalLength)
			return
		}
	}
	fmt.Printf("packet %d: %d payload bytes\n", m.Header().PacketID, len(m.Payload()))
}
