// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

import (
	"net"
	"sync"

	"github.com/higebu/netfd"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"
)

// prometheusRegisterer is the subset of prometheus.Registerer a Slave
// needs, kept narrow so callers can pass a *prometheus.Registry or the
// default registerer interchangeably.
type prometheusRegisterer interface {
	Register(prometheus.Collector) error
}

// ConnMetrics is a prometheus.Collector exposing, per open connection,
// kernel-level TCP_INFO socket statistics and the protocol-level queue and
// sequence counters MasterConnection already tracks.
type ConnMetrics struct {
	mu    sync.Mutex
	conns map[*MasterConnection]struct{}

	rtt       *prometheus.Desc
	cwnd      *prometheus.Desc
	kDepth    *prometheus.Desc
	lowDepth  *prometheus.Desc
	highDepth *prometheus.Desc
	sendSeq   *prometheus.Desc
	recvSeq   *prometheus.Desc
}

var _ prometheus.Collector = (*ConnMetrics)(nil)

// NewConnMetrics builds a collector and registers it with reg. A nil reg
// skips registration, leaving the caller to register it elsewhere.
func NewConnMetrics(reg prometheusRegisterer) *ConnMetrics {
	labels := []string{"session_id", "peer"}
	m := &ConnMetrics{
		conns: make(map[*MasterConnection]struct{}),
		rtt: prometheus.NewDesc("iec104_tcp_rtt_microseconds",
			"Smoothed round-trip time reported by TCP_INFO.", labels, nil),
		cwnd: prometheus.NewDesc("iec104_tcp_cwnd_segments",
			"Sender congestion window reported by TCP_INFO.", labels, nil),
		kDepth: prometheus.NewDesc("iec104_k_buffer_depth",
			"Unacknowledged I-frames currently outstanding on the k-buffer.", labels, nil),
		lowDepth: prometheus.NewDesc("iec104_low_queue_depth",
			"Live entries in the bound low-priority MessageQueue.", labels, nil),
		highDepth: prometheus.NewDesc("iec104_high_queue_depth",
			"Pending entries in the bound HighPrioQueue.", labels, nil),
		sendSeq: prometheus.NewDesc("iec104_send_sequence",
			"Current N(S) send sequence counter.", labels, nil),
		recvSeq: prometheus.NewDesc("iec104_recv_sequence",
			"Current N(R) receive sequence counter.", labels, nil),
	}
	if reg != nil {
		_ = reg.Register(m)
	}
	return m
}

// Add registers mc for metrics collection.
func (m *ConnMetrics) Add(mc *MasterConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[mc] = struct{}{}
}

// Remove stops collecting metrics for mc.
func (m *ConnMetrics) Remove(mc *MasterConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, mc)
}

// Describe implements prometheus.Collector.
func (m *ConnMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.rtt
	ch <- m.cwnd
	ch <- m.kDepth
	ch <- m.lowDepth
	ch <- m.highDepth
	ch <- m.sendSeq
	ch <- m.recvSeq
}

// Collect implements prometheus.Collector, reading TCP_INFO straight from
// the kernel via the connection's file descriptor and the protocol
// counters MasterConnection maintains.
func (m *ConnMetrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.Lock()
	conns := make([]*MasterConnection, 0, len(m.conns))
	for mc := range m.conns {
		conns = append(conns, mc)
	}
	m.mu.Unlock()

	for _, mc := range conns {
		labels := []string{mc.id, mc.peerIP.String()}

		mc.kMu.Lock()
		kDepth := 0
		if mc.oldestSent >= 0 {
			kDepth = mc.newestSent - mc.oldestSent + 1
			if kDepth <= 0 {
				kDepth += len(mc.sentASDUs)
			}
		}
		mc.kMu.Unlock()

		mc.stateMu.Lock()
		sendSeq, recvSeq := mc.sendCount, mc.receiveCount
		mc.stateMu.Unlock()

		ch <- prometheus.MustNewConstMetric(m.kDepth, prometheus.GaugeValue, float64(kDepth), labels...)
		ch <- prometheus.MustNewConstMetric(m.sendSeq, prometheus.GaugeValue, float64(sendSeq), labels...)
		ch <- prometheus.MustNewConstMetric(m.recvSeq, prometheus.GaugeValue, float64(recvSeq), labels...)
		if mc.lowQ != nil {
			ch <- prometheus.MustNewConstMetric(m.lowDepth, prometheus.GaugeValue, float64(mc.lowQ.Len()), labels...)
		}
		if mc.highQ != nil {
			ch <- prometheus.MustNewConstMetric(m.highDepth, prometheus.GaugeValue, float64(mc.highQ.Len()), labels...)
		}

		if info, err := tcpInfo(mc.conn); err == nil {
			ch <- prometheus.MustNewConstMetric(m.rtt, prometheus.GaugeValue, float64(info.Rtt), labels...)
			ch <- prometheus.MustNewConstMetric(m.cwnd, prometheus.GaugeValue, float64(info.Snd_cwnd), labels...)
		}
	}
}

// tcpInfo reads the kernel's TCP_INFO socket option for conn via its raw
// file descriptor.
func tcpInfo(conn net.Conn) (*unix.TCPInfo, error) {
	fd := netfd.GetFdFromConn(conn)
	return unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
}
