// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Command iec104-server runs an IEC 60870-5-104 slave endpoint with a
// single shared redundancy group, Prometheus metrics, and logrus logging.
package main

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ctrlstack/iec104slave/asdu"
	"github.com/ctrlstack/iec104slave/clog"
	"github.com/ctrlstack/iec104slave/cs104"
)

func main() {
	handlers := &cs104.HandlerSet{
		Interrogation: handleInterrogation,
		ConnectionEvent: func(c asdu.Connect, ev cs104.ConnectionEvent) {
			logrus.Infof("conn event: %s", ev)
		},
	}

	reg := prometheus.NewRegistry()

	slave := cs104.NewSlave(handlers).
		SetLocalAddress("0.0.0.0").
		SetLocalPort(cs104.Port).
		SetServerMode(cs104.SingleRedundancyGroup).
		SetMaxOpenConnections(16).
		SetMetricsRegisterer(reg).
		SetConnState(func(c asdu.Connect, s cs104.ConnState) {
			logrus.Infof("conn state: %s", s)
		})
	slave.Clog.SetLogProvider(clog.NewLogrusProvider(logrus.StandardLogger()))
	slave.Clog.SetLogLevel(clog.LevelWarn)

	if _, err := slave.SetConfig(cs104.DefaultConfig()); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		log.Fatal(http.ListenAndServe(":9104", nil))
	}()

	if err := slave.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}
	select {}
}

func handleInterrogation(c asdu.Connect, a *asdu.ASDU) bool {
	_, qoi := a.GetInterrogationCmd()
	logrus.Infof("interrogation qoi=%d", qoi)

	hp, ok := c.(cs104.HighPrioSender)
	if !ok {
		logrus.Warnf("connection does not support high-priority replies")
		return true
	}

	if err := hp.SendActCon(a); err != nil {
		logrus.Warnf("send ACT_CON: %v", err)
	}

	if err := asdu.Single(c, false, asdu.CauseOfTransmission{Cause: asdu.InterrogatedByStation},
		a.CommonAddr, asdu.SinglePointInfo{Ioa: 1, Value: true}); err != nil {
		logrus.Warnf("send single point: %v", err)
	}

	if err := hp.SendActTerm(a); err != nil {
		logrus.Warnf("send ACT_TERM: %v", err)
	}
	return true
}
