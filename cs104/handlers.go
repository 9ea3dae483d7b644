// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

import (
	"net"

	"github.com/ctrlstack/iec104slave/asdu"
)

// HandlerSet is the table of application callbacks a Slave dispatches
// into. Every command hook returns whether it handled the ASDU; a nil
// hook, or one returning false, falls back to the echo-with-negative-flag
// behavior below.
type HandlerSet struct {
	Interrogation        func(conn asdu.Connect, a *asdu.ASDU) bool
	CounterInterrogation func(conn asdu.Connect, a *asdu.ASDU) bool
	Read                 func(conn asdu.Connect, a *asdu.ASDU) bool
	ClockSync            func(conn asdu.Connect, a *asdu.ASDU) bool
	ResetProcess         func(conn asdu.Connect, a *asdu.ASDU) bool
	DelayAcquisition     func(conn asdu.Connect, a *asdu.ASDU) bool
	ASDU                 func(conn asdu.Connect, a *asdu.ASDU) bool

	// ConnectionRequest gates an accepted TCP peer by address before a
	// MasterConnection is allocated for it. A nil hook admits everyone.
	ConnectionRequest func(peer net.IP) bool
	// ConnectionEvent reports lifecycle transitions.
	ConnectionEvent func(conn asdu.Connect, ev ConnectionEvent)
	// RawMessageTap is offered every decoded APDU payload for audit,
	// before command dispatch.
	RawMessageTap func(conn asdu.Connect, raw []byte, inbound bool)
}

// dispatch routes a decoded ASDU to the matching HandlerSet hook by
// TypeID, falling back to an echo with a negative cause when unhandled or
// unrecognised, per the handler-rejection policy.
func (h *HandlerSet) dispatch(conn asdu.Connect, a *asdu.ASDU) {
	if h == nil {
		echoUnknown(conn, a, asdu.UnknownTypeID)
		return
	}

	var handled bool
	switch a.Identifier.Type {
	case asdu.C_IC_NA_1:
		handled = callHook(h.Interrogation, conn, a)
	case asdu.C_CI_NA_1:
		handled = callHook(h.CounterInterrogation, conn, a)
	case asdu.C_RD_NA_1:
		handled = callHook(h.Read, conn, a)
	case asdu.C_CS_NA_1:
		handled = callHook(h.ClockSync, conn, a)
	case asdu.C_RP_NA_1:
		handled = callHook(h.ResetProcess, conn, a)
	case asdu.C_CD_NA_1:
		handled = callHook(h.DelayAcquisition, conn, a)
	default:
		handled = callHook(h.ASDU, conn, a)
	}
	if !handled {
		echoUnknown(conn, a, asdu.UnknownTypeID)
	}
}

func callHook(hook func(asdu.Connect, *asdu.ASDU) bool, conn asdu.Connect, a *asdu.ASDU) bool {
	if hook == nil {
		return false
	}
	return hook(conn, a)
}

// echoUnknown mirrors the request back with the negative flag and the
// given cause (UnknownTypeID or UnknownCOT), per the handler-rejection row
// of the error handling taxonomy.
func echoUnknown(conn asdu.Connect, a *asdu.ASDU, cause asdu.Cause) {
	r := asdu.NewASDU(a.Params, a.Identifier)
	r.Coa.Cause = cause
	r.Coa.IsNegative = true
	_ = conn.Send(r)
}
