// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

import "github.com/ctrlstack/iec104slave/asdu"

// PluginResult is the outcome of a Plugin's HandleASDU call.
type PluginResult uint8

const (
	NotHandled PluginResult = iota
	Handled
)

// Plugin lets application code observe and react to traffic on a
// MasterConnection without owning the decode/dispatch path. HandleASDU is
// offered every incoming ASDU before the built-in HandlerSet runs.
// RunPeriodic is invoked for an active connection each time it drains
// outbound work: on every scheduler tick and, in threaded mode, also after
// each received frame and each wake-up. Inactive connections are skipped.
type Plugin interface {
	HandleASDU(conn asdu.Connect, a *asdu.ASDU) PluginResult
	RunPeriodic(conn asdu.Connect)
}
