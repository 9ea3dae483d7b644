// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

// ConnState is the connection lifecycle tag passed to a Slave's ConnState
// callback.
type ConnState uint8

const (
	StateOpen ConnState = iota
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionEvent is delivered to HandlerSet.ConnectionEvent on lifecycle
// transitions of a MasterConnection.
type ConnectionEvent uint8

const (
	EventOpened ConnectionEvent = iota
	EventClosed
	EventActivated
	EventDeactivated
)

func (e ConnectionEvent) String() string {
	switch e {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventActivated:
		return "activated"
	case EventDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}
