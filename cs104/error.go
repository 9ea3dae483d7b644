// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

import (
	"errors"
)

// error defined
var (
	ErrUseClosedConnection = errors.New("use of closed connection")
	ErrBufferFulled        = errors.New("buffer is full")
	ErrNotActive           = errors.New("server is not active")

	// ErrBadStartFrame is returned when an APDU does not begin with 0x68.
	ErrBadStartFrame = errors.New("cs104: bad start byte")
	// ErrBadAPDULength is returned when the length octet does not match
	// the bytes actually read.
	ErrBadAPDULength = errors.New("cs104: bad apdu length")
	// ErrSequenceError is returned when a received N(S) does not equal
	// receiveCount, or a received N(R) fails check_seqno.
	ErrSequenceError = errors.New("cs104: sequence number error")
	// ErrAckTimeout is returned when the peer fails to acknowledge a
	// sent I-frame within t1.
	ErrAckTimeout = errors.New("cs104: ack timeout (t1)")
	// ErrTestFrTimeout is returned when more than two TESTFR_ACT probes
	// go unanswered.
	ErrTestFrTimeout = errors.New("cs104: testfr timeout (t3)")
	// ErrNoMatchingGroup is returned when a peer's IP matches no
	// redundancy group and no catch-all group is configured.
	ErrNoMatchingGroup = errors.New("cs104: no matching redundancy group")
	// ErrMaxOpenConnections is returned when the open connection count
	// already meets the configured maximum.
	ErrMaxOpenConnections = errors.New("cs104: max open connections reached")
	// ErrConnectionRejected is returned when the connection-request
	// handler declines a peer.
	ErrConnectionRejected = errors.New("cs104: connection rejected")
)
