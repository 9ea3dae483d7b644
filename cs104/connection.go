// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/ctrlstack/iec104slave/asdu"
	"github.com/ctrlstack/iec104slave/clog"
)

// tickResolution is how often the run loop rechecks T1/T2/T3.
const tickResolution = 100 * time.Millisecond

// kEntry is one slot of the k-buffer (sentASDUs), correlating a sent
// I-frame's sequence number back to the MessageQueue entry it came from
// (if any -- high-priority sends carry no queue entry).
type kEntry struct {
	entryTime time.Time
	ptr       EntryPtr
	hasPtr    bool
	seqNo     uint16
	sentTime  time.Time
}

// MasterConnection is the per-session APCI state machine: framing,
// sequence tracking, the k/w sliding window, T1/T2/T3 timers, the
// activation handshake, and the queue binding and k-buffer reconciliation
// needed to confirm a persistent outbound queue against peer N(R) values.
type MasterConnection struct {
	clog.Clog

	id     string
	conn   net.Conn
	params *asdu.Params
	conf   Config

	slave    *Slave
	lowQ     *MessageQueue
	highQ    *HighPrioQueue
	group    *RedundancyGroup
	handlers *HandlerSet
	metrics  *ConnMetrics

	writeMu sync.Mutex

	stateMu               sync.Mutex
	isActive              bool
	isRunning             bool
	sendCount             uint16
	receiveCount          uint16
	unconfirmedReceivedI  int
	timeoutT2Triggered    bool
	outstandingTestFRCon  int
	lastConfirmationTime  time.Time
	nextT3Timeout         time.Time

	kMu        sync.Mutex
	sentASDUs  []kEntry
	oldestSent int // -1 when empty
	newestSent int

	recvCh  chan []byte
	kick    chan struct{}
	closeCh chan struct{}
	closed  sync.Once

	// recvBuf accumulates bytes across partial reads until a full APDU
	// is available, per the receive-path's three-stage framing.
	recvBuf []byte

	peerIP net.IP
}

// newMasterConnection allocates the state machine for an accepted socket.
// It does not start the connection's goroutines; call start for that.
func newMasterConnection(conn net.Conn, params *asdu.Params, conf Config, slave *Slave) *MasterConnection {
	k := int(conf.SendUnAckLimitK)
	mc := &MasterConnection{
		id:         newSessionID(),
		conn:       conn,
		params:     params,
		conf:       conf,
		slave:      slave,
		handlers:   slave.handlers,
		isRunning:  true,
		sentASDUs:  make([]kEntry, k),
		oldestSent: -1,
		newestSent: -1,
		recvCh:     make(chan []byte, 16),
		kick:       make(chan struct{}, 1),
		closeCh:    make(chan struct{}),
	}
	mc.Clog = slave.Clog
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		mc.peerIP = tcp.IP
	} else if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		mc.peerIP = net.ParseIP(host)
	}
	now := time.Now()
	mc.lastConfirmationTime = now
	mc.nextT3Timeout = now.Add(conf.IdleTimeout3)
	return mc
}

// bindQueues attaches the low/high priority queues (and owning group, if
// any) this connection drains and resets the high-priority queue, per the
// connection-init step of the queue binding rule.
func (mc *MasterConnection) bindQueues(low *MessageQueue, high *HighPrioQueue, group *RedundancyGroup) {
	mc.lowQ = low
	mc.highQ = high
	mc.group = group
	mc.highQ.Reset()
}

// Params implements asdu.Connect.
func (mc *MasterConnection) Params() *asdu.Params { return mc.params }

// UnderlyingConn implements asdu.Connect.
func (mc *MasterConnection) UnderlyingConn() net.Conn { return mc.conn }

// PeerIP returns the peer's address, used for redundancy group matching
// and the connection-request handler.
func (mc *MasterConnection) PeerIP() net.IP { return mc.peerIP }

// ID returns the connection's stable session id.
func (mc *MasterConnection) ID() string { return mc.id }

// IsActive reports whether this session completed the STARTDT handshake
// and is currently the designated active peer in its scope.
func (mc *MasterConnection) IsActive() bool {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return mc.isActive
}

// isReady reports whether the connection may carry an outbound I-frame
// right now: active and the k-buffer is not full.
func (mc *MasterConnection) isReady() bool {
	if !mc.IsActive() {
		return false
	}
	mc.kMu.Lock()
	defer mc.kMu.Unlock()
	return !mc.windowFullLocked()
}

func (mc *MasterConnection) windowFullLocked() bool {
	if mc.oldestSent < 0 {
		return false
	}
	return (mc.newestSent+1)%len(mc.sentASDUs) == mc.oldestSent
}

// Send implements asdu.Connect: it enqueues a onto this connection's
// bound low-priority queue for eventual delivery through the k-window.
// This satisfies handler code that mirrors replies directly back to the
// connection it came from.
func (mc *MasterConnection) Send(a *asdu.ASDU) error {
	mc.stateMu.Lock()
	running := mc.isRunning
	mc.stateMu.Unlock()
	if !running {
		return ErrUseClosedConnection
	}
	raw, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	mc.lowQ.Enqueue(raw)
	mc.wake()
	return nil
}

// HighPrioSender is implemented by connections that can bypass the bulk
// low-priority queue for synchronous command responses. Handler and plugin
// code that needs this, beyond what asdu.Connect offers, type-asserts its
// conn to HighPrioSender.
type HighPrioSender interface {
	SendActCon(a *asdu.ASDU) error
	SendActTerm(a *asdu.ASDU) error
}

var _ HighPrioSender = (*MasterConnection)(nil)

// SendActCon replies to the received command a with an activation
// confirmation, routed through the high-priority queue.
func (mc *MasterConnection) SendActCon(a *asdu.ASDU) error {
	return mc.sendHighPrioASDU(a.Reply(asdu.ActivationCon, a.CommonAddr))
}

// SendActTerm replies to the received command a with an activation
// termination, routed through the high-priority queue.
func (mc *MasterConnection) SendActTerm(a *asdu.ASDU) error {
	return mc.sendHighPrioASDU(a.Reply(asdu.ActivationTerm, a.CommonAddr))
}

// sendHighPrioASDU marshals r and pushes it onto the transient
// high-priority queue, bypassing the bulk low-priority ring.
func (mc *MasterConnection) sendHighPrioASDU(r *asdu.ASDU) error {
	mc.stateMu.Lock()
	running := mc.isRunning
	mc.stateMu.Unlock()
	if !running {
		return ErrUseClosedConnection
	}
	raw, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	if !mc.sendHighPrio(raw) {
		return ErrBufferFulled
	}
	return nil
}

// sendHighPrio pushes raw ASDU bytes onto the transient high-priority
// queue, used for ACT_CON/ACT_TERM and similar synchronous responses.
func (mc *MasterConnection) sendHighPrio(raw []byte) bool {
	ok := mc.highQ.Enqueue(raw)
	if ok {
		mc.wake()
	}
	return ok
}

// wake nudges the run loop to attempt an immediate drain instead of
// waiting for the next tick.
func (mc *MasterConnection) wake() {
	select {
	case mc.kick <- struct{}{}:
	default:
	}
}

// start launches the connection's receive and run loops. ctx cancellation
// tears the connection down.
func (mc *MasterConnection) start(ctx context.Context) {
	go mc.recvLoop()
	go mc.run(ctx)
}

// recvLoop reads complete APDUs off the wire and forwards them to run. It
// exits (closing recvCh) on any read error, which run interprets as a
// transport failure per the error handling taxonomy.
func (mc *MasterConnection) recvLoop() {
	defer close(mc.recvCh)
	for {
		frame, err := mc.receiveMessage(0)
		if err != nil {
			return
		}
		if frame == nil {
			continue
		}
		select {
		case mc.recvCh <- frame:
		case <-mc.closeCh:
			return
		}
	}
}

// receiveMessage accumulates bytes into recvBuf across invocations --
// start byte, length byte, remainder -- returning (nil, nil) on a partial
// read, (nil, err) on a transport or framing error, and the full APDU
// bytes once one is available. deadline of 0 blocks indefinitely
// (threaded mode); a positive deadline bounds the read (threadless tick).
func (mc *MasterConnection) receiveMessage(deadline time.Duration) ([]byte, error) {
	if frame, err := mc.tryExtractFrame(); frame != nil || err != nil {
		return frame, err
	}
	if deadline > 0 {
		_ = mc.conn.SetReadDeadline(time.Now().Add(deadline))
	} else {
		_ = mc.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, 512)
	n, err := mc.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	mc.recvBuf = append(mc.recvBuf, buf[:n]...)
	return mc.tryExtractFrame()
}

// tryExtractFrame pulls one complete APDU off the front of recvBuf, if one
// is available.
func (mc *MasterConnection) tryExtractFrame() ([]byte, error) {
	if len(mc.recvBuf) < 2 {
		return nil, nil
	}
	if mc.recvBuf[0] != startFrame {
		return nil, ErrBadStartFrame
	}
	total := 2 + int(mc.recvBuf[1])
	if len(mc.recvBuf) < total {
		return nil, nil
	}
	frame := append([]byte(nil), mc.recvBuf[:total]...)
	mc.recvBuf = mc.recvBuf[total:]
	return frame, nil
}

// tickOnce drives one cooperative-scheduler iteration for this connection:
// a single bounded read attempt, timeout handling, and outbound draining.
// Used by Slave.Tick in threadless mode instead of the goroutine-driven
// recvLoop/run pair. Returns false if the connection must close.
func (mc *MasterConnection) tickOnce(pollTimeout time.Duration) bool {
	frame, err := mc.receiveMessage(pollTimeout)
	if err != nil {
		mc.Warn("cs104: %s: read error: %v", mc.id, err)
		return false
	}
	if frame != nil {
		if mc.handlers != nil && mc.handlers.RawMessageTap != nil {
			mc.handlers.RawMessageTap(mc, frame, true)
		}
		if err := mc.handleMessage(frame); err != nil {
			mc.Warn("cs104: %s: %v", mc.id, err)
			return false
		}
	}
	if err := mc.handleTimeouts(); err != nil {
		mc.Warn("cs104: %s: %v", mc.id, err)
		return false
	}
	return mc.runPostActions()
}

// run is the connection's single-goroutine state machine: a select over
// incoming frames, an immediate-drain kick, and a tick-driven timeout and
// outbound check.
func (mc *MasterConnection) run(ctx context.Context) {
	defer mc.teardown()

	ticker := time.NewTicker(tickResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.closeCh:
			return
		case raw, ok := <-mc.recvCh:
			if !ok {
				return
			}
			if mc.handlers != nil && mc.handlers.RawMessageTap != nil {
				mc.handlers.RawMessageTap(mc, raw, true)
			}
			if err := mc.handleMessage(raw); err != nil {
				mc.Warn("cs104: %s: %v", mc.id, err)
				return
			}
			if !mc.runPostActions() {
				return
			}
		case <-mc.kick:
			if !mc.runPostActions() {
				return
			}
		case <-ticker.C:
			if err := mc.handleTimeouts(); err != nil {
				mc.Warn("cs104: %s: %v", mc.id, err)
				return
			}
			if !mc.runPostActions() {
				return
			}
		}
	}
}

// runPostActions drains outbound work when active and returns false if a
// fatal transport error occurred while doing so.
func (mc *MasterConnection) runPostActions() bool {
	if !mc.IsActive() {
		return true
	}
	for _, p := range mc.slave.plugins {
		p.RunPeriodic(mc)
	}
	_, err := mc.drainOutbound()
	if err != nil {
		mc.Warn("cs104: %s: write error: %v", mc.id, err)
		return false
	}
	return true
}

// handleMessage validates and dispatches one complete APDU, per the
// receive-path steps.
func (mc *MasterConnection) handleMessage(buf []byte) error {
	if len(buf) < 6 || buf[0] != startFrame || int(buf[1]) != len(buf)-2 {
		return ErrBadAPDULength
	}

	frame, payload := parse(buf)
	switch f := frame.(type) {
	case iAPCI:
		if len(buf) < 7 {
			return ErrBadAPDULength
		}
		mc.stateMu.Lock()
		if !mc.timeoutT2Triggered {
			mc.timeoutT2Triggered = true
			mc.lastConfirmationTime = time.Now()
		}
		expected := mc.receiveCount
		mc.stateMu.Unlock()
		if f.sendSN != expected {
			return ErrSequenceError
		}
		if !mc.checkSeqno(f.rcvSN) {
			return ErrSequenceError
		}

		mc.stateMu.Lock()
		mc.receiveCount = (mc.receiveCount + 1) % 32768
		mc.unconfirmedReceivedI++
		unconfirmed := mc.unconfirmedReceivedI
		rcvSnap := mc.receiveCount
		active := mc.isActive
		mc.stateMu.Unlock()

		if active {
			mc.dispatchASDU(payload)
		}
		if unconfirmed >= int(mc.conf.RecvUnAckLimitW) {
			if err := mc.sendSFrame(rcvSnap); err != nil {
				return err
			}
			mc.stateMu.Lock()
			mc.unconfirmedReceivedI = 0
			mc.timeoutT2Triggered = false
			mc.stateMu.Unlock()
		}

	case sAPCI:
		if !mc.checkSeqno(f.rcvSN) {
			return ErrSequenceError
		}

	case uAPCI:
		switch f.function {
		case uTestFrActive:
			if err := mc.writeRaw(newUFrame(uTestFrConfirm)); err != nil {
				return err
			}
		case uStartDtActive:
			mc.slave.activate(mc)
			mc.highQ.Reset()
			if err := mc.writeRaw(newUFrame(uStartDtConfirm)); err != nil {
				return err
			}
		case uStopDtActive:
			mc.deactivate()
			if err := mc.writeRaw(newUFrame(uStopDtConfirm)); err != nil {
				return err
			}
		case uTestFrConfirm:
			mc.stateMu.Lock()
			mc.outstandingTestFRCon = 0
			mc.stateMu.Unlock()
		}
	}

	mc.stateMu.Lock()
	mc.nextT3Timeout = time.Now().Add(mc.conf.IdleTimeout3)
	mc.stateMu.Unlock()
	return nil
}

// dispatchASDU decodes payload and routes it through plugins and the
// handler table.
func (mc *MasterConnection) dispatchASDU(payload []byte) {
	a := asdu.NewEmptyASDU(mc.params)
	if err := a.UnmarshalBinary(payload); err != nil {
		mc.Warn("cs104: %s: malformed asdu: %v", mc.id, err)
		return
	}
	for _, p := range mc.slave.plugins {
		if p.HandleASDU(mc, a) == Handled {
			return
		}
	}
	mc.handlers.dispatch(mc, a)
}

// checkSeqno confirms all sent I-frames up to and including seqNo, per
// IEC 60870-5-104 §5.
func (mc *MasterConnection) checkSeqno(seqNo uint16) bool {
	mc.kMu.Lock()
	defer mc.kMu.Unlock()

	mc.stateMu.Lock()
	sendCount := mc.sendCount
	mc.stateMu.Unlock()

	if mc.oldestSent < 0 {
		return seqNo == sendCount
	}

	old := mc.sentASDUs[mc.oldestSent].seqNo
	newest := mc.sentASDUs[mc.newestSent].seqNo

	valid := false
	switch {
	case old <= newest:
		valid = seqNo >= old && seqNo <= newest
	case old > newest:
		valid = seqNo >= old || seqNo <= newest
	}
	if !valid && seqNo == (old+32768-1)%32768 {
		valid = true
	}
	if !valid {
		return false
	}

	for {
		e := mc.sentASDUs[mc.oldestSent]
		if e.hasPtr {
			mc.lowQ.MarkConfirmed(e.ptr)
		}
		done := e.seqNo == seqNo
		if mc.oldestSent == mc.newestSent {
			mc.oldestSent, mc.newestSent = -1, -1
			break
		}
		mc.oldestSent = (mc.oldestSent + 1) % len(mc.sentASDUs)
		if done {
			break
		}
	}
	return true
}

// sendI transmits one I-frame carrying payload, recording it in the
// k-buffer. ptr/hasPtr correlate it back to the originating MessageQueue
// entry for later confirmation; high-priority sends pass hasPtr=false.
func (mc *MasterConnection) sendI(payload []byte, ptr EntryPtr, hasPtr bool) error {
	if !mc.IsActive() {
		return ErrNotActive
	}

	mc.kMu.Lock()
	if mc.windowFullLocked() {
		mc.kMu.Unlock()
		return ErrBufferFulled
	}

	mc.stateMu.Lock()
	send, rcv := mc.sendCount, mc.receiveCount
	mc.stateMu.Unlock()

	frame, err := newIFrame(send, rcv, payload)
	if err != nil {
		mc.kMu.Unlock()
		return err
	}
	if err := mc.writeRaw(frame); err != nil {
		mc.kMu.Unlock()
		return err
	}

	slot := 0
	if mc.newestSent >= 0 {
		slot = (mc.newestSent + 1) % len(mc.sentASDUs)
	}
	mc.sentASDUs[slot] = kEntry{
		entryTime: time.Now(),
		ptr:       ptr,
		hasPtr:    hasPtr,
		seqNo:     send,
		sentTime:  time.Now(),
	}
	mc.newestSent = slot
	if mc.oldestSent < 0 {
		mc.oldestSent = slot
	}
	mc.kMu.Unlock()

	mc.stateMu.Lock()
	mc.sendCount = (send + 1) % 32768
	mc.unconfirmedReceivedI = 0
	mc.timeoutT2Triggered = false
	mc.stateMu.Unlock()
	return nil
}

// drainOutbound drains the high-priority queue entirely, then at most one
// low-priority entry, per tick. It reports whether more low-priority work
// remains and any transmit error encountered.
func (mc *MasterConnection) drainOutbound() (more bool, err error) {
	for {
		payload, ok := mc.highQ.Next()
		if !ok {
			break
		}
		if sendErr := mc.sendI(payload, EntryPtr{}, false); sendErr != nil {
			return false, sendErr
		}
	}

	ptr, payload, ok := mc.lowQ.NextWaiting()
	if !ok {
		return false, nil
	}
	if sendErr := mc.sendI(payload, ptr, true); sendErr != nil {
		return false, sendErr
	}
	return true, nil
}

// handleTimeouts checks T1/T2/T3 against the current time, per tick.
// Returns the sentinel error (ErrTestFrTimeout/ErrAckTimeout) or transport
// error that means the connection must close.
func (mc *MasterConnection) handleTimeouts() error {
	now := time.Now()

	// Clock-going-backwards guard: a stored deadline strictly in the
	// future relative to a regressed clock is clamped to now rather
	// than treated as an error.
	mc.stateMu.Lock()
	if mc.lastConfirmationTime.After(now) {
		mc.lastConfirmationTime = now
	}
	mc.stateMu.Unlock()

	if err := mc.checkT3(now); err != nil {
		return err
	}
	if err := mc.checkT2(now); err != nil {
		return err
	}
	return mc.checkT1(now)
}

func (mc *MasterConnection) checkT3(now time.Time) error {
	mc.stateMu.Lock()
	idle := now.After(mc.nextT3Timeout)
	outstanding := mc.outstandingTestFRCon
	mc.stateMu.Unlock()
	if !idle {
		return nil
	}
	if outstanding > 2 {
		mc.Warn("cs104: %s: testfr timeout", mc.id)
		return ErrTestFrTimeout
	}
	if err := mc.writeRaw(newUFrame(uTestFrActive)); err != nil {
		return err
	}
	mc.stateMu.Lock()
	mc.outstandingTestFRCon++
	mc.nextT3Timeout = now.Add(mc.conf.IdleTimeout3)
	mc.stateMu.Unlock()
	return nil
}

func (mc *MasterConnection) checkT2(now time.Time) error {
	mc.stateMu.Lock()
	unconfirmed := mc.unconfirmedReceivedI
	due := now.Sub(mc.lastConfirmationTime) >= mc.conf.RecvUnAckTimeout2
	rcv := mc.receiveCount
	mc.stateMu.Unlock()
	if unconfirmed == 0 || !due {
		return nil
	}
	if err := mc.sendSFrame(rcv); err != nil {
		return err
	}
	mc.stateMu.Lock()
	mc.unconfirmedReceivedI = 0
	mc.timeoutT2Triggered = false
	mc.lastConfirmationTime = now
	mc.stateMu.Unlock()
	return nil
}

func (mc *MasterConnection) checkT1(now time.Time) error {
	mc.kMu.Lock()
	defer mc.kMu.Unlock()
	if mc.oldestSent < 0 {
		return nil
	}
	sentTime := mc.sentASDUs[mc.oldestSent].sentTime
	if sentTime.After(now) {
		mc.sentASDUs[mc.oldestSent].sentTime = now
		return nil
	}
	if now.Sub(sentTime) >= mc.conf.SendUnAckTimeout1 {
		mc.Warn("cs104: %s: ack timeout", mc.id)
		return ErrAckTimeout
	}
	return nil
}

func (mc *MasterConnection) sendSFrame(rcv uint16) error {
	return mc.writeRaw(newSFrame(rcv))
}

func (mc *MasterConnection) writeRaw(frame []byte) error {
	mc.writeMu.Lock()
	defer mc.writeMu.Unlock()
	_, err := mc.conn.Write(frame)
	return err
}

// activate marks this connection ACTIVE. Callers must first deactivate
// any other connection in scope (Slave.activate handles that).
func (mc *MasterConnection) activate() {
	mc.stateMu.Lock()
	already := mc.isActive
	mc.isActive = true
	mc.stateMu.Unlock()
	if !already {
		mc.notify(EventActivated)
		if mc.slave.connState != nil {
			mc.slave.connState(mc, StateConnected)
		}
	}
}

// deactivate marks this connection inactive, leaving its low queue
// untouched so a future re-activation resumes delivery.
func (mc *MasterConnection) deactivate() {
	mc.stateMu.Lock()
	was := mc.isActive
	mc.isActive = false
	mc.stateMu.Unlock()
	if was {
		mc.notify(EventDeactivated)
	}
}

func (mc *MasterConnection) notify(ev ConnectionEvent) {
	if mc.handlers != nil && mc.handlers.ConnectionEvent != nil {
		mc.handlers.ConnectionEvent(mc, ev)
	}
}

// close tears the connection down: if it was active, its low queue's
// unconfirmed entries revert to WAITING so a successor retransmits them.
func (mc *MasterConnection) close() {
	mc.closed.Do(func() {
		close(mc.closeCh)
	})
}

// teardown runs once the run loop exits, regardless of cause.
func (mc *MasterConnection) teardown() {
	mc.stateMu.Lock()
	wasActive := mc.isActive
	mc.isActive = false
	mc.isRunning = false
	mc.stateMu.Unlock()

	if wasActive && mc.lowQ != nil {
		mc.lowQ.RevertUnconfirmedToWaiting()
	}
	_ = mc.conn.Close()
	mc.close()
	mc.slave.removeConnection(mc)
	mc.notify(EventClosed)
	if mc.metrics != nil {
		mc.metrics.Remove(mc)
	}
}
