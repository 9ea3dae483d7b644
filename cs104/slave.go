// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ctrlstack/iec104slave/asdu"
	"github.com/ctrlstack/iec104slave/clog"
)

// ServerMode selects how a Slave binds connections to redundancy groups.
type ServerMode uint8

const (
	// SingleRedundancyGroup: one shared (lowQ, highQ) for every
	// connection; only one connection may be ACTIVE at a time.
	SingleRedundancyGroup ServerMode = iota
	// ConnectionIsRedundancyGroup: each connection owns its own
	// (lowQ, highQ), created at accept; application enqueues broadcast
	// to every connected session.
	ConnectionIsRedundancyGroup
	// MultipleRedundancyGroups: a list of named groups, each with an IP
	// allow-list, selected on accept by peer address.
	MultipleRedundancyGroups
)

// Slave is the listener, accept policy, connection table, and public API
// of an IEC 60870-5-104 server endpoint, supporting the three
// redundancy-group modes above.
type Slave struct {
	clog.Clog

	conf   Config
	params *asdu.Params

	bindAddress string
	bindPort    int
	tlsConfig   *tls.Config

	mode               ServerMode
	maxOpenConnections int
	lowQueueCapacity   int
	highQueueCapacity  int

	singleGroup *RedundancyGroup
	groups      []*RedundancyGroup

	handlers  *HandlerSet
	plugins   []Plugin
	connState func(asdu.Connect, ConnState)

	metrics *ConnMetrics

	mu          sync.Mutex // openConnectionsLock
	connections map[*MasterConnection]struct{}
	openCount   int

	listener   net.Listener
	threadless bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    uint32
}

// NewSlave constructs a Slave with IEC defaults: SINGLE_REDUNDANCY_GROUP
// mode, the wide ASDU params, unbounded open connections, and a 16-entry
// low queue / 16-entry high queue for the single shared group.
func NewSlave(handlers *HandlerSet) *Slave {
	s := &Slave{
		conf:              DefaultConfig(),
		params:            asdu.ParamsWide,
		bindPort:          Port,
		mode:              SingleRedundancyGroup,
		lowQueueCapacity:  16,
		highQueueCapacity: 16,
		handlers:          handlers,
		connections:       make(map[*MasterConnection]struct{}),
	}
	s.Clog = clog.NewLogger("cs104: ")
	s.singleGroup = NewRedundancyGroup("", s.lowQueueCapacity, s.highQueueCapacity, nil)
	return s
}

// SetConfig installs the APCI timing parameters, validating and applying
// IEC defaults for any unset field.
func (s *Slave) SetConfig(conf Config) (*Slave, error) {
	if err := conf.Valid(); err != nil {
		return s, err
	}
	s.conf = conf
	return s, nil
}

// SetParams installs the ASDU address-width parameters.
func (s *Slave) SetParams(p *asdu.Params) *Slave {
	s.params = p
	return s
}

// SetLocalAddress sets the bind address (empty means all interfaces).
func (s *Slave) SetLocalAddress(addr string) *Slave {
	s.bindAddress = addr
	return s
}

// SetLocalPort sets the bind port.
func (s *Slave) SetLocalPort(port int) *Slave {
	s.bindPort = port
	return s
}

// SetTLSConfig enables TLS for the listener. A nil config (the default)
// listens in plaintext.
func (s *Slave) SetTLSConfig(c *tls.Config) *Slave {
	s.tlsConfig = c
	return s
}

// SetServerMode selects the redundancy-group policy. Must be called
// before Start/StartThreadless.
func (s *Slave) SetServerMode(mode ServerMode) *Slave {
	s.mode = mode
	return s
}

// SetMaxOpenConnections caps concurrently open connections. Zero or
// negative means unlimited, applied uniformly to both scheduler modes.
func (s *Slave) SetMaxOpenConnections(n int) *Slave {
	s.maxOpenConnections = n
	return s
}

// SetQueueCapacities controls the ring sizes used for the single shared
// group (SINGLE_REDUNDANCY_GROUP) and for each per-connection queue pair
// (CONNECTION_IS_REDUNDANCY_GROUP).
func (s *Slave) SetQueueCapacities(low, high int) *Slave {
	s.lowQueueCapacity, s.highQueueCapacity = low, high
	s.singleGroup = NewRedundancyGroup("", low, high, s.singleGroup.Allowed)
	return s
}

// AddRedundancyGroup registers a named group for MULTIPLE_REDUNDANCY_GROUPS
// mode. A group with a nil/empty allow-list is the catch-all.
func (s *Slave) AddRedundancyGroup(g *RedundancyGroup) *Slave {
	s.groups = append(s.groups, g)
	return s
}

// AddPlugin registers a Plugin, invoked for every ASDU (before the handler
// table) and, for each active connection, whenever it drains outbound work.
func (s *Slave) AddPlugin(p Plugin) *Slave {
	s.plugins = append(s.plugins, p)
	return s
}

// SetConnState installs a callback invoked whenever a connection's
// lifecycle state changes.
func (s *Slave) SetConnState(fn func(asdu.Connect, ConnState)) *Slave {
	s.connState = fn
	return s
}

// SetMetricsRegisterer wires a Prometheus collector exposing per-connection
// TCP_INFO and protocol gauges into reg. A Slave with no registerer set
// runs with zero Prometheus overhead.
func (s *Slave) SetMetricsRegisterer(reg prometheusRegisterer) *Slave {
	s.metrics = NewConnMetrics(reg)
	return s
}

// GetConnectionParameters returns the APCI timing configuration.
func (s *Slave) GetConnectionParameters() Config { return s.conf }

// GetAppLayerParameters returns the ASDU address-width configuration.
func (s *Slave) GetAppLayerParameters() *asdu.Params { return s.params }

// IsRunning reports whether the listener is accepting connections.
func (s *Slave) IsRunning() bool { return atomic.LoadUint32(&s.running) == 1 }

// GetOpenConnections returns a snapshot of currently open connections.
func (s *Slave) GetOpenConnections() []*MasterConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MasterConnection, 0, len(s.connections))
	for c := range s.connections {
		out = append(out, c)
	}
	return out
}

// EnqueueASDU pushes a onto the low-priority queue(s) selected by the
// server mode: the single shared queue, every redundancy group's queue, or
// every connected session's own queue.
func (s *Slave) EnqueueASDU(a *asdu.ASDU) error {
	raw, err := a.MarshalBinary()
	if err != nil {
		return err
	}

	switch s.mode {
	case SingleRedundancyGroup:
		s.singleGroup.LowQ.Enqueue(raw)
	case MultipleRedundancyGroups:
		for _, g := range s.groups {
			g.LowQ.Enqueue(raw)
		}
	case ConnectionIsRedundancyGroup:
		s.mu.Lock()
		for c := range s.connections {
			c.lowQ.Enqueue(raw)
			c.wake()
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *Slave) listen() error {
	addr := fmt.Sprintf("%s:%d", s.bindAddress, s.bindPort)
	var ln net.Listener
	var err error
	if s.tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, s.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Start begins accepting connections with one acceptor goroutine and one
// worker-goroutine pair per connection (threaded mode).
func (s *Slave) Start() error {
	if err := s.listen(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.threadless = false
	atomic.StoreUint32(&s.running, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()
	return nil
}

// Stop tears down the listener, cancels every connection, and waits for
// the acceptor goroutine to exit.
func (s *Slave) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	conns := make([]*MasterConnection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	atomic.StoreUint32(&s.running, 0)
}

// StartThreadless opens the listener without spawning any goroutines; the
// caller drives progress by calling Tick repeatedly.
func (s *Slave) StartThreadless() error {
	if err := s.listen(); err != nil {
		return err
	}
	s.threadless = true
	atomic.StoreUint32(&s.running, 1)
	return nil
}

// StopThreadless closes the listener; in-flight connections are closed on
// the next Tick.
func (s *Slave) StopThreadless() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	atomic.StoreUint32(&s.running, 0)
}

func (s *Slave) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		s.handleAccept(ctx, conn)
	}
}

// handleAccept applies the connection-request gate, the open-connection
// cap, and mode-based queue resolution, then allocates and starts a
// MasterConnection.
func (s *Slave) handleAccept(ctx context.Context, conn net.Conn) {
	peerIP := peerAddrIP(conn)

	if s.handlers != nil && s.handlers.ConnectionRequest != nil && !s.handlers.ConnectionRequest(peerIP) {
		s.Warn("cs104: %v: %v", peerIP, ErrConnectionRejected)
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	if s.maxOpenConnections > 0 && s.openCount >= s.maxOpenConnections {
		s.mu.Unlock()
		s.Warn("cs104: %v: %v", peerIP, ErrMaxOpenConnections)
		_ = conn.Close()
		return
	}

	low, high, group, err := s.resolveQueuesLocked(peerIP)
	if err != nil {
		s.mu.Unlock()
		s.Warn("cs104: %v: %v", peerIP, err)
		_ = conn.Close()
		return
	}

	mc := newMasterConnection(conn, s.params, s.conf, s)
	mc.bindQueues(low, high, group)
	mc.metrics = s.metrics

	s.connections[mc] = struct{}{}
	s.openCount++
	s.mu.Unlock()

	if s.connState != nil {
		s.connState(mc, StateOpen)
	}
	mc.notify(EventOpened)
	if s.metrics != nil {
		s.metrics.Add(mc)
	}

	if s.threadless {
		return
	}
	mc.start(ctx)
}

// resolveQueuesLocked must be called with s.mu held.
func (s *Slave) resolveQueuesLocked(peerIP net.IP) (*MessageQueue, *HighPrioQueue, *RedundancyGroup, error) {
	switch s.mode {
	case SingleRedundancyGroup:
		return s.singleGroup.LowQ, s.singleGroup.HighQ, s.singleGroup, nil
	case ConnectionIsRedundancyGroup:
		return NewMessageQueue(s.lowQueueCapacity), NewHighPrioQueue(s.highQueueCapacity), nil, nil
	case MultipleRedundancyGroups:
		g, ok := resolveGroup(s.groups, peerIP)
		if !ok {
			return nil, nil, nil, ErrNoMatchingGroup
		}
		return g.LowQ, g.HighQ, g, nil
	default:
		return nil, nil, nil, ErrNoMatchingGroup
	}
}

// Tick drives one cooperative-scheduler iteration: a single non-blocking
// accept attempt followed by a bounded poll over every open connection.
// After StopThreadless it instead closes every open connection.
func (s *Slave) Tick() error {
	if s.listener == nil {
		return ErrNotActive
	}

	stopped := !s.IsRunning()
	if !stopped {
		s.tickAccept()
	}

	s.mu.Lock()
	conns := make([]*MasterConnection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if stopped || !c.tickOnce(pollInterval) {
			c.teardown()
		}
	}
	return nil
}

// pollInterval bounds both the listener's non-blocking accept attempt and
// each connection's per-tick read, in threadless mode.
const pollInterval = 10 * time.Millisecond

// tickAccept makes one bounded accept attempt, admitting at most one new
// connection per Tick call.
func (s *Slave) tickAccept() {
	type deadliner interface {
		SetDeadline(t time.Time) error
	}
	if dl, ok := s.listener.(deadliner); ok {
		_ = dl.SetDeadline(time.Now().Add(pollInterval))
	}
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	s.handleAccept(context.Background(), conn)
}

func (s *Slave) removeConnection(mc *MasterConnection) {
	s.mu.Lock()
	if _, ok := s.connections[mc]; ok {
		delete(s.connections, mc)
		s.openCount--
	}
	s.mu.Unlock()
	if s.connState != nil {
		s.connState(mc, StateClosed)
	}
}

// activate deactivates every other connection in the target's scope and
// activates the target, under the open-connections lock, per the
// activation-exclusivity rule.
func (s *Slave) activate(target *MasterConnection) {
	s.mu.Lock()
	switch s.mode {
	case SingleRedundancyGroup:
		for c := range s.connections {
			if c != target {
				c.deactivate()
			}
		}
	case MultipleRedundancyGroups:
		for c := range s.connections {
			if c != target && c.group == target.group {
				c.deactivate()
			}
		}
	case ConnectionIsRedundancyGroup:
		// Each connection owns its queue pair; no cross-connection
		// exclusivity applies.
	}
	s.mu.Unlock()
	target.activate()
}

// Destroy stops the listener (whichever mode was in use) and releases all
// resources. Safe to call more than once.
func (s *Slave) Destroy() {
	if s.threadless {
		s.StopThreadless()
		return
	}
	s.Stop()
}

func peerAddrIP(conn net.Conn) net.IP {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
