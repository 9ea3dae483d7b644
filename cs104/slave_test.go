package cs104

import (
	"net"
	"testing"
	"time"

	"github.com/ctrlstack/iec104slave/asdu"
)

// captureConnect implements asdu.Connect just enough to let the asdu
// package's message builders (asdu.Single, etc.) hand back a constructed
// *asdu.ASDU instead of transmitting it, for use with Slave.EnqueueASDU.
type captureConnect struct {
	params *asdu.Params
	sent   *asdu.ASDU
}

func (c *captureConnect) Params() *asdu.Params    { return c.params }
func (c *captureConnect) UnderlyingConn() net.Conn { return nil }
func (c *captureConnect) Send(a *asdu.ASDU) error {
	c.sent = a
	return nil
}

func newThreadlessTestSlave(t *testing.T) (*Slave, string) {
	t.Helper()
	s := NewSlave(nil)
	s.SetLocalAddress("127.0.0.1")
	s.SetLocalPort(0)
	if err := s.StartThreadless(); err != nil {
		t.Fatalf("StartThreadless: %v", err)
	}
	t.Cleanup(s.StopThreadless)

	addr := s.listener.Addr().(*net.TCPAddr)
	return s, addr.String()
}

func pumpUntil(t *testing.T, s *Slave, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := s.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if cond() {
			return
		}
	}
	t.Fatalf("condition not reached before deadline")
}

func dialAndStartDt(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := conn.Write(newUFrame(uStartDtActive)); err != nil {
		t.Fatalf("Write STARTDT_ACT: %v", err)
	}
	return conn
}

func readConFrame(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 6)
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("read confirm: %v", err)
	}
	frame, _ := parse(buf)
	u, ok := frame.(uAPCI)
	if !ok || u.function != uStartDtConfirm {
		t.Fatalf("reply = %v, want STARTDT_CON", frame)
	}
}

func TestSlaveThreadlessAcceptAndActivate(t *testing.T) {
	s, addr := newThreadlessTestSlave(t)

	conn := dialAndStartDt(t, addr)
	pumpUntil(t, s, func() bool { return len(s.GetOpenConnections()) == 1 })
	readConFrame(t, conn)

	conns := s.GetOpenConnections()
	if len(conns) != 1 {
		t.Fatalf("GetOpenConnections() = %d, want 1", len(conns))
	}
	pumpUntil(t, s, func() bool { return conns[0].IsActive() })
}

func TestSlaveSingleGroupActivationIsExclusive(t *testing.T) {
	s, addr := newThreadlessTestSlave(t)

	connA := dialAndStartDt(t, addr)
	pumpUntil(t, s, func() bool { return len(s.GetOpenConnections()) == 1 })
	readConFrame(t, connA)

	var mcA *MasterConnection
	for _, c := range s.GetOpenConnections() {
		mcA = c
	}
	pumpUntil(t, s, func() bool { return mcA.IsActive() })

	connB := dialAndStartDt(t, addr)
	pumpUntil(t, s, func() bool { return len(s.GetOpenConnections()) == 2 })
	readConFrame(t, connB)

	var mcB *MasterConnection
	for _, c := range s.GetOpenConnections() {
		if c != mcA {
			mcB = c
		}
	}
	pumpUntil(t, s, func() bool { return mcB.IsActive() })

	if mcA.IsActive() {
		t.Fatalf("mcA.IsActive() = true, want false (SINGLE_REDUNDANCY_GROUP exclusivity)")
	}
}

func TestSlaveEnqueueASDUSingleGroupReachesConnection(t *testing.T) {
	s, addr := newThreadlessTestSlave(t)
	conn := dialAndStartDt(t, addr)
	pumpUntil(t, s, func() bool { return len(s.GetOpenConnections()) == 1 })
	readConFrame(t, conn)

	var mc *MasterConnection
	for _, c := range s.GetOpenConnections() {
		mc = c
	}
	pumpUntil(t, s, func() bool { return mc.IsActive() })

	if err := s.EnqueueASDU(buildTestASDU(t, s.GetAppLayerParameters())); err != nil {
		t.Fatalf("EnqueueASDU: %v", err)
	}

	head := make([]byte, 2)
	pumpUntil(t, s, func() bool {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		n, _ := conn.Read(head)
		return n > 0
	})
}

func buildTestASDU(t *testing.T, params *asdu.Params) *asdu.ASDU {
	t.Helper()
	fake := &captureConnect{params: params}
	info := asdu.SinglePointInfo{Ioa: 1, Value: true}
	if err := asdu.Single(fake, false, asdu.CauseOfTransmission{Cause: asdu.Spontaneous}, 1, info); err != nil {
		t.Fatalf("asdu.Single: %v", err)
	}
	return fake.sent
}
