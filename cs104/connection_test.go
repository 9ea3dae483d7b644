package cs104

import (
	"net"
	"testing"
	"time"

	"github.com/ctrlstack/iec104slave/asdu"
	"github.com/ctrlstack/iec104slave/clog"
)

func newTestSlave() *Slave {
	return &Slave{
		Clog:        clog.NewLogger("test"),
		connections: make(map[*MasterConnection]struct{}),
	}
}

func newTestConnection(t *testing.T, conf Config) (*MasterConnection, net.Conn) {
	t.Helper()
	driver, server := net.Pipe()
	t.Cleanup(func() { _ = driver.Close(); _ = server.Close() })

	mc := newMasterConnection(server, asdu.ParamsNarrow, conf, newTestSlave())
	mc.bindQueues(NewMessageQueue(8), NewHighPrioQueue(8), nil)
	return mc, driver
}

// runTick sends req from driver, runs one tickOnce on mc concurrently (since
// net.Pipe is unbuffered and a reply write happens inside tickOnce itself),
// and returns the reply frame plus tickOnce's result.
func runTick(t *testing.T, mc *MasterConnection, driver net.Conn, req []byte) ([]byte, bool) {
	t.Helper()
	okCh := make(chan bool, 1)
	go func() { okCh <- mc.tickOnce(time.Second) }()
	go func() { _, _ = driver.Write(req) }()

	reply := readFrame(t, driver)
	return reply, <-okCh
}

// runTimeouts runs handleTimeouts concurrently with a read, for the same
// reason as runTick: the outgoing S/U-frame write blocks until read.
func runTimeouts(t *testing.T, mc *MasterConnection, driver net.Conn) ([]byte, error) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- mc.handleTimeouts() }()
	reply := readFrame(t, driver)
	return reply, <-errCh
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	head := make([]byte, 2)
	if _, err := readFull(conn, head); err != nil {
		t.Fatalf("read header: %v", err)
	}
	rest := make([]byte, head[1])
	if _, err := readFull(conn, rest); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return append(head, rest...)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func singlePointASDU(t *testing.T) []byte {
	t.Helper()
	raw := []byte{
		byte(asdu.M_SP_NA_1),
		0x01,
		byte(asdu.Spontaneous),
		0x01,
		0x01,
		0x01,
	}
	a := asdu.NewEmptyASDU(asdu.ParamsNarrow)
	if err := a.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	return raw
}

func TestStartDtHandshakeActivates(t *testing.T) {
	mc, driver := newTestConnection(t, DefaultConfig())

	reply, ok := runTick(t, mc, driver, newUFrame(uStartDtActive))
	if !ok {
		t.Fatalf("tickOnce() = false, want true")
	}

	frame, _ := parse(reply)
	u, isU := frame.(uAPCI)
	if !isU || u.function != uStartDtConfirm {
		t.Fatalf("reply = %v, want STARTDT_CON", frame)
	}
	if !mc.IsActive() {
		t.Fatalf("IsActive() = false, want true after STARTDT handshake")
	}
}

func TestStopDtHandshakeDeactivates(t *testing.T) {
	mc, driver := newTestConnection(t, DefaultConfig())

	if _, ok := runTick(t, mc, driver, newUFrame(uStartDtActive)); !ok {
		t.Fatalf("tickOnce() = false, want true")
	}

	reply, ok := runTick(t, mc, driver, newUFrame(uStopDtActive))
	if !ok {
		t.Fatalf("tickOnce() = false, want true")
	}
	frame, _ := parse(reply)
	u, isU := frame.(uAPCI)
	if !isU || u.function != uStopDtConfirm {
		t.Fatalf("reply = %v, want STOPDT_CON", frame)
	}
	if mc.IsActive() {
		t.Fatalf("IsActive() = true, want false after STOPDT handshake")
	}
}

func TestTestFrActiveIsConfirmed(t *testing.T) {
	mc, driver := newTestConnection(t, DefaultConfig())

	reply, ok := runTick(t, mc, driver, newUFrame(uTestFrActive))
	if !ok {
		t.Fatalf("tickOnce() = false, want true")
	}
	frame, _ := parse(reply)
	u, isU := frame.(uAPCI)
	if !isU || u.function != uTestFrConfirm {
		t.Fatalf("reply = %v, want TESTFR_CON", frame)
	}
}

func TestWLimitTriggersSFrame(t *testing.T) {
	conf := DefaultConfig()
	conf.RecvUnAckLimitW = 1
	mc, driver := newTestConnection(t, conf)

	frame, err := newIFrame(0, 0, singlePointASDU(t))
	if err != nil {
		t.Fatalf("newIFrame: %v", err)
	}

	reply, ok := runTick(t, mc, driver, frame)
	if !ok {
		t.Fatalf("tickOnce() = false, want true")
	}
	parsed, _ := parse(reply)
	s, isS := parsed.(sAPCI)
	if !isS {
		t.Fatalf("reply = %v, want S-frame (w=1 exceeded)", parsed)
	}
	if s.rcvSN != 1 {
		t.Fatalf("S-frame rcvSN = %d, want 1", s.rcvSN)
	}
}

func TestT2TimeoutTriggersSFrame(t *testing.T) {
	conf := DefaultConfig()
	conf.RecvUnAckLimitW = 100 // large enough that w never triggers here
	mc, driver := newTestConnection(t, conf)

	frame, err := newIFrame(0, 0, singlePointASDU(t))
	if err != nil {
		t.Fatalf("newIFrame: %v", err)
	}
	// w is large enough that this first tickOnce produces no reply, so a
	// plain synchronous write/tickOnce pair (no concurrent reader needed)
	// is safe here.
	go func() { _, _ = driver.Write(frame) }()
	if !mc.tickOnce(time.Second) {
		t.Fatalf("tickOnce() = false, want true")
	}

	// Force t2 to appear elapsed without touching t3, then drive the
	// timeout check directly.
	mc.stateMu.Lock()
	mc.lastConfirmationTime = time.Now().Add(-2 * conf.RecvUnAckTimeout2)
	mc.nextT3Timeout = time.Now().Add(conf.IdleTimeout3)
	mc.stateMu.Unlock()

	reply, err := runTimeouts(t, mc, driver)
	if err != nil {
		t.Fatalf("handleTimeouts() = %v, want nil", err)
	}
	frame2, _ := parse(reply)
	if _, isS := frame2.(sAPCI); !isS {
		t.Fatalf("reply = %v, want S-frame", frame2)
	}
}

// drainAsync reads and discards from conn in the background so that
// writes made by the code under test (sendI's writeRaw) never block on an
// unbuffered net.Pipe with no reader.
func drainAsync(conn net.Conn) {
	go func() {
		buf := make([]byte, 512)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
}

func TestCheckSeqnoConfirmsKBuffer(t *testing.T) {
	mc, driver := newTestConnection(t, DefaultConfig())
	drainAsync(driver)
	mc.activate()

	q := mc.lowQ
	for i := 0; i < 3; i++ {
		q.Enqueue(singlePointASDU(t))
	}
	for i := 0; i < 3; i++ {
		ptr, payload, ok := q.NextWaiting()
		if !ok {
			t.Fatalf("NextWaiting() ok = false at %d", i)
		}
		if err := mc.sendI(payload, ptr, true); err != nil {
			t.Fatalf("sendI: %v", err)
		}
	}

	if ok := mc.checkSeqno(1); !ok {
		t.Fatalf("checkSeqno(1) = false, want true")
	}
	// Confirmed entries turn FREE but stay in the ring until a later
	// Enqueue evicts them, so count the entries still awaiting an ack.
	unconfirmed := 0
	for _, e := range q.entries {
		if e.state == stateSentUnconfirmed {
			unconfirmed++
		}
	}
	if unconfirmed != 1 {
		t.Fatalf("SENT_UNCONFIRMED entries after checkSeqno(1) = %d, want 1 (two confirmed, one still unconfirmed)", unconfirmed)
	}
}

func TestCheckSeqnoRejectsOutOfWindow(t *testing.T) {
	mc, driver := newTestConnection(t, DefaultConfig())
	drainAsync(driver)
	mc.activate()

	q := mc.lowQ
	q.Enqueue(singlePointASDU(t))
	ptr, payload, _ := q.NextWaiting()
	if err := mc.sendI(payload, ptr, true); err != nil {
		t.Fatalf("sendI: %v", err)
	}

	if ok := mc.checkSeqno(5); ok {
		t.Fatalf("checkSeqno(5) = true, want false (5 was never sent)")
	}
}

func interrogationASDU(t *testing.T) *asdu.ASDU {
	t.Helper()
	a := asdu.NewASDU(asdu.ParamsNarrow, asdu.Identifier{
		Type:       asdu.C_IC_NA_1,
		Variable:   asdu.VariableStruct{IsSequence: false, Number: 1},
		Coa:        asdu.CauseOfTransmission{Cause: asdu.Activation},
		CommonAddr: 1,
	})
	return a
}

func TestSendActConAndActTermBypassLowQueue(t *testing.T) {
	mc, driver := newTestConnection(t, DefaultConfig())
	_ = driver
	mc.activate()

	req := interrogationASDU(t)

	if err := mc.SendActCon(req); err != nil {
		t.Fatalf("SendActCon: %v", err)
	}
	if err := mc.SendActTerm(req); err != nil {
		t.Fatalf("SendActTerm: %v", err)
	}

	if got := mc.lowQ.Len(); got != 0 {
		t.Fatalf("lowQ.Len() = %d, want 0 (ACT_CON/ACT_TERM must not enter the low-priority ring)", got)
	}

	conPayload, ok := mc.highQ.Next()
	if !ok {
		t.Fatalf("highQ.Next() = false, want an ACT_CON frame queued")
	}
	con := asdu.NewEmptyASDU(asdu.ParamsNarrow)
	if err := con.UnmarshalBinary(conPayload); err != nil {
		t.Fatalf("UnmarshalBinary(ACT_CON): %v", err)
	}
	if con.Coa.Cause != asdu.ActivationCon {
		t.Fatalf("first highQ frame cause = %v, want ActivationCon", con.Coa.Cause)
	}

	termPayload, ok := mc.highQ.Next()
	if !ok {
		t.Fatalf("highQ.Next() = false, want an ACT_TERM frame queued")
	}
	term := asdu.NewEmptyASDU(asdu.ParamsNarrow)
	if err := term.UnmarshalBinary(termPayload); err != nil {
		t.Fatalf("UnmarshalBinary(ACT_TERM): %v", err)
	}
	if term.Coa.Cause != asdu.ActivationTerm {
		t.Fatalf("second highQ frame cause = %v, want ActivationTerm", term.Coa.Cause)
	}
}

func TestSendActConFailsWhenNotRunning(t *testing.T) {
	mc, driver := newTestConnection(t, DefaultConfig())
	_ = driver

	mc.stateMu.Lock()
	mc.isRunning = false
	mc.stateMu.Unlock()

	if err := mc.SendActCon(interrogationASDU(t)); err != ErrUseClosedConnection {
		t.Fatalf("SendActCon on closed connection = %v, want ErrUseClosedConnection", err)
	}
}
