package realtime_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abyssinia-assembly/attendance/internal/domain"
	"github.com/abyssinia-assembly/attendance/internal/domain/envelope"
	"github.com/abyssinia-assembly/attendance/internal/realtime"
	"github.com/abyssinia-assembly/attendance/internal/testutil"
)

const testEndpoint = "ws://attendance.test/assemblyservice/ws/attendance"

type harness struct {
	client   *realtime.Client
	dialer   *testutil.FakeDialer
	clock    *testutil.FakeClock
	recorder *testutil.Recorder
}

func newHarness(t *testing.T, token realtime.TokenProvider) *harness {
	t.Helper()
	h := &harness{
		dialer:   testutil.NewFakeDialer(),
		clock:    testutil.NewFakeClock(),
		recorder: testutil.NewRecorder(),
	}
	if token == nil {
		token = realtime.StaticToken("")
	}
	h.client = realtime.New(realtime.DefaultConfig(testEndpoint),
		realtime.WithDialer(h.dialer),
		realtime.WithClock(h.clock),
		realtime.WithTokenProvider(token),
	)
	h.client.Subscribe(h.recorder.Record)
	t.Cleanup(h.client.Disconnect)
	return h
}

// open connects and waits for the n-th "Connected to server" status.
func (h *harness) open(t *testing.T, n int) *testutil.FakeConn {
	t.Helper()
	h.client.Connect()
	conn := h.dialer.WaitConn(t, n)
	h.recorder.WaitForStatus(t, domain.MsgConnected, n)
	return conn
}

func waitPending(t *testing.T, clock *testutil.FakeClock, want ...time.Duration) {
	t.Helper()
	testutil.WaitFor(t, testutil.DefaultWait, func() bool {
		got := clock.Pending()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, "pending timers")
}

func countStatus(r *testutil.Recorder, message string) int {
	n := 0
	for _, m := range r.Statuses() {
		if m == message {
			n++
		}
	}
	return n
}

func TestClient_OpenAuthenticatesAndRequestsStatus(t *testing.T) {
	h := newHarness(t, realtime.StaticToken("jwt-token"))
	conn := h.open(t, 1)

	written := conn.WaitWritten(t, 2)
	if written[0].Type() != envelope.TypeAuthenticate {
		t.Fatalf("first envelope = %s, want AUTHENTICATE", written[0].Type())
	}
	if tok, _ := written[0].String(envelope.FieldToken); tok != "jwt-token" {
		t.Errorf("AUTHENTICATE token = %q, want jwt-token", tok)
	}
	if written[1].Type() != envelope.TypeGetStatus {
		t.Errorf("second envelope = %s, want GET_STATUS", written[1].Type())
	}

	status := h.recorder.OfType(envelope.TypeConnectionStatus)[0]
	if connected, _ := status.Bool(envelope.FieldConnected); !connected {
		t.Error("CONNECTION_STATUS connected should be true")
	}

	testutil.AssertTrue(t, h.client.IsConnected(), "IsConnected")
	testutil.AssertEqual(t, realtime.StateConnected, h.client.ConnectionState(), "state")
	testutil.AssertEqual(t, 0, h.client.Attempts(), "attempts")
	waitPending(t, h.clock, realtime.DefaultKeepaliveInterval)
}

func TestClient_OpenWithoutTokenSkipsAuthenticate(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)

	conn.WaitWritten(t, 1)
	types := conn.WrittenTypes()
	if len(types) != 1 || types[0] != envelope.TypeGetStatus {
		t.Errorf("written = %v, want [GET_STATUS]", types)
	}
}

func TestClient_KeepaliveSendsPing(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)
	conn.WaitWritten(t, 1)
	waitPending(t, h.clock, realtime.DefaultKeepaliveInterval)

	h.clock.Advance(realtime.DefaultKeepaliveInterval)

	written := conn.WaitWritten(t, 2)
	ping := written[1]
	if ping.Type() != envelope.TypePing {
		t.Fatalf("envelope = %s, want PING", ping.Type())
	}
	ts, ok := ping[envelope.FieldTimestamp].(float64)
	if !ok || int64(ts) != h.clock.Now().UnixMilli() {
		t.Errorf("PING timestamp = %v, want %d", ping[envelope.FieldTimestamp], h.clock.Now().UnixMilli())
	}

	// Rearmed for the next interval.
	waitPending(t, h.clock, realtime.DefaultKeepaliveInterval)
}

func TestClient_ConnectIsNoOpWhileConnectingOrOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.Hold()

	h.client.Connect()
	h.client.Connect()
	h.client.Connect()
	testutil.WaitFor(t, testutil.DefaultWait, func() bool { return h.dialer.Dials() == 1 }, "first dial")
	testutil.AssertEqual(t, realtime.StateConnecting, h.client.ConnectionState(), "state while dialing")
	testutil.AssertFalse(t, h.client.IsConnected(), "IsConnected while dialing")

	h.dialer.Release()
	h.recorder.WaitForStatus(t, domain.MsgConnected, 1)

	h.client.Connect()
	h.client.Connect()
	testutil.AssertEqual(t, 1, h.dialer.Dials(), "dials")
}

func TestClient_BackoffAfterAbnormalClosures(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)

	h.dialer.FailNext(3)
	conn.CloseFromPeer(realtime.CloseAbnormalClosure)
	waitPending(t, h.clock, 1*time.Second)
	testutil.AssertFalse(t, h.client.IsConnected(), "IsConnected after drop")

	// Attempts count when the timer fires, not when it is scheduled.
	testutil.AssertEqual(t, 0, h.client.Attempts(), "attempts before first retry")

	h.clock.Advance(1 * time.Second)
	testutil.WaitFor(t, testutil.DefaultWait, func() bool { return h.dialer.Dials() == 2 }, "first retry")
	waitPending(t, h.clock, 2*time.Second)
	testutil.AssertEqual(t, 1, h.client.Attempts(), "attempts after first retry")

	h.clock.Advance(2 * time.Second)
	testutil.WaitFor(t, testutil.DefaultWait, func() bool { return h.dialer.Dials() == 3 }, "second retry")
	waitPending(t, h.clock, 4*time.Second)

	h.clock.Advance(4 * time.Second)
	testutil.WaitFor(t, testutil.DefaultWait, func() bool { return h.dialer.Dials() == 4 }, "third retry")
	h.recorder.WaitForStatus(t, domain.MsgConnectionLost, 4)

	testutil.AssertEqual(t, 3, h.client.Attempts(), "attempts")
	testutil.AssertEqual(t, 3, countStatus(h.recorder, domain.MsgConnectionError), "error statuses")
	testutil.AssertFalse(t, h.client.ReconnectPending(), "reconnect pending after exhaustion")
	testutil.AssertEqual(t, 0, len(h.clock.Pending()), "pending timers")
	testutil.AssertEqual(t, realtime.StateDisconnected, h.client.ConnectionState(), "state")

	h.clock.Advance(time.Minute)
	testutil.AssertEqual(t, 4, h.dialer.Dials(), "no dial after exhaustion")

	// A manual connect still works.
	h.client.Connect()
	h.recorder.WaitForStatus(t, domain.MsgConnected, 2)
	testutil.AssertEqual(t, 0, h.client.Attempts(), "attempts after manual reconnect")
}

func TestClient_SuccessfulRetryResetsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)

	conn.CloseFromPeer(realtime.CloseAbnormalClosure)
	waitPending(t, h.clock, 1*time.Second)
	h.clock.Advance(1 * time.Second)

	second := h.dialer.WaitConn(t, 2)
	h.recorder.WaitForStatus(t, domain.MsgConnected, 2)
	testutil.AssertEqual(t, 0, h.client.Attempts(), "attempts after reopen")

	// The next drop starts the sequence over at 1s.
	second.CloseFromPeer(realtime.CloseAbnormalClosure)
	waitPending(t, h.clock, 1*time.Second)
}

func TestClient_NormalClosureDoesNotReconnect(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)

	conn.CloseFromPeer(realtime.CloseNormalClosure)
	h.recorder.WaitForStatus(t, domain.MsgConnectionLost, 1)

	testutil.AssertFalse(t, h.client.ReconnectPending(), "reconnect pending")
	testutil.AssertEqual(t, 0, len(h.clock.Pending()), "keepalive should be stopped")
	h.clock.Advance(time.Minute)
	testutil.AssertEqual(t, 1, h.dialer.Dials(), "dials")
}

func TestClient_NormalClosureAfterFailedRetries(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)

	h.dialer.FailNext(1)
	conn.CloseFromPeer(realtime.CloseAbnormalClosure)
	waitPending(t, h.clock, 1*time.Second)
	h.clock.Advance(1 * time.Second)
	waitPending(t, h.clock, 2*time.Second)
	h.clock.Advance(2 * time.Second)

	second := h.dialer.WaitConn(t, 2)
	h.recorder.WaitForStatus(t, domain.MsgConnected, 2)

	second.CloseFromPeer(realtime.CloseNormalClosure)
	h.recorder.WaitForStatus(t, domain.MsgConnectionLost, 3)
	testutil.AssertFalse(t, h.client.ReconnectPending(), "reconnect pending")
}

func TestClient_DisconnectClosesNormally(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)

	h.client.Disconnect()
	h.recorder.WaitForStatus(t, domain.MsgConnectionLost, 1)

	testutil.AssertEqual(t, realtime.CloseNormalClosure, conn.HandshakeCode(), "close code")
	testutil.AssertFalse(t, h.client.IsConnected(), "IsConnected")
	testutil.AssertEqual(t, realtime.StateDisconnected, h.client.ConnectionState(), "state")
	testutil.AssertEqual(t, 0, len(h.clock.Pending()), "pending timers")

	h.clock.Advance(time.Minute)
	testutil.AssertEqual(t, 1, h.dialer.Dials(), "dials")

	// Idempotent.
	h.client.Disconnect()
	h.client.Disconnect()
}

func TestClient_DisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)

	conn.CloseFromPeer(realtime.CloseAbnormalClosure)
	waitPending(t, h.clock, 1*time.Second)

	h.client.Disconnect()
	testutil.AssertFalse(t, h.client.ReconnectPending(), "reconnect pending")
	testutil.AssertEqual(t, 0, len(h.clock.Pending()), "pending timers")

	h.clock.Advance(time.Minute)
	testutil.AssertEqual(t, 1, h.dialer.Dials(), "dials")
}

func TestClient_DisconnectWhileConnecting(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.Hold()

	h.client.Connect()
	testutil.WaitFor(t, testutil.DefaultWait, func() bool { return h.dialer.Dials() == 1 }, "dial")

	h.client.Disconnect()
	h.recorder.WaitForStatus(t, domain.MsgConnectionLost, 1)

	testutil.AssertEqual(t, 0, countStatus(h.recorder, domain.MsgConnectionError), "error statuses")
	testutil.AssertFalse(t, h.client.ReconnectPending(), "reconnect pending")
	testutil.AssertEqual(t, realtime.StateDisconnected, h.client.ConnectionState(), "state")
}

func TestClient_DisconnectBeforeConnect(t *testing.T) {
	h := newHarness(t, nil)

	h.client.Disconnect()

	testutil.AssertEqual(t, realtime.StateDisconnected, h.client.ConnectionState(), "state")
	testutil.AssertEqual(t, 0, h.recorder.Count(), "envelopes")
}

func TestClient_SendsWhileClosedAreDropped(t *testing.T) {
	h := newHarness(t, realtime.StaticToken(""))

	h.client.GetAttendanceStatus()
	h.client.ToggleAttendance()

	h.dialer.Hold()
	h.client.Connect()
	testutil.WaitFor(t, testutil.DefaultWait, func() bool { return h.dialer.Dials() == 1 }, "dial")
	h.client.GetAttendanceStatus()
	h.client.ToggleAttendance()
	h.dialer.Release()

	conn := h.dialer.WaitConn(t, 1)
	h.recorder.WaitForStatus(t, domain.MsgConnected, 1)

	types := conn.WrittenTypes()
	if len(types) != 1 || types[0] != envelope.TypeGetStatus {
		t.Errorf("written = %v, want only the GET_STATUS sent on open", types)
	}
}

func TestClient_ToggleReadsTokenAtCallTime(t *testing.T) {
	var mu sync.Mutex
	token := ""
	provider := realtime.TokenFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		return token
	})

	h := newHarness(t, provider)
	conn := h.open(t, 1)
	conn.WaitWritten(t, 1)

	h.client.ToggleAttendance()
	written := conn.WaitWritten(t, 2)
	if written[1].Type() != envelope.TypeToggleAttendance {
		t.Fatalf("envelope = %s, want TOGGLE_ATTENDANCE", written[1].Type())
	}
	if v, present := written[1][envelope.FieldToken]; !present || v != nil {
		t.Errorf("token = %v, want null", v)
	}

	mu.Lock()
	token = "admin-token"
	mu.Unlock()

	h.client.ToggleAttendance()
	written = conn.WaitWritten(t, 3)
	if tok, _ := written[2].String(envelope.FieldToken); tok != "admin-token" {
		t.Errorf("token = %q, want admin-token", tok)
	}
}

func TestClient_GetAttendanceStatusWhenOpen(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)
	conn.WaitWritten(t, 1)

	h.client.GetAttendanceStatus()

	written := conn.WaitWritten(t, 2)
	testutil.AssertEqual(t, envelope.TypeGetStatus, written[1].Type(), "type")
}

func TestClient_ForwardsServerEnvelopesVerbatim(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)

	conn.DeliverEnvelope(envelope.Envelope{
		"type":      "STATUS",
		"enabled":   true,
		"message":   "Current status",
		"timestamp": 1700000000000,
		"extra":     "kept",
	})

	got := h.recorder.WaitForType(t, envelope.TypeStatus, 1)[0]
	if enabled, _ := got.Bool(envelope.FieldEnabled); !enabled {
		t.Error("enabled should be true")
	}
	if extra, _ := got.String("extra"); extra != "kept" {
		t.Errorf("extra = %q, want kept", extra)
	}
}

func TestClient_MalformedMessagesAreDropped(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, 1)
	before := h.recorder.Count()

	conn.Deliver([]byte("not json"))
	conn.Deliver([]byte("[1,2,3]"))
	conn.Deliver([]byte(`{"type":`))
	conn.DeliverEnvelope(envelope.New(envelope.TypePong))

	h.recorder.WaitForType(t, envelope.TypePong, 1)
	testutil.AssertEqual(t, before+1, h.recorder.Count(), "envelopes delivered")
	testutil.AssertTrue(t, h.client.IsConnected(), "still connected")
}

func TestClient_InvalidEndpointReportsConnectionFailed(t *testing.T) {
	tests := []string{
		"http://attendance.test/ws",
		"://bad",
		"ws://",
	}

	for _, endpoint := range tests {
		t.Run(endpoint, func(t *testing.T) {
			dialer := testutil.NewFakeDialer()
			recorder := testutil.NewRecorder()
			client := realtime.New(realtime.DefaultConfig(endpoint), realtime.WithDialer(dialer))
			client.Subscribe(recorder.Record)

			client.Connect()

			statuses := recorder.Statuses()
			if len(statuses) != 1 || statuses[0] != domain.MsgConnectionFailed {
				t.Errorf("statuses = %v, want [%s]", statuses, domain.MsgConnectionFailed)
			}
			testutil.AssertEqual(t, 0, dialer.Dials(), "dials")
			testutil.AssertEqual(t, realtime.StateDisconnected, client.ConnectionState(), "state")
		})
	}
}

func TestClient_SubscribersInRegistrationOrder(t *testing.T) {
	client := realtime.New(realtime.DefaultConfig("bad"), realtime.WithDialer(testutil.NewFakeDialer()))

	var mu sync.Mutex
	var order []string
	record := func(name string) realtime.Handler {
		return func(envelope.Envelope) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}

	first := record("first")
	client.Subscribe(first)
	client.Subscribe(record("second"))
	client.Subscribe(first)

	client.Connect()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestClient_UnsubscribeStopsDelivery(t *testing.T) {
	client := realtime.New(realtime.DefaultConfig("bad"), realtime.WithDialer(testutil.NewFakeDialer()))

	var kept, removed atomic.Int32
	client.Subscribe(func(envelope.Envelope) { kept.Add(1) })
	unsubscribe := client.Subscribe(func(envelope.Envelope) { removed.Add(1) })

	client.Connect()
	unsubscribe()
	unsubscribe()
	client.Connect()

	testutil.AssertEqual(t, int32(2), kept.Load(), "kept subscriber deliveries")
	testutil.AssertEqual(t, int32(1), removed.Load(), "removed subscriber deliveries")
}

func TestClient_UnsubscribeFromInsideAnotherSubscriber(t *testing.T) {
	client := realtime.New(realtime.DefaultConfig("bad"), realtime.WithDialer(testutil.NewFakeDialer()))

	var victim atomic.Int32
	var unsubscribeVictim func()
	client.Subscribe(func(envelope.Envelope) { unsubscribeVictim() })
	unsubscribeVictim = client.Subscribe(func(envelope.Envelope) { victim.Add(1) })

	client.Connect()
	client.Connect()

	testutil.AssertEqual(t, int32(0), victim.Load(), "victim deliveries")
}

func TestClient_PanickingSubscriberDoesNotStopOthers(t *testing.T) {
	client := realtime.New(realtime.DefaultConfig("bad"), realtime.WithDialer(testutil.NewFakeDialer()))

	var after atomic.Int32
	client.Subscribe(func(envelope.Envelope) { panic("boom") })
	client.Subscribe(func(envelope.Envelope) { after.Add(1) })

	client.Connect()

	testutil.AssertEqual(t, int32(1), after.Load(), "deliveries after panic")
}

func TestClient_SubscriberMayCallClient(t *testing.T) {
	h := newHarness(t, nil)

	states := make(chan realtime.ConnectionState, 4)
	h.client.Subscribe(func(env envelope.Envelope) {
		if env.Type() == envelope.TypeConnectionStatus {
			h.client.GetAttendanceStatus()
			states <- h.client.ConnectionState()
		}
	})

	conn := h.open(t, 1)
	select {
	case s := <-states:
		testutil.AssertEqual(t, realtime.StateConnected, s, "state seen by subscriber")
	case <-time.After(testutil.DefaultWait):
		t.Fatal("subscriber not called")
	}

	// GET_STATUS on open plus the one sent by the subscriber.
	conn.WaitWritten(t, 2)
}

func TestClient_ReconnectCyclesTheConnection(t *testing.T) {
	h := newHarness(t, nil)
	first := h.open(t, 1)

	h.client.Reconnect()
	h.recorder.WaitForStatus(t, domain.MsgConnectionLost, 1)
	testutil.AssertEqual(t, realtime.CloseNormalClosure, first.HandshakeCode(), "close code")
	waitPending(t, h.clock, realtime.DefaultReconnectGrace)

	h.clock.Advance(realtime.DefaultReconnectGrace)
	h.dialer.WaitConn(t, 2)
	h.recorder.WaitForStatus(t, domain.MsgConnected, 2)
}

func TestClient_DisconnectCancelsReconnectGrace(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t, 1)

	h.client.Reconnect()
	h.client.Disconnect()

	h.clock.Advance(time.Minute)
	testutil.AssertEqual(t, 1, h.dialer.Dials(), "dials")
}

func TestClient_ZeroConfigUsesDefaults(t *testing.T) {
	client := realtime.New(realtime.Config{Endpoint: testEndpoint})

	testutil.AssertEqual(t, testEndpoint, client.Endpoint(), "endpoint")
	testutil.AssertEqual(t, realtime.StateDisconnected, client.ConnectionState(), "state")
	testutil.AssertFalse(t, client.IsConnected(), "IsConnected")
}
