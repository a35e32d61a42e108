package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// --- fakes ---

type fakeTimer struct {
	mu      sync.Mutex
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// Advance moves the clock and fires due, unstopped timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.mu.Lock()
		run := !t.stopped && !t.fired
		t.fired = true
		t.mu.Unlock()
		if run {
			t.fn()
		}
	}
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.delays))
	copy(out, c.delays)
	return out
}

type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
	sentMu  sync.Mutex
	sent    [][]byte
	pings   atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.sentMu.Lock()
	c.sent = append(c.sent, data)
	c.sentMu.Unlock()
	return nil
}

func (c *fakeConn) Ping(time.Time) error {
	c.pings.Add(1)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer fails until succeedAfter dials have happened.
type fakeDialer struct {
	mu           sync.Mutex
	dials        int
	succeedAfter int
	conns        []*fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.succeedAfter {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", what)
}

func testOptions() Options {
	return Options{
		URL:                   "ws://feed.test/messages",
		MaxReconnectAttempts:  5,
		BaseDelay:             1000 * time.Millisecond,
		MaxDelay:              30 * time.Second,
		MinConnectionInterval: 5 * time.Second,
	}
}

// --- tests ---

func TestNextDelaySequence(t *testing.T) {
	base := 2 * time.Second
	max := 30 * time.Second

	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := NextDelay(attempt, base, max)
		if d < prev {
			t.Fatalf("延迟序列应单调不减: attempt %d -> %s < %s", attempt, d, prev)
		}
		if d > max {
			t.Fatalf("延迟不应超过上限: %s", d)
		}
		prev = d
	}

	if d := NextDelay(50, base, max); d != max {
		t.Fatalf("大 attempt 应封顶于 maxDelay, 实际 %s", d)
	}
}

func TestNextDelayConcreteValues(t *testing.T) {
	base := 1000 * time.Millisecond
	max := 30 * time.Second

	want := []time.Duration{1000 * time.Millisecond, 1500 * time.Millisecond, 2250 * time.Millisecond}
	for i, w := range want {
		if d := NextDelay(i+1, base, max); d != w {
			t.Fatalf("attempt %d: 期望 %s, 实际 %s", i+1, w, d)
		}
	}
}

func TestReconnectBackoffScheduleAndReset(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{succeedAfter: 3}
	m := NewManager(testOptions(), dialer, clock, zerolog.Nop())

	var opened atomic.Bool
	m.SubscribeStatus(func(st Status) {
		if st.Connected {
			opened.Store(true)
		}
	})

	m.Enable()
	waitFor(t, "第一次拨号失败并排定重试", func() bool { return len(clock.Delays()) >= 1 })

	clock.Advance(time.Second)
	waitFor(t, "第二次重试排定", func() bool { return len(clock.Delays()) >= 2 })

	clock.Advance(2 * time.Second)
	waitFor(t, "第三次重试排定", func() bool { return len(clock.Delays()) >= 3 })

	delays := clock.Delays()
	want := []time.Duration{1000 * time.Millisecond, 1500 * time.Millisecond, 2250 * time.Millisecond}
	for i, w := range want {
		if delays[i] != w {
			t.Fatalf("第 %d 次重试延迟应为 %s, 实际 %s", i+1, w, delays[i])
		}
	}

	// 第四次拨号成功, attempt 归零。
	clock.Advance(3 * time.Second)
	waitFor(t, "连接建立", func() bool { return opened.Load() && m.State() == StateOpen })

	// 异常断开后重新按 baseDelay 起步。
	dialer.lastConn().Close()
	waitFor(t, "断开后重新排定", func() bool { return len(clock.Delays()) >= 4 })
	if d := clock.Delays()[3]; d != 1000*time.Millisecond {
		t.Fatalf("成功打开后 attempt 应归零, 重试延迟应回到 baseDelay, 实际 %s", d)
	}
}

func TestTerminalAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{succeedAfter: 1 << 30} // always fail
	opts := testOptions()
	opts.MaxReconnectAttempts = 3
	m := NewManager(opts, dialer, clock, zerolog.Nop())

	var terminal atomic.Int32
	m.SubscribeStatus(func(st Status) {
		if st.Terminal {
			terminal.Add(1)
		}
	})

	m.Enable()
	for i := 0; i < 3; i++ {
		waitFor(t, "重试排定", func() bool { return len(clock.Delays()) >= i+1 })
		clock.Advance(time.Minute)
	}

	waitFor(t, "终止事件", func() bool { return terminal.Load() == 1 })

	// 预算耗尽后不再自动重试。
	before := len(clock.Delays())
	clock.Advance(10 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := len(clock.Delays()); got != before {
		t.Fatalf("终止后不应再排定重试: %d -> %d", before, got)
	}
	if dialer.dialCount() != 4 {
		t.Fatalf("应恰好拨号 4 次 (首次 + 3 次重试), 实际 %d", dialer.dialCount())
	}

	// 手动重新 Enable 重置预算。
	m.Enable()
	waitFor(t, "重新拨号", func() bool { return dialer.dialCount() == 5 })
}

func TestDisableCancelsPendingReconnect(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{succeedAfter: 1 << 30}
	m := NewManager(testOptions(), dialer, clock, zerolog.Nop())

	m.Enable()
	waitFor(t, "首次失败后排定重试", func() bool { return len(clock.Delays()) >= 1 })

	m.Disable()
	if m.State() != StateDisabled {
		t.Fatalf("Disable 后状态应为 disabled, 实际 %s", m.State())
	}

	dials := dialer.dialCount()
	clock.Advance(time.Hour) // 即使定时器到期也不应重连
	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != dials {
		t.Fatal("Disable 后不应再有重连尝试")
	}
}

func TestMinConnectionIntervalSuppressesCallerThrash(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{succeedAfter: 1 << 30}
	m := NewManager(testOptions(), dialer, clock, zerolog.Nop())

	m.Enable()
	waitFor(t, "首次拨号", func() bool { return dialer.dialCount() == 1 })

	// 5 秒窗口内的手动 Connect 不应触发新的拨号。
	m.Connect()
	m.Connect()
	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Fatalf("最小连接间隔内的 Connect 应被抑制, 拨号 %d 次", dialer.dialCount())
	}
}

func TestSendWhenNotOpen(t *testing.T) {
	m := NewManager(testOptions(), &fakeDialer{}, newFakeClock(), zerolog.Nop())

	if err := m.Send([]byte(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("未连接时 Send 应返回 ErrNotConnected, 实际 %v", err)
	}
}

func TestStatusSubscriberInitialSync(t *testing.T) {
	m := NewManager(testOptions(), &fakeDialer{}, newFakeClock(), zerolog.Nop())

	called := false
	m.SubscribeStatus(func(st Status) {
		called = true
		if st.Connected {
			t.Fatal("初始状态应为未连接")
		}
	})
	if !called {
		t.Fatal("新订阅者应被同步调用一次")
	}
}

func TestFramesDeliveredInOrder(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	m := NewManager(testOptions(), dialer, clock, zerolog.Nop())

	var mu sync.Mutex
	var got []string
	m.SubscribeFrames(func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	})

	m.Enable()
	waitFor(t, "连接建立", func() bool { return m.State() == StateOpen })

	conn := dialer.lastConn()
	conn.inbound <- []byte("a")
	conn.inbound <- []byte("b")
	conn.inbound <- []byte("c")

	waitFor(t, "帧到达", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("单连接内帧应按到达顺序投递: %v", got)
	}
}

func TestReconnectAfterDisconnectThenConnect(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	m := NewManager(testOptions(), dialer, clock, zerolog.Nop())

	m.Enable()
	waitFor(t, "连接建立", func() bool { return m.State() == StateOpen })

	m.Disconnect()
	waitFor(t, "回到 idle", func() bool { return m.State() == StateIdle })

	// 跨过最小连接间隔后手动重连。
	clock.Advance(6 * time.Second)
	m.Connect()
	waitFor(t, "重新连接建立", func() bool { return m.State() == StateOpen && dialer.dialCount() == 2 })

	// 新会话的异常断开必须重新排定重连, 不受此前 Disconnect 影响。
	dialer.lastConn().Close()
	waitFor(t, "异常断开后排定重连", func() bool { return len(clock.Delays()) >= 1 })
}

func TestKeepalivePingFollowsInterval(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	opts := testOptions()
	opts.PingInterval = 30 * time.Second
	m := NewManager(opts, dialer, clock, zerolog.Nop())

	m.Enable()
	waitFor(t, "连接建立", func() bool { return m.State() == StateOpen })
	conn := dialer.lastConn()
	waitFor(t, "ping 定时器排定", func() bool { return len(clock.Delays()) == 1 })

	clock.Advance(30 * time.Second)
	waitFor(t, "首次 ping", func() bool { return conn.pings.Load() == 1 })
	waitFor(t, "下一次 ping 排定", func() bool { return len(clock.Delays()) == 2 })

	clock.Advance(30 * time.Second)
	waitFor(t, "第二次 ping", func() bool { return conn.pings.Load() == 2 })

	m.Disable()
	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if conn.pings.Load() != 2 {
		t.Fatalf("Disable 后不应继续 ping, 实际 %d 次", conn.pings.Load())
	}
}

func TestDisconnectDoesNotReconnect(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	m := NewManager(testOptions(), dialer, clock, zerolog.Nop())

	m.Enable()
	waitFor(t, "连接建立", func() bool { return m.State() == StateOpen })

	m.Disconnect()
	waitFor(t, "回到 idle", func() bool { return m.State() == StateIdle })

	clock.Advance(time.Hour)
	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Fatalf("主动断开后不应自动重连, 拨号 %d 次", dialer.dialCount())
	}
}

// TestManagerOverWebSocket exercises the gorilla transport end to end.
func TestManagerOverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"ticker":"AAPL"}`))
		// Echo one client frame back before closing.
		if _, data, err := conn.ReadMessage(); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	opts := testOptions()
	opts.URL = url
	m := NewWebSocketManager(opts, zerolog.Nop())
	defer m.Disable()

	var mu sync.Mutex
	var frames []string
	m.SubscribeFrames(func(data []byte) {
		mu.Lock()
		frames = append(frames, string(data))
		mu.Unlock()
	})

	m.Enable()
	waitFor(t, "websocket 连接建立", func() bool { return m.State() == StateOpen })

	if err := m.Send([]byte(`{"hello":"server"}`)); err != nil {
		t.Fatalf("Open 状态下 Send 应成功: %v", err)
	}

	waitFor(t, "收到两帧", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2
	})
}
