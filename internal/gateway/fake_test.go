package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/newplayman/orderly-stream/internal/signer"
)

// fakeConn 内存连接：记录客户端写出的文本帧，测试通过 push 模拟服务端推送。
type fakeConn struct {
	mu      sync.Mutex
	writes  []string
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
	readErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		f.mu.Lock()
		err := f.readErr
		f.mu.Unlock()
		if err == nil {
			err = &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return 0, nil, err
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed network connection")
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	f.writes = append(f.writes, string(data))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(frame string) {
	f.inbound <- []byte(frame)
}

// serverDrop 模拟服务端断开或网络错误。
func (f *fakeConn) serverDrop(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
	f.Close()
}

func (f *fakeConn) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	gate  chan struct{} // 非 nil 时 Dial 阻塞直到关闭
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// manualTicker 由测试手动触发 tick。
type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *manualTicker) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *manualTicker) fire() {
	select {
	case m.ch <- time.Now():
	default:
	}
}

type tickerFactory struct {
	mu        sync.Mutex
	tickers   []*manualTicker
	intervals []time.Duration
}

func (f *tickerFactory) New(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time, 16)}
	f.tickers = append(f.tickers, t)
	f.intervals = append(f.intervals, d)
	return t
}

func (f *tickerFactory) last() *manualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tickers) == 0 {
		return nil
	}
	return f.tickers[len(f.tickers)-1]
}

func (f *tickerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// fakeProvider 返回固定签名，或固定错误。
type fakeProvider struct {
	err error
}

type fixedSigner struct{}

func (fixedSigner) Sign(msg []byte) (string, error) { return "sig-" + string(msg), nil }

func (p fakeProvider) DeriveKeyPair(string) (signer.Signer, error) {
	if p.err != nil {
		return nil, p.err
	}
	return fixedSigner{}, nil
}

type stateRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *stateRecorder) handle(kind Kind, from, to State, err error) {
	r.mu.Lock()
	r.events = append(r.events, string(kind)+":"+from.String()+"->"+to.String())
	r.mu.Unlock()
}

func (r *stateRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type messageSink struct {
	mu   sync.Mutex
	msgs []Message
}

func (s *messageSink) handle(msg Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *messageSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *messageSink) all() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

var quietLogger = zerolog.Nop()

func newTestChannel(kind Kind, d *fakeDialer, tf *tickerFactory, hs Handshaker) *Channel {
	return NewChannel(kind, "ws://fake/"+string(kind), ChannelOptions{
		PingInterval:    time.Second,
		Dialer:          d,
		NewTicker:       tf.New,
		Logger:          &quietLogger,
		Handshake:       hs,
		ReplyServerPing: true,
	})
}

// dialStep 控制 stepDialer 的一次拨号：release 关闭后返回 conn 或 err。
type dialStep struct {
	release chan struct{}
	conn    *fakeConn
	err     error
}

// stepDialer 第 n 次 Dial 使用 steps[n]，用于构造交错的拨号时序。
type stepDialer struct {
	mu    sync.Mutex
	steps []*dialStep
	calls int
}

func newStepDialer(n int) *stepDialer {
	d := &stepDialer{}
	for i := 0; i < n; i++ {
		d.steps = append(d.steps, &dialStep{release: make(chan struct{}), conn: newFakeConn()})
	}
	return d
}

func (d *stepDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	step := d.steps[d.calls]
	d.calls++
	d.mu.Unlock()

	select {
	case <-step.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if step.err != nil {
		return nil, step.err
	}
	return step.conn, nil
}

func (d *stepDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
