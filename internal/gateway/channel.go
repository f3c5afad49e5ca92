package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"

	"github.com/newplayman/orderly-stream/internal/metrics"
)

// Handshaker 在连接打开后生成一帧握手消息（私有通道的 auth）。
type Handshaker interface {
	Handshake() ([]byte, error)
}

// ChannelOptions 通道配置，零值字段使用默认值。
type ChannelOptions struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	Dialer          Dialer
	NewTicker       TickerFactory
	Logger          *zerolog.Logger
	Handshake       Handshaker
	ReplyServerPing bool
	OnStateChange   StateHandler
}

// Channel 管理一条逻辑 ws 连接：生命周期、订阅集合、回调与心跳。
// 订阅集合与回调在重连之间保留，open 时全部重放。
type Channel struct {
	kind Kind
	url  string
	opts ChannelOptions
	log  zerolog.Logger

	mu            sync.Mutex
	state         State
	conn          Conn
	sessionID     string
	subs          map[string][]byte
	order         []string
	callback      MessageHandler
	hb            *heartbeat
	authenticated bool
	lastMessageAt time.Time

	// connectSeq 标识当前拨号尝试，Connect/Disconnect 都会递增；
	// 过期尝试的拨号结果不得改变状态。
	connectSeq uint64
	// 状态迁移按发生顺序入队，由唯一的 flusher 依次回调
	pending  []transition
	flushing bool
}

type heartbeat struct {
	ticker Ticker
	stop   chan struct{}
}

type transition struct {
	from, to State
	err      error
}

// NewChannel 创建通道，不发起连接。
func NewChannel(kind Kind, url string, opts ChannelOptions) *Channel {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = NewGorillaDialer()
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewStdTicker
	}
	base := log.Logger
	if opts.Logger != nil {
		base = *opts.Logger
	}
	c := &Channel{
		kind: kind,
		url:  url,
		opts: opts,
		log:  base.With().Str("channel", string(kind)).Logger(),
		subs: make(map[string][]byte),
	}
	metrics.SetConnectionState(string(kind), int(StateIdle))
	return c
}

// Kind 通道类型
func (c *Channel) Kind() Kind { return c.kind }

// URL 连接地址
func (c *Channel) URL() string { return c.url }

// State 当前状态
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected 是否处于 Open
func (c *Channel) IsConnected() bool {
	return c.State() == StateOpen
}

// Authenticated 是否收到服务端 auth 成功应答（仅私有通道有意义）。
func (c *Channel) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// LastMessageAt 最近一次收到合法帧的时间；open 时重置为打开时刻。
func (c *Channel) LastMessageAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMessageAt
}

// SessionID 当前连接的会话 id，未连接时为空。
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Subscriptions 按加入顺序返回已跟踪订阅帧的副本。
func (c *Channel) Subscriptions() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, append([]byte(nil), c.subs[key]...))
	}
	return out
}

// SetMessageCallback 替换回调（后写覆盖），nil 表示丢弃消息。
func (c *Channel) SetMessageCallback(fn MessageHandler) {
	c.mu.Lock()
	c.callback = fn
	c.mu.Unlock()
}

// Connect 拨号并执行 open 流程：重放订阅 → 握手 → 启动心跳 → 启动读循环。
// 已在 Connecting/Open 时直接返回 nil，不会建立第二条连接。
// 握手失败时连接保持打开（未认证），返回 ErrAuthFailed。
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		state := c.state
		c.mu.Unlock()
		c.log.Debug().Str("state", state.String()).Msg("ws already connecting/open, connect ignored")
		return nil
	}
	c.setStateLocked(StateConnecting, nil)
	c.connectSeq++
	seq := c.connectSeq
	c.mu.Unlock()
	c.flushNotifications()

	c.log.Info().Str("url", c.url).Msg("connecting websocket")
	conn, err := c.opts.Dialer.Dial(ctx, c.url)

	c.mu.Lock()
	current := c.connectSeq == seq && c.state == StateConnecting
	if err != nil {
		if current {
			c.setStateLocked(StateClosed, err)
		}
		c.mu.Unlock()
		metrics.RecordTransportError(string(c.kind))
		c.log.Error().Err(err).Str("url", c.url).Msg("websocket dial failed")
		c.flushNotifications()
		if !current {
			return fmt.Errorf("%w: %w", ErrConnectAborted, err)
		}
		return fmt.Errorf("dial %s websocket: %w", c.kind, err)
	}
	if !current {
		c.mu.Unlock()
		_ = conn.Close()
		c.log.Info().Msg("disconnect requested while dialing, connection dropped")
		return ErrConnectAborted
	}

	c.conn = conn
	c.sessionID = uuid.NewString()
	c.authenticated = false
	c.lastMessageAt = time.Now()
	c.setStateLocked(StateOpen, nil)
	c.log.Info().Str("session", c.sessionID).Msg("websocket connection established")

	c.replayLocked()
	authErr := c.handshakeLocked()
	c.startHeartbeatLocked()
	go c.readLoop(conn, c.sessionID)
	c.mu.Unlock()

	c.flushNotifications()
	return authErr
}

// Disconnect 关闭连接并停止心跳；订阅和回调保留。未连接时为 no-op。
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.connectSeq++
	if c.conn == nil {
		// 拨号中断开：让 Connect 返回时放弃新连接；Closed 归位到 Idle 表示不再需要重连
		if c.state == StateConnecting || c.state == StateClosed {
			c.setStateLocked(StateIdle, nil)
		}
		c.mu.Unlock()
		c.flushNotifications()
		return
	}
	conn := c.conn
	c.stopHeartbeatLocked()
	c.conn = nil
	c.sessionID = ""
	c.authenticated = false
	c.setStateLocked(StateIdle, nil)
	c.mu.Unlock()

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	c.log.Info().Msg("websocket connection disconnected")
	c.flushNotifications()
}

// Subscribe 加入订阅集合；已连接则立即发送（重复调用会重复发送），
// 未连接则仅记录，等下次 open 时重放。
func (c *Channel) Subscribe(sub interface{}) error {
	key, frame, err := encodeSubscription(sub)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[key]; !ok {
		c.order = append(c.order, key)
	}
	c.subs[key] = frame
	metrics.SetSubscriptions(string(c.kind), len(c.order))

	if err := c.writeLocked(frameSubscribe, frame); err != nil {
		if errors.Is(err, ErrNotConnected) {
			c.log.Warn().RawJSON("subscription", frame).Msg("websocket not open, subscription queued for next open")
			return nil
		}
		c.log.Error().Err(err).RawJSON("subscription", frame).Msg("send subscription failed")
		return err
	}
	return nil
}

// Unsubscribe 只从本地集合移除，不向服务端发送退订帧；
// 服务端的订阅在连接断开前仍然有效。
func (c *Channel) Unsubscribe(sub interface{}) error {
	key, _, err := encodeSubscription(sub)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[key]; !ok {
		return nil
	}
	delete(c.subs, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	metrics.SetSubscriptions(string(c.kind), len(c.order))
	c.log.Debug().Str("subscription", key).Msg("subscription removed locally")
	return nil
}

func (c *Channel) replayLocked() {
	for _, key := range c.order {
		if err := c.writeLocked(frameSubscribe, c.subs[key]); err != nil {
			c.log.Warn().Err(err).Str("subscription", key).Msg("replay subscription failed")
		}
	}
}

func (c *Channel) handshakeLocked() error {
	if c.opts.Handshake == nil {
		return nil
	}
	frame, err := c.opts.Handshake.Handshake()
	if err != nil {
		metrics.RecordAuth("sign_error")
		c.log.Error().Err(err).Msg("build auth frame failed, channel stays unauthenticated")
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if err := c.writeLocked(frameAuth, frame); err != nil {
		c.log.Error().Err(err).Msg("send auth frame failed")
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	metrics.RecordAuth("sent")
	return nil
}

// writeLocked 需持有 c.mu。
func (c *Channel) writeLocked(frameType string, frame []byte) error {
	if c.state != StateOpen || c.conn == nil {
		metrics.RecordSendSkipped(string(c.kind), frameType)
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		metrics.RecordTransportError(string(c.kind))
		return fmt.Errorf("write %s frame: %w", frameType, err)
	}
	metrics.RecordFrameSent(string(c.kind), frameType)
	c.log.Debug().Str("type", frameType).RawJSON("frame", frame).Msg("sent")
	return nil
}

// startHeartbeatLocked 先取消旧定时器，保证同一时刻只有一个心跳循环。
func (c *Channel) startHeartbeatLocked() {
	c.stopHeartbeatLocked()
	hb := &heartbeat{
		ticker: c.opts.NewTicker(c.opts.PingInterval),
		stop:   make(chan struct{}),
	}
	c.hb = hb
	go c.heartbeatLoop(hb)
}

func (c *Channel) stopHeartbeatLocked() {
	if c.hb == nil {
		return
	}
	c.hb.ticker.Stop()
	close(c.hb.stop)
	c.hb = nil
	c.log.Debug().Msg("stopped heartbeat")
}

func (c *Channel) heartbeatLoop(hb *heartbeat) {
	for {
		select {
		case <-hb.stop:
			return
		case <-hb.ticker.C():
			c.tick(hb)
		}
	}
}

func (c *Channel) tick(hb *heartbeat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// 停止后到达的 tick 直接丢弃
	if c.hb != hb {
		return
	}
	if err := c.writeLocked(frameHeartbeat, heartbeatFrame); err != nil {
		if errors.Is(err, ErrNotConnected) {
			c.log.Warn().Msg("websocket not open, heartbeat not sent")
			return
		}
		c.log.Warn().Err(err).Msg("heartbeat send failed")
	}
}

func (c *Channel) readLoop(conn Conn, session string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(conn, session, data)
	}
}

// dispatch 解析单帧并交给回调；解析失败只丢弃该帧。
func (c *Channel) dispatch(conn Conn, session string, data []byte) {
	receivedAt := time.Now()
	metrics.RecordFrameReceived(string(c.kind), len(data))

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		metrics.RecordParseError(string(c.kind))
		c.log.Warn().Err(err).Int("size", len(data)).Msg("drop malformed frame")
		return
	}
	msg := Message{
		Channel:    c.kind,
		SessionID:  session,
		Raw:        json.RawMessage(data),
		Value:      value,
		ReceivedAt: receivedAt,
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.lastMessageAt = receivedAt
	switch msg.Event() {
	case "ping":
		if c.opts.ReplyServerPing {
			if err := c.writeLocked(framePongReply, heartbeatFrame); err != nil {
				c.log.Warn().Err(err).Msg("reply server ping failed")
			}
		}
	case "auth":
		if c.opts.Handshake != nil {
			c.handleAuthAckLocked(data)
		}
	}
	cb := c.callback
	c.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}

func (c *Channel) handleAuthAckLocked(data []byte) {
	var ack authAck
	if err := json.Unmarshal(data, &ack); err != nil || ack.Success == nil {
		return
	}
	if *ack.Success {
		c.authenticated = true
		metrics.RecordAuth("ack_ok")
		c.log.Info().Msg("private channel authenticated")
		return
	}
	c.authenticated = false
	metrics.RecordAuth("ack_failed")
	c.log.Error().Str("error", ack.ErrorMessage).Msg("private channel auth rejected")
}

// handleClose 处理读失败：停心跳、释放连接、进入 Closed；不自动重连。
func (c *Channel) handleClose(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// 主动 Disconnect 或已被替换
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.conn = nil
	c.sessionID = ""
	c.authenticated = false
	c.setStateLocked(StateClosed, err)
	c.mu.Unlock()

	_ = conn.Close()
	if isNormalClose(err) {
		c.log.Info().Err(err).Msg("websocket connection closed")
	} else {
		metrics.RecordTransportError(string(c.kind))
		c.log.Error().Err(err).Msg("websocket connection error")
	}
	c.flushNotifications()
}

// setStateLocked 需持有 c.mu；实际发生变化时把迁移排入回调队列。
func (c *Channel) setStateLocked(to State, err error) {
	from := c.state
	c.state = to
	metrics.SetConnectionState(string(c.kind), int(to))
	if from != to && c.opts.OnStateChange != nil {
		c.pending = append(c.pending, transition{from: from, to: to, err: err})
	}
}

// flushNotifications 不持锁调用，按入队顺序回调状态迁移。
// 同一时刻只有一个 goroutine 在投递；其他调用方入队后直接返回，
// 回调里再次操作通道产生的迁移也由当前 flusher 继续投递。
func (c *Channel) flushNotifications() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.pending) > 0 {
		tr := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.opts.OnStateChange(c.kind, tr.from, tr.to, tr.err)
		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}
