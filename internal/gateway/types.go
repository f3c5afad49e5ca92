package gateway

import (
	"errors"
	"time"

	"github.com/segmentio/encoding/json"
)

// Kind 标识通道类型。
type Kind string

const (
	KindPublic  Kind = "public"
	KindPrivate Kind = "private"
)

// State 通道状态机
// Idle: 从未连接或已主动断开; Connecting: 拨号中; Open: 已连接; Closed: 传输层关闭/出错
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message 是一条已解析的入站帧。
type Message struct {
	Channel    Kind
	SessionID  string          // 本次连接的会话 id（每次 open 重新生成）
	Raw        json.RawMessage // 原始帧
	Value      interface{}     // json 解析结果，原样交给回调
	ReceivedAt time.Time
}

// Event 返回对象帧中的 "event" 字段，非对象或缺失时为空。
func (m Message) Event() string {
	return m.field("event")
}

// Topic 返回对象帧中的 "topic" 字段。
func (m Message) Topic() string {
	return m.field("topic")
}

func (m Message) field(name string) string {
	obj, ok := m.Value.(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := obj[name].(string)
	return s
}

// MessageHandler 入站消息回调。
type MessageHandler func(msg Message)

// StateHandler 在状态迁移后被调用（不持锁）。
type StateHandler func(kind Kind, from, to State, err error)

// Common errors
var (
	ErrNotConnected        = errors.New("websocket not connected")
	ErrAuthFailed          = errors.New("private channel auth handshake failed")
	ErrInvalidConfig       = errors.New("invalid connection config")
	ErrUnknownNetwork      = errors.New("unknown network id")
	ErrConnectAborted      = errors.New("connect aborted by disconnect")
	ErrNilSubscription     = errors.New("subscription is nil")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrNoCredentials       = errors.New("credential provider not set")
	ErrChannelNotExists    = errors.New("channel kind not supported")
)
