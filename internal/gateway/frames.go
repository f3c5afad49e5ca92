package gateway

import (
	"github.com/segmentio/encoding/json"
)

// 出站帧类型，用于日志与指标标签。
const (
	frameSubscribe = "subscribe"
	frameAuth      = "auth"
	frameHeartbeat = "heartbeat"
	framePongReply = "pong_reply"
)

// AuthRequestID 是 auth 帧固定的请求标记。
const AuthRequestID = "123r"

// heartbeatFrame 客户端心跳；事件名就是 "pong"。
var heartbeatFrame = []byte(`{"event":"pong"}`)

// TopicSubscription 标准 Orderly 订阅帧。
type TopicSubscription struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Topic string `json:"topic"`
}

// NewTopicSubscription 构造 subscribe 帧，id 为空时用 topic 代替。
func NewTopicSubscription(id, topic string) TopicSubscription {
	if id == "" {
		id = topic
	}
	return TopicSubscription{ID: id, Event: "subscribe", Topic: topic}
}

type authParams struct {
	OrderlyKey string `json:"orderly_key"`
	Sign       string `json:"sign"`
	Timestamp  string `json:"timestamp"`
}

type authFrame struct {
	ID     string     `json:"id"`
	Event  string     `json:"event"`
	Params authParams `json:"params"`
}

// authAck 服务端对 auth 的应答。
type authAck struct {
	Event        string `json:"event"`
	Success      *bool  `json:"success"`
	ErrorMessage string `json:"errorMsg"`
}

// encodeSubscription 返回订阅的集合身份与要发送的帧。
// 帧按调用方给的内容原样发送；身份取规范化 JSON（map key 排序），
// 所以 key 顺序不同但内容相同的订阅视为同一个。
func encodeSubscription(sub interface{}) (key string, frame []byte, err error) {
	switch v := sub.(type) {
	case nil:
		return "", nil, ErrNilSubscription
	case json.RawMessage:
		frame = append([]byte(nil), v...)
	case []byte:
		frame = append([]byte(nil), v...)
	default:
		frame, err = json.Marshal(sub)
		if err != nil {
			return "", nil, err
		}
	}

	var normalized interface{}
	if err := json.Unmarshal(frame, &normalized); err != nil {
		return "", nil, err
	}
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return "", nil, err
	}
	return string(canonical), frame, nil
}
