package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 是单条 ws 连接的抽象，*websocket.Conn 直接满足。
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer 负责建立连接。
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Ticker 心跳定时器抽象，便于测试注入手动时钟。
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory 创建 Ticker。
type TickerFactory func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker 使用 time.Ticker。
func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// GorillaDialer 基于 gorilla/websocket 的默认拨号器。
type GorillaDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewGorillaDialer 默认 10s 握手超时。
func NewGorillaDialer() *GorillaDialer {
	return &GorillaDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial 建立连接，握手失败时把服务端返回体带进错误。
func (g *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d := g.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, resp, err := d.DialContext(ctx, url, g.Header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("ws handshake failed: %s - %s: %w", resp.Status, strings.TrimSpace(string(body)), err)
		}
		return nil, err
	}
	return conn, nil
}

// isNormalClose 判断是否为正常关闭（本端主动断开或服务端 1000/1001）。
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
