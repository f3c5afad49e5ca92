package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/newplayman/orderly-stream/internal/signer"
)

// Manager 组合公共/私有两条通道，对外提供统一 API。
// 两条通道之间除只读配置外不共享状态。
type Manager struct {
	cfg     ConnectionConfig
	public  *Channel
	private *Channel
}

type managerOptions struct {
	dialer          Dialer
	newTicker       TickerFactory
	logger          *zerolog.Logger
	provider        CredentialProvider
	replyServerPing bool
	writeTimeout    time.Duration
	onStateChange   StateHandler
}

// Option 配置 Manager。
type Option func(*managerOptions)

// WithDialer 替换拨号器（测试注入内存连接）。
func WithDialer(d Dialer) Option {
	return func(o *managerOptions) { o.dialer = d }
}

// WithTickerFactory 替换心跳定时器。
func WithTickerFactory(f TickerFactory) Option {
	return func(o *managerOptions) { o.newTicker = f }
}

// WithLogger 指定日志。
func WithLogger(l zerolog.Logger) Option {
	return func(o *managerOptions) { o.logger = &l }
}

// WithCredentialProvider 替换凭证提供者，默认 ed25519。
func WithCredentialProvider(p CredentialProvider) Option {
	return func(o *managerOptions) { o.provider = p }
}

// WithServerPingReply 是否应答服务端 {"event":"ping"}，默认开启。
func WithServerPingReply(enabled bool) Option {
	return func(o *managerOptions) { o.replyServerPing = enabled }
}

// WithWriteTimeout 单帧写超时。
func WithWriteTimeout(d time.Duration) Option {
	return func(o *managerOptions) { o.writeTimeout = d }
}

// WithStateHandler 订阅两条通道的状态迁移（supervisor 用）。
func WithStateHandler(h StateHandler) Option {
	return func(o *managerOptions) { o.onStateChange = h }
}

// NewManager 校验配置并创建两条通道，不发起连接。
func NewManager(cfg ConnectionConfig, opts ...Option) (*Manager, error) {
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	o := managerOptions{
		provider:        signer.Provider{},
		replyServerPing: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	base := ChannelOptions{
		PingInterval:    cfg.PingInterval,
		WriteTimeout:    o.writeTimeout,
		Dialer:          o.dialer,
		NewTicker:       o.newTicker,
		Logger:          o.logger,
		ReplyServerPing: o.replyServerPing,
		OnStateChange:   o.onStateChange,
	}
	privateOpts := base
	privateOpts.Handshake = NewOrderlyAuth(o.provider, cfg)

	return &Manager{
		cfg:     cfg,
		public:  NewChannel(KindPublic, cfg.PublicURL, base),
		private: NewChannel(KindPrivate, cfg.PrivateURL, privateOpts),
	}, nil
}

// Config 返回只读配置副本。
func (m *Manager) Config() ConnectionConfig { return m.cfg }

// Public 公共通道
func (m *Manager) Public() *Channel { return m.public }

// Private 私有通道
func (m *Manager) Private() *Channel { return m.private }

// Channel 按类型取通道。
func (m *Manager) Channel(kind Kind) (*Channel, error) {
	switch kind {
	case KindPublic:
		return m.public, nil
	case KindPrivate:
		return m.private, nil
	default:
		return nil, ErrChannelNotExists
	}
}

// Connect 连接公共通道。
func (m *Manager) Connect(ctx context.Context) error { return m.public.Connect(ctx) }

// Disconnect 断开公共通道。
func (m *Manager) Disconnect() { m.public.Disconnect() }

// ConnectPrivate 连接私有通道并发送 auth。
func (m *Manager) ConnectPrivate(ctx context.Context) error { return m.private.Connect(ctx) }

// DisconnectPrivate 断开私有通道。
func (m *Manager) DisconnectPrivate() { m.private.Disconnect() }

// Subscribe 公共订阅。
func (m *Manager) Subscribe(sub interface{}) error { return m.public.Subscribe(sub) }

// Unsubscribe 公共退订（仅本地）。
func (m *Manager) Unsubscribe(sub interface{}) error { return m.public.Unsubscribe(sub) }

// SubscribePrivate 私有订阅。
func (m *Manager) SubscribePrivate(sub interface{}) error { return m.private.Subscribe(sub) }

// UnsubscribePrivate 私有退订（仅本地）。
func (m *Manager) UnsubscribePrivate(sub interface{}) error { return m.private.Unsubscribe(sub) }

// SetMessageCallback 公共通道回调。
func (m *Manager) SetMessageCallback(fn MessageHandler) { m.public.SetMessageCallback(fn) }

// SetPrivateMessageCallback 私有通道回调。
func (m *Manager) SetPrivateMessageCallback(fn MessageHandler) { m.private.SetMessageCallback(fn) }

// Close 断开两条通道。
func (m *Manager) Close() {
	m.public.Disconnect()
	m.private.Disconnect()
}
