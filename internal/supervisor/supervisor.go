package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/newplayman/orderly-stream/internal/gateway"
	"github.com/newplayman/orderly-stream/internal/metrics"
)

// Target 被监管的通道，*gateway.Channel 直接满足。
type Target interface {
	Kind() gateway.Kind
	State() gateway.State
	Connect(ctx context.Context) error
	Disconnect()
}

// Config 重连配置
type Config struct {
	InitialInterval time.Duration // 初始重连延迟
	MaxInterval     time.Duration // 最大重连延迟
	Multiplier      float64       // 退避系数
	MaxElapsedTime  time.Duration // 放弃前的总时长（0=无限）
	Logger          *zerolog.Logger
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// Stats 重连统计
type Stats struct {
	Reconnecting    bool
	TotalReconnects int
	FailedAttempts  int
	LastConnectTime time.Time
	LastError       string
}

var errUserDisconnected = errors.New("channel disconnected by caller")

// Supervisor 在通道进入 Closed 后按指数退避重连。
// 调用方主动 Disconnect（Idle）不会触发重连。
type Supervisor struct {
	target Target
	cfg    Config
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool
	stats   Stats
}

// New 创建监管器；需要把 Notify 接到通道的状态回调上。
func New(target Target, cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = def.MaxInterval
		if cfg.MaxInterval < cfg.InitialInterval {
			cfg.MaxInterval = cfg.InitialInterval
		}
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		target: target,
		cfg:    cfg,
		log:    base.With().Str("component", "supervisor").Str("channel", string(target.Kind())).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Notify 接收状态迁移，签名与 gateway.StateHandler 一致。
func (s *Supervisor) Notify(kind gateway.Kind, from, to gateway.State, err error) {
	if kind != s.target.Kind() || to != gateway.StateClosed {
		return
	}
	if !s.begin() {
		return
	}
	s.log.Warn().Err(err).Str("from", from.String()).Msg("连接断开，启动重连")
	go func() {
		defer s.finish()
		s.retry()
	}()
}

// TriggerReconnect 主动断开并重连（看门狗使用），重连进行中时忽略。
func (s *Supervisor) TriggerReconnect(reason string) bool {
	if !s.begin() {
		return false
	}
	s.log.Warn().Str("reason", reason).Msg("触发手动重连")
	go func() {
		defer s.finish()
		s.target.Disconnect()
		if err := s.attempt(); err != nil {
			s.retry()
		}
	}()
	return true
}

// Stats 获取统计信息
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Reconnecting = s.running
	return st
}

// Stop 取消进行中的重连并等待退出。
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return false
	}
	s.running = true
	s.wg.Add(1)
	return true
}

// finish 退出前再检查一次：重连成功后立刻又断开时，Closed 通知可能被 running 吞掉。
func (s *Supervisor) finish() {
	s.mu.Lock()
	s.running = false
	restart := !s.stopped && s.target.State() == gateway.StateClosed && s.ctx.Err() == nil
	if restart {
		s.running = true
		s.wg.Add(1)
	}
	s.mu.Unlock()
	s.wg.Done()

	if restart {
		go func() {
			defer s.finish()
			s.retry()
		}()
	}
}

func (s *Supervisor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval
	b.Multiplier = s.cfg.Multiplier
	b.MaxElapsedTime = s.cfg.MaxElapsedTime
	b.Reset()
	return backoff.WithContext(b, s.ctx)
}

func (s *Supervisor) retry() {
	op := func() error {
		switch s.target.State() {
		case gateway.StateIdle:
			return backoff.Permanent(errUserDisconnected)
		case gateway.StateOpen, gateway.StateConnecting:
			return nil
		}
		err := s.attempt()
		if errors.Is(err, gateway.ErrConnectAborted) {
			return backoff.Permanent(errUserDisconnected)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("重连失败，等待重试")
	}

	err := backoff.RetryNotify(op, s.newBackOff(), notify)
	switch {
	case err == nil:
	case errors.Is(err, errUserDisconnected):
		metrics.RecordReconnect(string(s.target.Kind()), "cancelled")
		s.log.Info().Msg("通道已被主动断开，停止重连")
	case s.ctx.Err() != nil:
		metrics.RecordReconnect(string(s.target.Kind()), "cancelled")
	default:
		metrics.RecordReconnect(string(s.target.Kind()), "gave_up")
		s.log.Error().Err(err).Dur("max_elapsed", s.cfg.MaxElapsedTime).Msg("重连超时，放弃")
	}
}

// attempt 单次连接；auth 失败时连接已打开，按成功处理。
func (s *Supervisor) attempt() error {
	err := s.target.Connect(s.ctx)
	if err != nil && !errors.Is(err, gateway.ErrAuthFailed) {
		s.mu.Lock()
		s.stats.FailedAttempts++
		s.stats.LastError = err.Error()
		s.mu.Unlock()
		metrics.RecordReconnect(string(s.target.Kind()), "failed")
		return err
	}
	if err != nil {
		s.log.Error().Err(err).Msg("重连成功但认证失败")
	}

	s.mu.Lock()
	s.stats.TotalReconnects++
	s.stats.LastConnectTime = time.Now()
	total := s.stats.TotalReconnects
	s.mu.Unlock()
	metrics.RecordReconnect(string(s.target.Kind()), "success")
	s.log.Info().Int("total_reconnects", total).Msg("重连成功")
	return nil
}
