package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/orderly-stream/internal/gateway"
	"github.com/newplayman/orderly-stream/internal/metrics"
)

// Target 被巡检的通道，*gateway.Channel 直接满足。
type Target interface {
	Kind() gateway.Kind
	State() gateway.State
	LastMessageAt() time.Time
}

// Hooks 检测到停滞后的自恢复动作
type Hooks interface {
	ForceReconnect(kind gateway.Kind, reason string)
}

// HookFunc 把普通函数适配为 Hooks。
type HookFunc func(kind gateway.Kind, reason string)

// ForceReconnect 实现 Hooks
func (f HookFunc) ForceReconnect(kind gateway.Kind, reason string) { f(kind, reason) }

// Config 看门狗配置
type Config struct {
	CheckInterval     time.Duration
	StaleThreshold    time.Duration
	FailureThreshold  int // 连续停滞多少次判定为不健康
	RecoveryThreshold int // 连续正常多少次判定为恢复
}

func (c *Config) normalize() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 60 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = 2
	}
}

type health struct {
	failures   int
	recoveries int
	unhealthy  bool
}

// Watchdog 巡检 Open 通道的最近收帧时间，长时间无数据则触发重连。
type Watchdog struct {
	cfg     Config
	targets []Target
	hooks   Hooks

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	health map[gateway.Kind]*health
}

// New 创建看门狗
func New(cfg Config, hooks Hooks, targets ...Target) *Watchdog {
	cfg.normalize()
	w := &Watchdog{
		cfg:     cfg,
		targets: targets,
		hooks:   hooks,
		health:  make(map[gateway.Kind]*health, len(targets)),
	}
	for _, t := range targets {
		w.health[t.Kind()] = &health{}
	}
	return w
}

// Start 启动看门狗
func (w *Watchdog) Start(ctx context.Context) {
	if w.hooks == nil || len(w.targets) == 0 {
		log.Warn().Msg("watchdog 未启用：缺少 hooks 或巡检目标")
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(childCtx)
	}()
}

// Stop 停止看门狗
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
		w.wg.Wait()
	}
}

// Unhealthy 通道当前是否被判定为不健康
func (w *Watchdog) Unhealthy(kind gateway.Kind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.health[kind]
	return ok && h.unhealthy
}

func (w *Watchdog) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.check(now)
		}
	}
}

func (w *Watchdog) check(now time.Time) {
	for _, t := range w.targets {
		kind := t.Kind()
		// 非 Open 的通道交给 supervisor，看门狗只管“连着但没数据”
		if t.State() != gateway.StateOpen {
			continue
		}
		last := t.LastMessageAt()
		if last.IsZero() {
			continue
		}
		if idle := now.Sub(last); idle > w.cfg.StaleThreshold {
			w.onStale(kind, idle)
		} else {
			w.onHealthy(kind)
		}
	}
}

func (w *Watchdog) onStale(kind gateway.Kind, idle time.Duration) {
	w.mu.Lock()
	h := w.health[kind]
	h.failures++
	h.recoveries = 0
	failures := h.failures
	becameUnhealthy := failures >= w.cfg.FailureThreshold && !h.unhealthy
	if becameUnhealthy {
		h.unhealthy = true
	}
	w.mu.Unlock()

	metrics.RecordStale(string(kind))
	log.Error().
		Str("channel", string(kind)).
		Dur("idle", idle).
		Dur("stale_threshold", w.cfg.StaleThreshold).
		Int("consecutive", failures).
		Msg("WebSocket长时间无数据，触发重连")
	w.hooks.ForceReconnect(kind, "ws_stale")
	if becameUnhealthy {
		log.Error().Str("channel", string(kind)).Msg("WebSocket连续停滞，标记为不健康")
	}
}

func (w *Watchdog) onHealthy(kind gateway.Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := w.health[kind]
	h.failures = 0
	if !h.unhealthy {
		return
	}
	h.recoveries++
	if h.recoveries >= w.cfg.RecoveryThreshold {
		h.unhealthy = false
		h.recoveries = 0
		log.Info().Str("channel", string(kind)).Msg("WebSocket恢复")
	}
}
