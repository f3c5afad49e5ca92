package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/newplayman/orderly-stream/internal/config"
	"github.com/newplayman/orderly-stream/internal/gateway"
	"github.com/newplayman/orderly-stream/internal/metrics"
	"github.com/newplayman/orderly-stream/internal/supervisor"
	"github.com/newplayman/orderly-stream/internal/watchdog"
)

var (
	configFile = pflag.StringP("config", "c", "config.yaml", "配置文件路径")
	envFile    = pflag.String("env-file", ".env", "密钥环境变量文件（不存在时忽略）")
	logLevel   = pflag.StringP("log", "l", "", "日志级别 (debug, info, warn, error)，覆盖配置文件")
	publicOnly = pflag.Bool("public-only", false, "只连接公共行情流")
)

func main() {
	pflag.Parse()

	// 设置日志
	setupLogger(*logLevel)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", *envFile).Msg("加载 env 文件失败")
	}

	// 加载配置
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}
	if *logLevel == "" {
		config.ApplyLogLevel(cfg.LogLevel)
	}

	log.Info().
		Str("network", cfg.NetworkID).
		Str("account", cfg.AccountID).
		Int("public_topics", len(cfg.PublicTopics)).
		Int("private_topics", len(cfg.PrivateTopics)).
		Dur("ping_interval", cfg.GetPingInterval()).
		Msg("orderly-stream 启动中...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动Prometheus监控
	if cfg.MetricsPort > 0 {
		port, err := metrics.StartMetricsServer(cfg.MetricsPort)
		if err != nil {
			log.Error().Err(err).Msg("启动监控服务器失败")
		} else {
			log.Info().Int("port", port).Msg("监控服务器已启动")
		}
	}

	// 状态回调在 Connect 之前注册完成，之后只读
	sups := make(map[gateway.Kind]*supervisor.Supervisor, 2)
	onState := func(kind gateway.Kind, from, to gateway.State, err error) {
		log.Info().Str("channel", string(kind)).Str("from", from.String()).Str("to", to.String()).Msg("通道状态变化")
		if s, ok := sups[kind]; ok {
			s.Notify(kind, from, to, err)
		}
	}

	mgr, err := gateway.NewManager(cfg.ConnectionConfig(),
		gateway.WithLogger(log.Logger),
		gateway.WithStateHandler(onState),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("创建连接管理器失败")
	}
	defer mgr.Close()

	channels := []*gateway.Channel{mgr.Public()}
	if !*publicOnly {
		channels = append(channels, mgr.Private())
	}

	if cfg.Reconnect.Enabled {
		for _, ch := range channels {
			sups[ch.Kind()] = supervisor.New(ch, supervisor.Config{
				InitialInterval: cfg.Reconnect.InitialInterval(),
				MaxInterval:     cfg.Reconnect.MaxInterval(),
				Multiplier:      cfg.Reconnect.Multiplier,
				MaxElapsedTime:  cfg.Reconnect.MaxElapsed(),
			})
		}
	}
	defer func() {
		for _, s := range sups {
			s.Stop()
		}
	}()

	mgr.SetMessageCallback(logMessage)
	mgr.SetPrivateMessageCallback(logMessage)

	topics := newTopicSet(mgr)
	topics.sync(cfg.PublicTopics, cfg.PrivateTopics)
	config.OnReload(func(c *config.Config) {
		topics.sync(c.PublicTopics, c.PrivateTopics)
	})

	for _, ch := range channels {
		if err := ch.Connect(ctx); err != nil {
			// 拨号失败时通道已进入 Closed，supervisor 会接手重连
			log.Error().Err(err).Str("channel", string(ch.Kind())).Msg("连接失败")
		}
	}

	if cfg.Watchdog.Enabled {
		targets := make([]watchdog.Target, 0, len(channels))
		for _, ch := range channels {
			targets = append(targets, ch)
		}
		wd := watchdog.New(watchdog.Config{
			CheckInterval:  cfg.Watchdog.CheckInterval(),
			StaleThreshold: cfg.Watchdog.StaleThreshold(),
		}, watchdog.HookFunc(func(kind gateway.Kind, reason string) {
			if s, ok := sups[kind]; ok {
				s.TriggerReconnect(reason)
			}
		}), targets...)
		wd.Start(ctx)
		defer wd.Stop()
	}

	log.Info().Msg("orderly-stream 启动完成")

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info().Msg("收到退出信号，正在关闭...")
	cancel()
}

func logMessage(msg gateway.Message) {
	log.Debug().
		Str("channel", string(msg.Channel)).
		Str("session", msg.SessionID).
		Str("topic", msg.Topic()).
		Str("event", msg.Event()).
		RawJSON("data", msg.Raw).
		Msg("收到消息")
}

// setupLogger 设置日志
func setupLogger(level string) {
	// 设置日志格式为人类可读的格式
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})
	config.ApplyLogLevel(level)
}
