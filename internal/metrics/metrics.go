package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// 出站帧
	FramesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderly_ws_frames_sent_total",
			Help: "已发送帧数（按类型: subscribe/auth/heartbeat/pong_reply）",
		},
		[]string{"channel", "type"},
	)

	SendSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderly_ws_send_skipped_total",
			Help: "连接未打开而跳过的发送次数",
		},
		[]string{"channel", "type"},
	)

	// 入站帧
	FramesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderly_ws_frames_received_total",
			Help: "已接收帧数",
		},
		[]string{"channel"},
	)

	BytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderly_ws_bytes_received_total",
			Help: "WebSocket接收字节数（下行流量）",
		},
		[]string{"channel"},
	)

	ParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderly_ws_parse_errors_total",
			Help: "无法解析为 JSON 的入站帧",
		},
		[]string{"channel"},
	)

	// 连接状态
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderly_ws_connection_state",
			Help: "通道状态 (0=idle, 1=connecting, 2=open, 3=closed)",
		},
		[]string{"channel"},
	)

	Subscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderly_ws_subscriptions",
			Help: "当前跟踪的订阅数",
		},
		[]string{"channel"},
	)

	TransportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderly_ws_transport_errors_total",
			Help: "传输层错误（拨号失败/读写失败/异常关闭）",
		},
		[]string{"channel"},
	)

	AuthResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderly_ws_auth_total",
			Help: "auth 握手结果 (sent/sign_error/ack_ok/ack_failed)",
		},
		[]string{"result"},
	)

	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderly_ws_reconnects_total",
			Help: "supervisor 发起的重连次数",
		},
		[]string{"channel", "status"},
	)

	StaleDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderly_ws_stale_total",
			Help: "watchdog 检测到的无数据通道次数",
		},
		[]string{"channel"},
	)
)

func init() {
	// 注册所有指标
	prometheus.MustRegister(
		FramesSent,
		SendSkipped,
		FramesReceived,
		BytesReceived,
		ParseErrors,
		ConnectionState,
		Subscriptions,
		TransportErrors,
		AuthResults,
		Reconnects,
		StaleDetected,
	)
}

// StartMetricsServer 启动Prometheus监控服务器，并返回实际监听端口
func StartMetricsServer(port int) (int, error) {
	if port < 0 {
		port = 0
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s failed: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	log.Info().Int("port", actualPort).Msg("启动Prometheus监控服务器")

	go func() {
		if err := http.Serve(listener, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Prometheus服务器启动失败")
		}
	}()

	return actualPort, nil
}

// RecordFrameSent 记录出站帧
func RecordFrameSent(channel, frameType string) {
	FramesSent.WithLabelValues(channel, frameType).Inc()
}

// RecordSendSkipped 记录因未连接跳过的发送
func RecordSendSkipped(channel, frameType string) {
	SendSkipped.WithLabelValues(channel, frameType).Inc()
}

// RecordFrameReceived 记录入站帧及字节数
func RecordFrameReceived(channel string, size int) {
	FramesReceived.WithLabelValues(channel).Inc()
	BytesReceived.WithLabelValues(channel).Add(float64(size))
}

// RecordParseError 记录解析失败
func RecordParseError(channel string) {
	ParseErrors.WithLabelValues(channel).Inc()
}

// RecordTransportError 记录传输层错误
func RecordTransportError(channel string) {
	TransportErrors.WithLabelValues(channel).Inc()
}

// SetConnectionState 更新通道状态
func SetConnectionState(channel string, state int) {
	ConnectionState.WithLabelValues(channel).Set(float64(state))
}

// SetSubscriptions 更新订阅数量
func SetSubscriptions(channel string, n int) {
	Subscriptions.WithLabelValues(channel).Set(float64(n))
}

// RecordAuth 记录 auth 结果
func RecordAuth(result string) {
	AuthResults.WithLabelValues(result).Inc()
}

// RecordReconnect 记录重连
func RecordReconnect(channel, status string) {
	Reconnects.WithLabelValues(channel, status).Inc()
}

// RecordStale 记录无数据告警
func RecordStale(channel string) {
	StaleDetected.WithLabelValues(channel).Inc()
}
