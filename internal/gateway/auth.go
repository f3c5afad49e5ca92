package gateway

import (
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/newplayman/orderly-stream/internal/signer"
)

// 可覆盖的时间函数，便于测试。
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// CredentialProvider 从私钥材料派生签名密钥对。
type CredentialProvider interface {
	DeriveKeyPair(material string) (signer.Signer, error)
}

// OrderlyAuth 生成私有通道的 auth 帧：对毫秒时间戳签名。
type OrderlyAuth struct {
	Provider   CredentialProvider
	PublicKey  string
	PrivateKey string
	RequestID  string
}

// NewOrderlyAuth 使用连接配置里的 orderly_key / orderly_secret。
func NewOrderlyAuth(provider CredentialProvider, cfg ConnectionConfig) *OrderlyAuth {
	return &OrderlyAuth{
		Provider:   provider,
		PublicKey:  cfg.PublicKey,
		PrivateKey: cfg.PrivateKey,
		RequestID:  AuthRequestID,
	}
}

// Handshake 每次 open 都重新取时间戳、派生密钥并签名。
// 派生或签名失败时不产生帧。
func (a *OrderlyAuth) Handshake() ([]byte, error) {
	if a.Provider == nil {
		return nil, ErrNoCredentials
	}
	timestamp := strconv.FormatInt(timeNowMillis(), 10)

	kp, err := a.Provider.DeriveKeyPair(a.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("derive orderly key pair: %w", err)
	}
	sign, err := kp.Sign([]byte(timestamp))
	if err != nil {
		return nil, fmt.Errorf("sign auth timestamp: %w", err)
	}

	id := a.RequestID
	if id == "" {
		id = AuthRequestID
	}
	return json.Marshal(authFrame{
		ID:    id,
		Event: "auth",
		Params: authParams{
			OrderlyKey: a.PublicKey,
			Sign:       sign,
			Timestamp:  timestamp,
		},
	})
}
