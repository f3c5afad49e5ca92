package gateway

import (
	"fmt"
	"strings"
	"time"
)

// Orderly ws 端点，末尾拼接 account id。
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"

	DefaultPingInterval = 10 * time.Second
)

var (
	wsPublicURL = map[string]string{
		NetworkMainnet: "wss://ws-evm.orderly.org/ws/stream/",
		NetworkTestnet: "wss://testnet-ws-evm.orderly.org/ws/stream/",
	}
	wsPrivateURL = map[string]string{
		NetworkMainnet: "wss://ws-private-evm.orderly.org/v2/ws/private/stream/",
		NetworkTestnet: "wss://testnet-ws-private-evm.orderly.org/v2/ws/private/stream/",
	}
)

// PublicEndpoint 公共行情流地址。
func PublicEndpoint(network, accountID string) (string, error) {
	base, ok := wsPublicURL[strings.ToLower(network)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
	return base + accountID, nil
}

// PrivateEndpoint 私有账户流地址。
func PrivateEndpoint(network, accountID string) (string, error) {
	base, ok := wsPrivateURL[strings.ToLower(network)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
	return base + accountID, nil
}

// ConnectionConfig 构造后只读，由 Manager 持有。
type ConnectionConfig struct {
	NetworkID    string
	AccountID    string
	PublicKey    string // orderly_key, "ed25519:<base58>"
	PrivateKey   string // orderly_secret
	PublicURL    string
	PrivateURL   string
	PingInterval time.Duration
}

// NewConnectionConfig 解析端点并校验必填项。
func NewConnectionConfig(network, accountID, publicKey, privateKey string) (ConnectionConfig, error) {
	cfg := ConnectionConfig{
		NetworkID:    network,
		AccountID:    accountID,
		PublicKey:    publicKey,
		PrivateKey:   privateKey,
		PingInterval: DefaultPingInterval,
	}
	if err := cfg.resolve(); err != nil {
		return ConnectionConfig{}, err
	}
	return cfg, nil
}

// resolve 填充未显式指定的 URL 与默认心跳，并校验。
func (c *ConnectionConfig) resolve() error {
	var missing []string
	if c.NetworkID == "" {
		missing = append(missing, "network_id")
	}
	if c.AccountID == "" {
		missing = append(missing, "account_id")
	}
	if c.PublicKey == "" {
		missing = append(missing, "orderly_key")
	}
	if c.PrivateKey == "" {
		missing = append(missing, "orderly_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	if c.PublicURL == "" {
		u, err := PublicEndpoint(c.NetworkID, c.AccountID)
		if err != nil {
			return err
		}
		c.PublicURL = u
	}
	if c.PrivateURL == "" {
		u, err := PrivateEndpoint(c.NetworkID, c.AccountID)
		if err != nil {
			return err
		}
		c.PrivateURL = u
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	return nil
}
