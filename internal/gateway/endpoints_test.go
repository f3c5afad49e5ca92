package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoints(t *testing.T) {
	tests := []struct {
		network string
		public  string
		private string
	}{
		{
			network: NetworkMainnet,
			public:  "wss://ws-evm.orderly.org/ws/stream/0xabc",
			private: "wss://ws-private-evm.orderly.org/v2/ws/private/stream/0xabc",
		},
		{
			network: "TESTNET",
			public:  "wss://testnet-ws-evm.orderly.org/ws/stream/0xabc",
			private: "wss://testnet-ws-private-evm.orderly.org/v2/ws/private/stream/0xabc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			pub, err := PublicEndpoint(tt.network, "0xabc")
			require.NoError(t, err)
			assert.Equal(t, tt.public, pub)

			priv, err := PrivateEndpoint(tt.network, "0xabc")
			require.NoError(t, err)
			assert.Equal(t, tt.private, priv)
		})
	}

	_, err := PublicEndpoint("devnet", "0xabc")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
	_, err = PrivateEndpoint("", "0xabc")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestNewConnectionConfig(t *testing.T) {
	cfg, err := NewConnectionConfig(NetworkMainnet, "0xabc", "ed25519:pub", "ed25519:secret")
	require.NoError(t, err)
	assert.Equal(t, DefaultPingInterval, cfg.PingInterval)
	assert.Equal(t, "wss://ws-evm.orderly.org/ws/stream/0xabc", cfg.PublicURL)

	_, err = NewConnectionConfig(NetworkMainnet, "", "", "ed25519:secret")
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "account_id, orderly_key")

	_, err = NewConnectionConfig("devnet", "0xabc", "k", "s")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestConnectionConfigOverrides(t *testing.T) {
	cfg := ConnectionConfig{
		NetworkID:    "devnet",
		AccountID:    "0xabc",
		PublicKey:    "k",
		PrivateKey:   "s",
		PublicURL:    "ws://127.0.0.1:1/public",
		PrivateURL:   "ws://127.0.0.1:1/private",
		PingInterval: 250 * time.Millisecond,
	}
	require.NoError(t, cfg.resolve())
	assert.Equal(t, "ws://127.0.0.1:1/public", cfg.PublicURL)
	assert.Equal(t, "ws://127.0.0.1:1/private", cfg.PrivateURL)
	assert.Equal(t, 250*time.Millisecond, cfg.PingInterval)
}
