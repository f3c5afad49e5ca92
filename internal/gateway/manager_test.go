package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, d *fakeDialer, tf *tickerFactory, opts ...Option) *Manager {
	t.Helper()
	cfg, err := NewConnectionConfig(NetworkTestnet, "0xaccount", "ed25519:pub", "ed25519:secret")
	require.NoError(t, err)
	cfg.PingInterval = time.Second

	base := []Option{
		WithDialer(d),
		WithTickerFactory(tf.New),
		WithLogger(quietLogger),
		WithCredentialProvider(fakeProvider{}),
	}
	m, err := NewManager(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return m
}

func TestPrivateOpenSendsReplayThenAuthThenHeartbeat(t *testing.T) {
	fixNow(t, 1700000000000)
	d := &fakeDialer{}
	tf := &tickerFactory{}
	m := newTestManager(t, d, tf)

	require.NoError(t, m.SubscribePrivate(json.RawMessage(`"A"`)))
	require.NoError(t, m.ConnectPrivate(context.Background()))

	conn := d.last()
	assert.Equal(t, []string{
		`"A"`,
		`{"id":"123r","event":"auth","params":{"orderly_key":"ed25519:pub","sign":"sig-1700000000000","timestamp":"1700000000000"}}`,
	}, conn.frames())
	assert.Equal(t, time.Second, tf.intervals[0])

	// t=1000, t=2000
	tf.last().fire()
	waitFrames(t, conn, 3)
	tf.last().fire()
	frames := waitFrames(t, conn, 4)
	assert.Equal(t, `{"event":"pong"}`, frames[2])
	assert.Equal(t, `{"event":"pong"}`, frames[3])

	// t=2500 断开，t=3000 不再有帧
	m.DisconnectPrivate()
	tf.last().fire()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, conn.frames(), 4)
}

func TestPublicChannelNeverAuthenticates(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d, &tickerFactory{})

	require.NoError(t, m.Subscribe(NewTopicSubscription("", "PERP_ETH_USDC@orderbook")))
	require.NoError(t, m.Connect(context.Background()))

	frames := d.last().frames()
	require.Len(t, frames, 1)
	assert.False(t, strings.Contains(frames[0], `"auth"`))
	assert.Equal(t, `{"id":"PERP_ETH_USDC@orderbook","event":"subscribe","topic":"PERP_ETH_USDC@orderbook"}`, frames[0])
	m.Disconnect()
}

func TestChannelsAreIndependent(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d, &tickerFactory{})
	pub := &messageSink{}
	priv := &messageSink{}
	m.SetMessageCallback(pub.handle)
	m.SetPrivateMessageCallback(priv.handle)

	require.NoError(t, m.Subscribe(json.RawMessage(`{"topic":"public-only"}`)))
	require.NoError(t, m.SubscribePrivate(json.RawMessage(`{"topic":"private-only"}`)))

	require.NoError(t, m.Connect(context.Background()))
	publicConn := d.last()
	require.NoError(t, m.ConnectPrivate(context.Background()))
	privateConn := d.last()

	assert.Equal(t, []string{`{"topic":"public-only"}`}, publicConn.frames())
	assert.Equal(t, `{"topic":"private-only"}`, privateConn.frames()[0])

	publicConn.push(`{"topic":"public-only","data":{}}`)
	privateConn.push(`{"topic":"private-only","data":{}}`)
	require.Eventually(t, func() bool { return pub.count() == 1 && priv.count() == 1 }, waitFor, tickFor)
	assert.Equal(t, KindPublic, pub.all()[0].Channel)
	assert.Equal(t, KindPrivate, priv.all()[0].Channel)

	m.Disconnect()
	assert.Equal(t, StateIdle, m.Public().State())
	assert.Equal(t, StateOpen, m.Private().State())

	require.NoError(t, m.UnsubscribePrivate(json.RawMessage(`{"topic":"private-only"}`)))
	require.NoError(t, m.Unsubscribe(json.RawMessage(`{"topic":"public-only"}`)))
	assert.Empty(t, m.Public().Subscriptions())
	assert.Empty(t, m.Private().Subscriptions())

	m.Close()
	assert.Equal(t, StateIdle, m.Private().State())
}

func TestManagerStateHandler(t *testing.T) {
	d := &fakeDialer{}
	rec := &stateRecorder{}
	m := newTestManager(t, d, &tickerFactory{}, WithStateHandler(rec.handle))

	require.NoError(t, m.ConnectPrivate(context.Background()))
	m.DisconnectPrivate()
	assert.Equal(t, []string{
		"private:idle->connecting",
		"private:connecting->open",
		"private:open->idle",
	}, rec.list())
}

func TestManagerChannelLookup(t *testing.T) {
	m := newTestManager(t, &fakeDialer{}, &tickerFactory{})

	ch, err := m.Channel(KindPrivate)
	require.NoError(t, err)
	assert.Same(t, m.Private(), ch)

	_, err = m.Channel(Kind("spot"))
	assert.ErrorIs(t, err, ErrChannelNotExists)

	assert.Equal(t, "wss://testnet-ws-evm.orderly.org/ws/stream/0xaccount", m.Public().URL())
	assert.Equal(t, "wss://testnet-ws-private-evm.orderly.org/v2/ws/private/stream/0xaccount", m.Private().URL())
	assert.Equal(t, "0xaccount", m.Config().AccountID)
}

func TestNewManagerValidatesConfig(t *testing.T) {
	_, err := NewManager(ConnectionConfig{NetworkID: NetworkMainnet})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
