package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/newplayman/orderly-stream/internal/gateway"
)

type recordingSubscriber struct {
	calls   []string
	fail    string
	failErr error
}

func (r *recordingSubscriber) record(op string, sub interface{}) error {
	topic := sub.(gateway.TopicSubscription).Topic
	if topic == r.fail && op == "sub" {
		return r.failErr
	}
	r.calls = append(r.calls, op+" "+topic)
	return nil
}

func (r *recordingSubscriber) Subscribe(sub interface{}) error   { return r.record("sub", sub) }
func (r *recordingSubscriber) Unsubscribe(sub interface{}) error { return r.record("unsub", sub) }
func (r *recordingSubscriber) SubscribePrivate(sub interface{}) error {
	return r.record("sub-private", sub)
}
func (r *recordingSubscriber) UnsubscribePrivate(sub interface{}) error {
	return r.record("unsub-private", sub)
}

func TestTopicSetSync(t *testing.T) {
	rec := &recordingSubscriber{}
	ts := newTopicSet(rec)

	ts.sync([]string{"PERP_ETH_USDC@bbo"}, []string{"executionreport"})
	assert.Equal(t, []string{"sub PERP_ETH_USDC@bbo", "sub-private executionreport"}, rec.calls)

	rec.calls = nil
	ts.sync([]string{"PERP_ETH_USDC@bbo", "PERP_BTC_USDC@bbo"}, nil)
	assert.ElementsMatch(t, []string{"sub PERP_BTC_USDC@bbo", "unsub-private executionreport"}, rec.calls)

	rec.calls = nil
	ts.sync([]string{"PERP_ETH_USDC@bbo", "PERP_BTC_USDC@bbo"}, nil)
	assert.Empty(t, rec.calls)
}

func TestTopicSetRetriesInvalidSubscribe(t *testing.T) {
	rec := &recordingSubscriber{fail: "bad", failErr: fmt.Errorf("%w: boom", gateway.ErrInvalidSubscription)}
	ts := newTopicSet(rec)

	ts.sync([]string{"bad"}, nil)
	assert.Empty(t, rec.calls)

	rec.fail = ""
	ts.sync([]string{"bad"}, nil)
	assert.Equal(t, []string{"sub bad"}, rec.calls)
}

func TestTopicSetKeepsTopicAfterSendFailure(t *testing.T) {
	rec := &recordingSubscriber{fail: "flaky", failErr: errors.New("write public frame: broken pipe")}
	ts := newTopicSet(rec)

	// 发送失败但通道已记录订阅，移除时必须退订
	ts.sync([]string{"flaky"}, nil)
	assert.Empty(t, rec.calls)

	ts.sync(nil, nil)
	assert.Equal(t, []string{"unsub flaky"}, rec.calls)
}

func TestTopicSetAgainstManager(t *testing.T) {
	cfg, err := gateway.NewConnectionConfig(gateway.NetworkTestnet, "0xabc", "k", "s")
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := gateway.NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ts := newTopicSet(mgr)
	ts.sync([]string{"PERP_ETH_USDC@bbo"}, []string{"executionreport", "position"})

	assert.Len(t, mgr.Public().Subscriptions(), 1)
	assert.Len(t, mgr.Private().Subscriptions(), 2)

	ts.sync(nil, []string{"position"})
	assert.Empty(t, mgr.Public().Subscriptions())
	assert.Equal(t, `{"id":"position","event":"subscribe","topic":"position"}`, string(mgr.Private().Subscriptions()[0]))
}
