package main

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/orderly-stream/internal/gateway"
)

// subscriber 是 Manager 中 topicSet 用到的部分。
type subscriber interface {
	Subscribe(sub interface{}) error
	Unsubscribe(sub interface{}) error
	SubscribePrivate(sub interface{}) error
	UnsubscribePrivate(sub interface{}) error
}

// topicSet 让配置里的 topic 列表与通道订阅集合保持一致（启动及热重载时）。
type topicSet struct {
	mgr     subscriber
	mu      sync.Mutex
	public  map[string]struct{}
	private map[string]struct{}
}

func newTopicSet(mgr subscriber) *topicSet {
	return &topicSet{
		mgr:     mgr,
		public:  make(map[string]struct{}),
		private: make(map[string]struct{}),
	}
}

func (t *topicSet) sync(public, private []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.public = apply(gateway.KindPublic, t.public, public, t.mgr.Subscribe, t.mgr.Unsubscribe)
	t.private = apply(gateway.KindPrivate, t.private, private, t.mgr.SubscribePrivate, t.mgr.UnsubscribePrivate)
}

func apply(kind gateway.Kind, current map[string]struct{}, wanted []string,
	subscribe, unsubscribe func(interface{}) error) map[string]struct{} {
	next := make(map[string]struct{}, len(wanted))
	for _, topic := range wanted {
		next[topic] = struct{}{}
		if _, ok := current[topic]; ok {
			continue
		}
		if err := subscribe(gateway.NewTopicSubscription("", topic)); err != nil {
			if errors.Is(err, gateway.ErrInvalidSubscription) {
				log.Error().Err(err).Str("channel", string(kind)).Str("topic", topic).Msg("订阅无效")
				delete(next, topic)
				continue
			}
			// 发送失败时通道已记录该订阅，会在重连后重放，这里同样保留
			log.Warn().Err(err).Str("channel", string(kind)).Str("topic", topic).Msg("订阅发送失败，等待重连后重放")
			continue
		}
		log.Info().Str("channel", string(kind)).Str("topic", topic).Msg("已订阅")
	}
	for topic := range current {
		if _, ok := next[topic]; ok {
			continue
		}
		// 只移出本地集合，服务端订阅要到下次重连才失效
		if err := unsubscribe(gateway.NewTopicSubscription("", topic)); err != nil {
			log.Error().Err(err).Str("channel", string(kind)).Str("topic", topic).Msg("退订失败")
			next[topic] = struct{}{}
			continue
		}
		log.Info().Str("channel", string(kind)).Str("topic", topic).Msg("已退订")
	}
	return next
}
