package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/gamefinder/internal/model"
)

// RelayChannel はセッション変更イベントを配信するRedisチャネル名。
const RelayChannel = "gamefinder:session-events"

// relayEvent はインスタンス間で共有するセッション変更イベント。
type relayEvent struct {
	Origin  string         `json:"origin"`
	Token   string         `json:"token"`
	Session *model.Session `json:"session,omitempty"`
}

// RedisRelay は複数インスタンス間でセッション変更をRedis Pub/Subで中継する。
// 自インスタンスが発行したイベントは受信時に無視する。
type RedisRelay struct {
	client *redis.Client
	broker *Broker
	origin string
	logger *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// NewRedisRelay はRedisRelayを生成する。
func NewRedisRelay(client *redis.Client, broker *Broker, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client: client,
		broker: broker,
		origin: uuid.NewString(),
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Publish はセッション変更を他インスタンスへ配信する。
func (r *RedisRelay) Publish(ctx context.Context, token string, s *model.Session) error {
	payload, err := json.Marshal(relayEvent{Origin: r.origin, Token: token, Session: s})
	if err != nil {
		return fmt.Errorf("failed to encode session event: %w", err)
	}
	if err := r.client.Publish(ctx, RelayChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}
	return nil
}

// Ready は購読が確立した時点でクローズされるチャネルを返す。
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run はチャネルを購読し、受信したイベントをローカルのBrokerへ転送する。
// ctxがキャンセルされるまでブロックする。
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, RelayChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe session events: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("session relay subscribed", slog.String("channel", RelayChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(msg.Payload)
		}
	}
}

func (r *RedisRelay) dispatch(payload string) {
	var ev relayEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.Warn("discarding malformed session event", slog.String("error", err.Error()))
		return
	}
	if ev.Origin == r.origin || ev.Token == "" {
		return
	}
	r.broker.Publish(ev.Token, ev.Session)
}
