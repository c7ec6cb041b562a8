package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Setter is the slice of a redis client the mirror needs.
type Setter interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Mirror copies the latest summary into redis under one key with a TTL so
// external dashboards can read it without connecting to the bot.
type Mirror struct {
	client Setter
	key    string
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisMirror(ctx context.Context, url, key string, ttl time.Duration, log *zap.Logger) (*Mirror, *redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewMirror(client, key, ttl, log), client, nil
}

func NewMirror(client Setter, key string, ttl time.Duration, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{client: client, key: key, ttl: ttl, log: log}
}

func (m *Mirror) Store(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key, payload, m.ttl).Err()
}

// Run mirrors every summary event until ctx ends or the subscription closes.
func (m *Mirror) Run(ctx context.Context, sub *Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Type != EventSummary {
				continue
			}
			if err := m.Store(ctx, ev); err != nil {
				m.log.Warn("redis summary mirror failed", zap.Error(err))
			}
		}
	}
}
