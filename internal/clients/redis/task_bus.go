package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/solocore/textloom/internal/platform/envutil"
	"github.com/solocore/textloom/internal/platform/logger"
)

// TaskEvent is a progress or terminal transition mirrored onto the bus so
// interested consumers (UI pushers, audit) see updates without polling the
// store. The bus is a side channel; task correctness never depends on it.
type TaskEvent struct {
	TaskID    string `json:"task_id"`
	SubTaskID string `json:"sub_task_id,omitempty"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	At        string `json:"at"`
}

type TaskBus interface {
	Publish(ctx context.Context, event TaskEvent) error
	StartForwarder(ctx context.Context, onEvent func(e TaskEvent)) error
	Close() error
}

type taskBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewTaskBus(log *logger.Logger) (TaskBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(envutil.String("REDIS_ADDR", ""))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	channel := envutil.String("REDIS_TASK_CHANNEL", "textloom:task_events")

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &taskBus{
		log:     log.With("client", "RedisTaskBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *taskBus) Publish(ctx context.Context, event TaskEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("task bus not initialized")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *taskBus) StartForwarder(ctx context.Context, onEvent func(e TaskEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("task bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var event TaskEvent
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					b.log.Warn("bad task event payload", "error", err)
					continue
				}
				onEvent(event)
			}
		}
	}()

	return nil
}

func (b *taskBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
