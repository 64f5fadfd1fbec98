package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/reelworks/sportsreel-backend/internal/logger"
)

// envelope wraps a JobEvent with the publishing replica's identity so each
// bus instance can drop its own messages when they loop back in.
type envelope struct {
	Origin uuid.UUID `json:"origin"`
	JobEvent
}

type redisBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	origin uuid.UUID
}

// NewRedisBus connects to REDIS_ADDR and publishes each job's events on its
// own topic under REDIS_TOPIC_PREFIX. Consumers pattern-subscribe to the
// prefix, so a debugging `redis-cli psubscribe` on a single job topic works
// too.
func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	prefix := strings.TrimSpace(os.Getenv("REDIS_TOPIC_PREFIX"))
	if prefix == "" {
		prefix = "reel:jobs"
	}

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

	return &redisBus{
		log:    log.With("service", "RedisEventBus"),
		rdb:    rdb,
		prefix: prefix,
		origin: uuid.New(),
	}, nil
}

func (b *redisBus) topic(jobID uuid.UUID) string {
	return b.prefix + ":" + jobID.String()
}

func (b *redisBus) PublishJobEvent(ctx context.Context, ev JobEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	raw, err := json.Marshal(envelope{Origin: b.origin, JobEvent: ev})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.topic(ev.JobID), raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onEvent func(ev JobEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.PSubscribe(ctx, b.prefix+":*")

	// ensures subscription actually started
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
				var env envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.log.Warn("bad job event payload", "topic", m.Channel, "error", err)
					continue
				}
				if env.Origin == b.origin {
					continue // our own publish looping back
				}
				onEvent(env.JobEvent)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
