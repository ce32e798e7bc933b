package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeu5/traffic-signal-rl/logging"
)

// MaxRedisEvents bounds the event list kept under the sink's key
const MaxRedisEvents = 10000

// RedisSink pushes every run event as JSON onto a redis list, newest first
type RedisSink struct {
	client *redis.Client
	key    string
}

var _ Sink = &RedisSink{}

func NewRedisSink(addr, key string) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			DialTimeout: 500 * time.Millisecond,
			MaxRetries:  -1,
		}),
		key: key,
	}
}

type redisEvent struct {
	Event   string   `json:"event"`
	Time    string   `json:"time"`
	Run     *Run     `json:"run,omitempty"`
	Episode *Episode `json:"episode,omitempty"`
	RunID   string   `json:"run_id,omitempty"`
	Status  string   `json:"status,omitempty"`
}

func (r *RedisSink) push(ctx context.Context, ev redisEvent) error {
	ev.Time = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, data)
		pipe.LTrim(ctx, r.key, 0, MaxRedisEvents-1)
		return nil
	})
	if err != nil {
		logging.Warn("Failed to push event to redis", logging.Report, "event", ev.Event, "key", r.key, "error", err)
	}
	return err
}

func (r *RedisSink) Start(ctx context.Context, run Run) error {
	return r.push(ctx, redisEvent{Event: "start", Run: &run})
}

func (r *RedisSink) Episode(ctx context.Context, ep Episode) error {
	return r.push(ctx, redisEvent{Event: "episode", Episode: &ep})
}

func (r *RedisSink) Finish(ctx context.Context, runID string, status string) error {
	return r.push(ctx, redisEvent{Event: "finish", RunID: runID, Status: status})
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
